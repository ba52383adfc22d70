package classification

import (
	"context"
	"time"

	"github.com/lambdazy/crowdom-sub001/internal/logging"
	"github.com/lambdazy/crowdom-sub001/internal/signals"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// Recorder persists iteration reports.
type Recorder interface {
	Record(ctx context.Context, r models.IterationReport) error
}

// Option configures a Loop. Use With* functions to create Options.
type Option func(*Options)

// Options is the resolved option set of a loop.
type Options struct {
	// Label names the loop in reports and logs; defaults to "classification".
	Label         string
	Logger        *logging.Logger
	Recorder      Recorder
	Pause         *signals.PauseController
	PollInterval  time.Duration
	MaxIterations int
	Now           func() time.Time
}

// WithLabel names the loop in reports and logs.
func WithLabel(label string) Option {
	return func(o *Options) { o.Label = label }
}

// WithLogger sets the debug logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithRecorder persists every iteration report.
func WithRecorder(r Recorder) Option {
	return func(o *Options) { o.Recorder = r }
}

// WithPauseController lets signal files pause or stop Run between iterations.
func WithPauseController(p *signals.PauseController) Option {
	return func(o *Options) { o.Pause = p }
}

// WithPollInterval sets how long Run waits after an iteration that fetched nothing.
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) { o.PollInterval = d }
}

// WithMaxIterations bounds Run; zero means no bound.
func WithMaxIterations(n int) Option {
	return func(o *Options) { o.MaxIterations = n }
}

// WithClock sets the reference time for restrictions and reports.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// NewOptions resolves opts over the defaults. Loops composed of other loops
// use it to read the settings they share.
func NewOptions(opts ...Option) Options {
	o := Options{Label: "classification", PollInterval: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Pause == nil {
		o.Pause = signals.NewPauseController()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
