// Package driver runs the loops of several pools at once, either to
// completion or one iteration per cron tick, and journals every run.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/lambdazy/crowdom-sub001/internal/classification"
	"github.com/lambdazy/crowdom-sub001/internal/journal"
	"github.com/lambdazy/crowdom-sub001/internal/logging"
	"github.com/lambdazy/crowdom-sub001/internal/signals"
)

// Loop is a pool workflow. classification.Loop and feedback.Loop implement it.
type Loop interface {
	Name() string
	Setup(ctx context.Context) error
	// Run sets up and steps the loop until it is done.
	Run(ctx context.Context) error
	// Iterate runs a single step and reports whether the loop is done.
	Iterate(ctx context.Context) (bool, error)
}

// Job describes one loop to drive.
type Job struct {
	// Kind is journaled with the run, e.g. "classification" or "feedback".
	Kind  string
	Pools []string
	// Build creates the loop. rec is nil when no journal is configured.
	Build func(rec classification.Recorder) (Loop, error)
}

// Driver runs jobs. A Driver may be reused for several RunAll or Schedule calls.
type Driver struct {
	journal     *journal.Journal
	log         *logging.Logger
	pause       *signals.PauseController
	parallelism int
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// WithPauseController makes scheduled ticks honour pause and stop signals.
func WithPauseController(p *signals.PauseController) Option {
	return func(d *Driver) { d.pause = p }
}

// WithParallelism bounds the number of loops RunAll runs at once.
func WithParallelism(n int) Option {
	return func(d *Driver) { d.parallelism = n }
}

// New creates a Driver. j may be nil, in which case nothing is journaled.
func New(j *journal.Journal, opts ...Option) *Driver {
	d := &Driver{journal: j, parallelism: 4}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logging.Nop()
	}
	d.log = d.log.With("[driver]")
	if d.parallelism < 1 {
		d.parallelism = 1
	}
	return d
}

// RunAll runs every job to completion. The first failing job cancels the
// others; its error is returned.
func (d *Driver) RunAll(ctx context.Context, jobs []Job) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			r, err := d.start(ctx, job)
			if err != nil {
				return err
			}
			err = r.loop.Run(ctx)
			d.finish(ctx, r, err)
			if err != nil {
				return fmt.Errorf("%s: %w", r.loop.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// run is a started job.
type run struct {
	id   string
	loop Loop
	// ended is set once a scheduled run is unscheduled; late ticks skip it.
	ended atomic.Bool
}

// start journals a new run and builds its loop.
func (d *Driver) start(ctx context.Context, job Job) (*run, error) {
	r := &run{}
	var rec classification.Recorder
	if d.journal != nil {
		jr, err := d.journal.StartRun(ctx, job.Kind, job.Pools...)
		if err != nil {
			return nil, fmt.Errorf("journal run: %w", err)
		}
		r.id = jr.ID
		rec = d.journal.Recorder(jr.ID)
	}
	loop, err := job.Build(rec)
	if err != nil {
		d.finish(ctx, r, err)
		return nil, err
	}
	r.loop = loop
	d.log.Log("started %s (run %s)", loop.Name(), shortID(r.id))
	return r, nil
}

// finish journals how a run ended. It uses a context detached from
// cancellation so canceled runs are still recorded.
func (d *Driver) finish(ctx context.Context, r *run, err error) {
	status := Status(err)
	if r.loop != nil {
		d.log.Log("%s %s: %v", r.loop.Name(), status, err)
	}
	if d.journal == nil || r.id == "" {
		return
	}
	if ferr := d.journal.FinishRun(context.WithoutCancel(ctx), r.id, status, err); ferr != nil {
		d.log.Log("finish run %s: %v", r.id, ferr)
	}
}

// Status maps a loop's result to a journal run status.
func Status(err error) string {
	switch {
	case err == nil:
		return journal.StatusCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, signals.ErrStopped):
		return journal.StatusCanceled
	default:
		return journal.StatusFailed
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
