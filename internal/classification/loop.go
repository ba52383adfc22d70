package classification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lambdazy/crowdom-sub001/internal/control"
	"github.com/lambdazy/crowdom-sub001/internal/evaluation"
	"github.com/lambdazy/crowdom-sub001/internal/logging"
	"github.com/lambdazy/crowdom-sub001/internal/store"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// ErrIterationLimit is returned by Run when the iteration bound is reached
// before the pool closed.
var ErrIterationLimit = errors.New("iteration limit reached")

// Loop drives one classification pool. A Loop must not be stepped concurrently.
type Loop struct {
	store    store.Store
	cfg      Config
	opts     Options
	log      *logging.Logger
	strategy *evaluation.ControlTaskStrategy
	// accuracy holds the rules applied after scoring.
	accuracy control.Control

	// filtered remembers submissions the prior filter already saw.
	filtered  map[string]struct{}
	iteration int
}

// New validates cfg and creates a loop over st.
func New(st store.Store, cfg Config, opts ...Option) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := NewOptions(opts...)
	log := o.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Loop{
		store:    st,
		cfg:      cfg,
		opts:     o,
		log:      log.With(fmt.Sprintf("[%s pool=%s]", o.Label, cfg.PoolID)),
		strategy: evaluation.NewControlTaskStrategy(cfg.ControlTasks, cfg.Tasks),
		accuracy: cfg.Control.Exclude(control.KindDuration),
		filtered: make(map[string]struct{}),
	}, nil
}

// Name identifies the loop in logs and journals.
func (l *Loop) Name() string {
	return l.opts.Label + ":" + l.cfg.PoolID
}

// Config returns the pool configuration.
func (l *Loop) Config() Config {
	return l.cfg
}

// Setup adds the configured tasks to the pool. Control tasks are added with
// overlap 0 so they never keep the pool open. Setup is idempotent.
func (l *Loop) Setup(ctx context.Context) error {
	if err := l.store.AddTasks(ctx, l.cfg.PoolID, l.cfg.Tasks, l.cfg.Overlap.Initial()); err != nil {
		return fmt.Errorf("add tasks: %w", err)
	}
	if len(l.cfg.ControlTasks) > 0 {
		tasks := make([]models.Task, len(l.cfg.ControlTasks))
		for i, ct := range l.cfg.ControlTasks {
			tasks[i] = ct.Task
		}
		if err := l.store.AddTasks(ctx, l.cfg.PoolID, tasks, 0); err != nil {
			return fmt.Errorf("add control tasks: %w", err)
		}
	}
	return nil
}

// AddTasks adds real tasks to the pool while it runs, with the policy's initial overlap.
func (l *Loop) AddTasks(ctx context.Context, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	if err := l.store.AddTasks(ctx, l.cfg.PoolID, tasks, l.cfg.Overlap.Initial()); err != nil {
		return fmt.Errorf("add tasks: %w", err)
	}
	l.strategy.AddTasks(tasks...)
	return nil
}

// Step runs one iteration: filter, evaluate and apply rules, then raise overlap.
// Store failures abort the iteration and are returned unchanged in kind.
func (l *Loop) Step(ctx context.Context) (models.IterationReport, error) {
	l.iteration++
	report := models.IterationReport{
		Loop:      l.opts.Label,
		PoolID:    l.cfg.PoolID,
		Iteration: l.iteration,
		At:        l.opts.Now(),
	}
	env := control.Env{Store: l.store, Now: report.At}

	if err := l.syncTasks(ctx); err != nil {
		return report, err
	}

	subs, err := l.store.FetchSubmissions(ctx, l.cfg.PoolID, models.StatusSubmitted)
	if err != nil {
		return report, fmt.Errorf("fetch submissions: %w", err)
	}
	report.Fetched = len(subs)
	l.log.Log("iteration %d: %d submitted", l.iteration, len(subs))

	fresh, seen := l.splitFiltered(subs)
	fr, err := PriorFilter(ctx, env, fresh, l.cfg.Control, l.cfg.TaskDurationHint)
	report.Filtered, report.Restricted = fr.Rejected, fr.Restricted
	for _, key := range fr.Handled {
		l.filtered[key] = struct{}{}
	}
	if err != nil {
		return report, err
	}
	if fr.Rejected > 0 {
		l.log.Log("prior filter rejected %d submissions", fr.Rejected)
	}

	results, err := evaluation.EvaluateAndApply(ctx, l.store, append(seen, fr.Kept...), l.strategy, l.accuracy, l.cfg.MinAccuracy)
	Tally(&report, results)
	if err != nil {
		return report, err
	}
	if err := evaluation.Inconsistencies(results); err != nil {
		l.log.Log("skipped submissions: %v", err)
	}

	raised, err := l.raiseOverlap(ctx)
	report.Raised = raised
	if err != nil {
		return report, err
	}

	closed, err := l.store.IsPoolClosed(ctx, l.cfg.PoolID)
	if err != nil {
		return report, fmt.Errorf("check pool: %w", err)
	}
	if closed && raised == 0 {
		// submissions that arrived during this iteration keep the pool open
		left, err := Unsettled(ctx, l.store, l.cfg.PoolID, results)
		if err != nil {
			return report, err
		}
		report.Closed = left == 0
	}
	l.log.Log("iteration %d: accepted %d, rejected %d, raised %d, closed %v",
		l.iteration, report.Accepted, report.Rejected, report.Raised, report.Closed)

	if l.opts.Recorder != nil {
		if err := l.opts.Recorder.Record(ctx, report); err != nil {
			l.log.Log("record iteration: %v", err)
		}
	}
	return report, nil
}

// Iterate runs one Step and reports whether the pool is done.
func (l *Loop) Iterate(ctx context.Context) (bool, error) {
	report, err := l.Step(ctx)
	return report.Closed, err
}

// Run sets the pool up and steps it until it closes. Between iterations it
// honours the pause controller; an iteration that fetched nothing is followed
// by the poll interval.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Setup(ctx); err != nil {
		return err
	}
	for {
		if err := l.opts.Pause.WaitIfPaused(ctx); err != nil {
			return err
		}
		report, err := l.Step(ctx)
		if err != nil {
			return err
		}
		if report.Closed {
			l.log.Log("pool closed after %d iterations", l.iteration)
			return nil
		}
		if l.opts.MaxIterations > 0 && l.iteration >= l.opts.MaxIterations {
			return fmt.Errorf("pool %s: %w", l.cfg.PoolID, ErrIterationLimit)
		}
		if report.Fetched == 0 {
			if err := Sleep(ctx, l.opts.PollInterval); err != nil {
				return err
			}
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Unsettled counts the submissions of a pool still waiting for a decision,
// leaving out those skipped in results as inconsistent.
func Unsettled(ctx context.Context, st store.Reader, poolID string, results []evaluation.Result) (int, error) {
	subs, err := st.FetchSubmissions(ctx, poolID, models.StatusSubmitted)
	if err != nil {
		return 0, fmt.Errorf("fetch submissions: %w", err)
	}
	skipped := make(map[string]struct{})
	for _, r := range results {
		if r.Err != nil {
			skipped[r.Submission.Key()] = struct{}{}
		}
	}
	n := 0
	for _, s := range subs {
		if _, ok := skipped[s.Key()]; !ok {
			n++
		}
	}
	return n, nil
}

// Tally adds evaluation results to a report.
func Tally(report *models.IterationReport, results []evaluation.Result) {
	for _, r := range results {
		if r.Err != nil {
			report.DataErrors++
			continue
		}
		if r.Submission.Status == models.StatusSubmitted {
			switch r.Status {
			case models.StatusAccepted:
				report.Accepted++
			case models.StatusRejected:
				report.Rejected++
			}
		}
		report.Restricted += issued(r.Outcomes, control.ActionBlock)
		report.Bonuses += len(r.Bonuses)
	}
}

// splitFiltered separates submissions the filter has not seen yet.
func (l *Loop) splitFiltered(subs []models.Submission) (fresh, seen []models.Submission) {
	for _, s := range subs {
		if _, ok := l.filtered[s.Key()]; ok {
			seen = append(seen, s)
		} else {
			fresh = append(fresh, s)
		}
	}
	return fresh, seen
}

// syncTasks registers tasks added to the pool by other processes.
func (l *Loop) syncTasks(ctx context.Context) error {
	tasks, err := l.store.PoolTasks(ctx, l.cfg.PoolID)
	if err != nil {
		return fmt.Errorf("pool tasks: %w", err)
	}
	for _, pt := range tasks {
		if !l.strategy.IsControl(pt.Task.ID()) {
			l.strategy.AddTasks(pt.Task)
		}
	}
	return nil
}

// raiseOverlap asks the store for more answers where the policy wants them.
func (l *Loop) raiseOverlap(ctx context.Context) (int, error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	increases := l.cfg.Overlap.Increases(snap.States, snap.Weights)
	ids := make([]string, 0, len(increases))
	for id := range increases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	current := make(map[string]int, len(snap.States))
	for _, s := range snap.States {
		current[s.TaskID] = s.Overlap
	}
	for _, id := range ids {
		target := current[id] + increases[id]
		if err := l.store.RaiseTaskOverlap(ctx, l.cfg.PoolID, id, target); err != nil {
			return 0, fmt.Errorf("raise overlap of %s: %w", id, err)
		}
		l.log.Log("task %s overlap %d -> %d", id, current[id], target)
	}
	return len(ids), nil
}
