package feedback

import (
	"context"
	"fmt"

	"github.com/lambdazy/crowdom-sub001/internal/classification"
	"github.com/lambdazy/crowdom-sub001/internal/control"
	"github.com/lambdazy/crowdom-sub001/internal/evaluation"
	"github.com/lambdazy/crowdom-sub001/internal/logging"
	"github.com/lambdazy/crowdom-sub001/internal/store"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// Report summarises one feedback iteration.
type Report struct {
	Markup models.IterationReport
	Check  models.IterationReport
	// Closed is true once both pools are done and every markup task is finalized.
	Closed bool
}

// Loop drives a markup pool and its check pool. A Loop must not be stepped concurrently.
type Loop struct {
	store    store.Store
	cfg      Config
	opts     classification.Options
	log      *logging.Logger
	check    *classification.Loop
	accuracy control.Control
	bonus    control.Control

	filtered  map[string]struct{}
	// sent holds markup submissions whose solutions reached the check pool.
	sent      map[string]struct{}
	iteration int
}

// New validates cfg and creates a loop over st. The options apply to the
// feedback loop and to the check pool it steps.
func New(st store.Store, cfg Config, opts ...classification.Option) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bonus, err := cfg.bonusControl()
	if err != nil {
		return nil, err
	}
	checkOpts := append(append([]classification.Option(nil), opts...), classification.WithLabel("check"))
	check, err := classification.New(st, cfg.Check, checkOpts...)
	if err != nil {
		return nil, fmt.Errorf("check pool: %w", err)
	}
	o := classification.NewOptions(opts...)
	log := o.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Loop{
		store:    st,
		cfg:      cfg,
		opts:     o,
		log:      log.With(fmt.Sprintf("[feedback markup=%s check=%s]", cfg.Markup.PoolID, cfg.Check.PoolID)),
		check:    check,
		accuracy: cfg.Markup.Control.Exclude(control.KindDuration),
		bonus:    bonus,
		filtered: make(map[string]struct{}),
		sent:     make(map[string]struct{}),
	}, nil
}

// Name identifies the loop in logs and journals.
func (l *Loop) Name() string {
	return "feedback:" + l.cfg.Markup.PoolID + "/" + l.cfg.Check.PoolID
}

// Setup adds the markup tasks with one requested attempt each and sets up the check pool.
func (l *Loop) Setup(ctx context.Context) error {
	if err := l.store.AddTasks(ctx, l.cfg.Markup.PoolID, l.cfg.Markup.Tasks, 1); err != nil {
		return fmt.Errorf("add markup tasks: %w", err)
	}
	return l.check.Setup(ctx)
}

// Step runs one iteration over both pools:
//  1. filter new markup submissions by speed and send their solutions to the check pool
//  2. step the check pool
//  3. accept or reject markup submissions whose solutions are all checked, paying bonuses
//  4. finalize markup tasks and ask for another attempt where needed
func (l *Loop) Step(ctx context.Context) (Report, error) {
	l.iteration++
	now := l.opts.Now()
	rep := Report{Markup: models.IterationReport{
		Loop:      "markup",
		PoolID:    l.cfg.Markup.PoolID,
		Iteration: l.iteration,
		At:        now,
	}}
	env := control.Env{Store: l.store, Now: now}

	subs, err := l.store.FetchSubmissions(ctx, l.cfg.Markup.PoolID, models.StatusSubmitted)
	if err != nil {
		return rep, fmt.Errorf("fetch markup submissions: %w", err)
	}
	rep.Markup.Fetched = len(subs)

	var fresh, waiting []models.Submission
	for _, s := range subs {
		if _, ok := l.filtered[s.Key()]; ok {
			waiting = append(waiting, s)
		} else {
			fresh = append(fresh, s)
		}
	}
	fr, err := classification.PriorFilter(ctx, env, fresh, l.cfg.Markup.Control, l.cfg.Markup.TaskDurationHint)
	rep.Markup.Filtered, rep.Markup.Restricted = fr.Rejected, fr.Restricted
	for _, key := range fr.Handled {
		l.filtered[key] = struct{}{}
	}
	if err != nil {
		return rep, err
	}
	waiting = append(waiting, fr.Kept...)
	if err := l.sendToCheck(ctx, waiting); err != nil {
		return rep, err
	}

	rep.Check, err = l.check.Step(ctx)
	if err != nil {
		return rep, fmt.Errorf("check pool: %w", err)
	}

	v, err := l.view(ctx)
	if err != nil {
		return rep, err
	}
	var ready []models.Submission
	for _, s := range waiting {
		if fullyChecked(s, v.evals) {
			ready = append(ready, s)
		}
	}
	results, err := evaluation.EvaluateAndApply(ctx, l.store, ready, evaluation.CheckStrategy{Evaluations: v.evals}, l.accuracy, l.cfg.Markup.MinAccuracy)
	classification.Tally(&rep.Markup, results)
	if err != nil {
		return rep, err
	}
	paid, err := l.payBonuses(ctx, results)
	rep.Markup.Bonuses += paid
	if err != nil {
		return rep, err
	}

	// v predates the status changes above, which only touch fully checked submissions
	attempts := l.attempts(v)
	final := FindFinalized(attempts, l.cfg.Thresholds)
	for _, f := range final {
		if f != NotFinalized {
			rep.Markup.Finalized++
		}
	}
	raised, err := l.raiseMarkup(ctx, v, attempts, final)
	rep.Markup.Raised = raised
	if err != nil {
		return rep, err
	}

	closed, err := l.store.IsPoolClosed(ctx, l.cfg.Markup.PoolID)
	if err != nil {
		return rep, fmt.Errorf("check markup pool: %w", err)
	}
	if closed && rep.Check.Closed && raised == 0 && len(ready) == len(waiting) {
		left, err := classification.Unsettled(ctx, l.store, l.cfg.Markup.PoolID, results)
		if err != nil {
			return rep, err
		}
		rep.Closed = left == 0
	}
	rep.Markup.Closed = rep.Closed
	l.log.Log("iteration %d: markup accepted %d, rejected %d, finalized %d/%d, raised %d, closed %v",
		l.iteration, rep.Markup.Accepted, rep.Markup.Rejected, rep.Markup.Finalized, len(final), raised, rep.Closed)

	if l.opts.Recorder != nil {
		if err := l.opts.Recorder.Record(ctx, rep.Markup); err != nil {
			l.log.Log("record iteration: %v", err)
		}
	}
	return rep, nil
}

// Iterate runs one Step and reports whether the workflow is done.
func (l *Loop) Iterate(ctx context.Context) (bool, error) {
	rep, err := l.Step(ctx)
	return rep.Closed, err
}

// Run sets both pools up and steps them until the workflow is done.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Setup(ctx); err != nil {
		return err
	}
	for {
		if err := l.opts.Pause.WaitIfPaused(ctx); err != nil {
			return err
		}
		rep, err := l.Step(ctx)
		if err != nil {
			return err
		}
		if rep.Closed {
			l.log.Log("done after %d iterations", l.iteration)
			return nil
		}
		if l.opts.MaxIterations > 0 && l.iteration >= l.opts.MaxIterations {
			return fmt.Errorf("feedback %s: %w", l.cfg.Markup.PoolID, classification.ErrIterationLimit)
		}
		if rep.Markup.Fetched == 0 && rep.Check.Fetched == 0 {
			if err := classification.Sleep(ctx, l.opts.PollInterval); err != nil {
				return err
			}
		}
	}
}

// CalculateBonuses applies the bonus tiers to an evaluated markup submission.
// Nothing is issued at the store.
func (l *Loop) CalculateBonuses(ctx context.Context, sub models.Submission, ev models.AssignmentEvaluation) ([]models.Bonus, error) {
	outcomes, err := l.bonus.ApplyTo(ctx, control.Env{Store: l.store}, sub, evaluation.Context(ev))
	if err != nil {
		return nil, err
	}
	var out []models.Bonus
	for _, o := range outcomes {
		if o.Bonus != nil && o.Bonus.Amount > 0 {
			out = append(out, *o.Bonus)
		}
	}
	return out, nil
}

// sendToCheck creates check tasks for the solutions of submissions not sent yet.
// A submission counts as sent only once the store accepted its check tasks.
func (l *Loop) sendToCheck(ctx context.Context, subs []models.Submission) error {
	var (
		keys  []string
		tasks []models.Task
	)
	for _, s := range subs {
		if _, ok := l.sent[s.Key()]; ok {
			continue
		}
		keys = append(keys, s.Key())
		for _, sol := range s.Solutions() {
			tasks = append(tasks, sol.CheckTask())
		}
	}
	if err := l.check.AddTasks(ctx, tasks); err != nil {
		return fmt.Errorf("create check tasks: %w", err)
	}
	for _, k := range keys {
		l.sent[k] = struct{}{}
	}
	if len(tasks) > 0 {
		l.log.Log("iteration %d: %d solutions sent to check", l.iteration, len(tasks))
	}
	return nil
}

// payBonuses issues bonuses for markup submissions accepted in this iteration.
func (l *Loop) payBonuses(ctx context.Context, results []evaluation.Result) (int, error) {
	n := 0
	for _, r := range results {
		sub := r.Submission
		if r.Err != nil || !sub.Addressable() || sub.Status != models.StatusSubmitted || r.Status != models.StatusAccepted {
			continue
		}
		bonuses, err := l.CalculateBonuses(ctx, sub, r.Evaluation)
		if err != nil {
			return n, err
		}
		for _, b := range bonuses {
			if err := l.store.IssueBonus(ctx, b); err != nil {
				return n, fmt.Errorf("issue bonus for %s: %w", sub.Key(), err)
			}
			n++
		}
	}
	return n, nil
}

// raiseMarkup requests one more attempt for tasks that are not finalized,
// have every requested attempt in and every attempt checked.
func (l *Loop) raiseMarkup(ctx context.Context, v view, attempts map[string][]Attempt, final map[string]Finalization) (int, error) {
	answers := make(map[string]int)
	for _, s := range v.markupSubs {
		for _, sol := range s.Solutions() {
			answers[sol.Task.ID()]++
		}
	}
	raised := 0
	for _, pt := range v.markupTasks {
		id := pt.Task.ID()
		if final[id] != NotFinalized || answers[id] < pt.Overlap || unchecked(attempts[id]) {
			continue
		}
		if err := l.store.RaiseTaskOverlap(ctx, l.cfg.Markup.PoolID, id, pt.Overlap+1); err != nil {
			return raised, fmt.Errorf("raise markup overlap of %s: %w", id, err)
		}
		l.log.Log("task %s: attempt %d requested", id, pt.Overlap+1)
		raised++
	}
	return raised, nil
}

func unchecked(as []Attempt) bool {
	for _, a := range as {
		if a.Verdict == models.VerdictUnknown {
			return true
		}
	}
	return false
}

func fullyChecked(sub models.Submission, evals map[string]models.SolutionEvaluation) bool {
	for _, sol := range sub.Solutions() {
		if _, ok := evals[sol.ID()]; !ok {
			return false
		}
	}
	return true
}
