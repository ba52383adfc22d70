package feedback

import (
	"context"
	"fmt"

	"github.com/lambdazy/crowdom-sub001/internal/classification"
	"github.com/lambdazy/crowdom-sub001/internal/evaluation"
	"github.com/lambdazy/crowdom-sub001/internal/store"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// view is the state of both pools at one point in time.
type view struct {
	markupTasks []store.PoolTask
	markupSubs  []models.Submission
	// evals holds the verdicts of settled check tasks, keyed by solution ID.
	evals map[string]models.SolutionEvaluation
}

func (l *Loop) view(ctx context.Context) (view, error) {
	tasks, err := l.store.PoolTasks(ctx, l.cfg.Markup.PoolID)
	if err != nil {
		return view{}, fmt.Errorf("markup tasks: %w", err)
	}
	subs, err := l.store.FetchSubmissions(ctx, l.cfg.Markup.PoolID)
	if err != nil {
		return view{}, fmt.Errorf("fetch markup submissions: %w", err)
	}
	snap, err := l.check.Snapshot(ctx)
	if err != nil {
		return view{}, fmt.Errorf("check pool: %w", err)
	}
	return view{markupTasks: tasks, markupSubs: subs, evals: l.evaluations(snap)}, nil
}

// evaluations aggregates the votes of every settled check task. A check task
// is settled once it has accepted answers and the check overlap policy wants no more.
func (l *Loop) evaluations(snap classification.Snapshot) map[string]models.SolutionEvaluation {
	votes := make(map[string][]models.Vote)
	for _, st := range snap.States {
		if st.Accepted > 0 && l.cfg.Check.Overlap.Settled(st, snap.Weights) {
			votes[st.TaskID] = st.Votes
		}
	}
	dists := l.cfg.Check.Aggregation.Aggregate(votes, snap.Weights)
	evals := make(map[string]models.SolutionEvaluation, len(votes))
	for id, vs := range votes {
		evals[id] = evaluation.SolutionFromVotes(vs, dists[id])
	}
	return evals
}

// attempts groups markup solutions by task. Unchecked solutions of rejected
// submissions are left out: they were filtered before reaching the check pool.
func (l *Loop) attempts(v view) map[string][]Attempt {
	out := make(map[string][]Attempt, len(v.markupTasks))
	for _, pt := range v.markupTasks {
		out[pt.Task.ID()] = nil
	}
	strategy := evaluation.CheckStrategy{Evaluations: v.evals}
	for _, sub := range v.markupSubs {
		ev, err := strategy.Evaluate(sub)
		if err != nil {
			l.log.Log("evaluate %s: %v", sub.Key(), err)
			continue
		}
		accuracy := 0.0
		if ev.Checked > 0 {
			accuracy = ev.Accuracy()
		}
		for _, sol := range sub.Solutions() {
			se, checked := v.evals[sol.ID()]
			if !checked && sub.Status == models.StatusRejected {
				continue
			}
			a := Attempt{
				Solution:           sol,
				WorkerID:           sub.WorkerID,
				SubmissionKey:      sub.Key(),
				SubmittedAt:        sub.SubmittedAt,
				Verdict:            models.VerdictUnknown,
				AssignmentAccuracy: accuracy,
				AssignmentChecked:  ev.Checked,
			}
			if checked {
				a.Evaluation = &se
				a.Verdict = models.VerdictBad
				if se.OK {
					a.Verdict = models.VerdictOK
				}
			}
			id := sol.Task.ID()
			out[id] = append(out[id], a)
		}
	}
	return out
}

// TaskSolutions is every candidate solution of one markup task, best first.
type TaskSolutions struct {
	Task         models.Task
	Finalization Finalization
	Solutions    []Attempt
}

// Best returns the top candidate, if any.
func (t TaskSolutions) Best() (Attempt, bool) {
	if len(t.Solutions) == 0 {
		return Attempt{}, false
	}
	return t.Solutions[0], true
}

// Results returns the solutions of every markup task in pool order, each list
// sorted by verdict, owning submission accuracy and submission time.
func (l *Loop) Results(ctx context.Context) ([]TaskSolutions, error) {
	v, err := l.view(ctx)
	if err != nil {
		return nil, err
	}
	attempts := l.attempts(v)
	final := FindFinalized(attempts, l.cfg.Thresholds)
	out := make([]TaskSolutions, len(v.markupTasks))
	for i, pt := range v.markupTasks {
		id := pt.Task.ID()
		as := attempts[id]
		SortAttempts(as)
		out[i] = TaskSolutions{Task: pt.Task, Finalization: final[id], Solutions: as}
	}
	return out, nil
}
