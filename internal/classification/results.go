package classification

import (
	"context"
	"fmt"

	"github.com/lambdazy/crowdom-sub001/internal/aggregation"
	"github.com/lambdazy/crowdom-sub001/internal/evaluation"
	"github.com/lambdazy/crowdom-sub001/internal/overlap"
	"github.com/lambdazy/crowdom-sub001/internal/store"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// Snapshot is the pool state the overlap policy and results are computed from.
type Snapshot struct {
	// Tasks are the real tasks of the pool in store order.
	Tasks []store.PoolTask
	// Submissions are all submissions of the pool, whatever their status.
	Submissions []models.Submission
	// States holds the answer accounting of Tasks, in the same order.
	States []overlap.TaskState
	// Weights are worker weights over all submissions.
	Weights map[string]float64
}

// State returns the accounting of one task.
func (s Snapshot) State(taskID string) (overlap.TaskState, bool) {
	for _, st := range s.States {
		if st.TaskID == taskID {
			return st, true
		}
	}
	return overlap.TaskState{}, false
}

// Snapshot reads the current pool state.
func (l *Loop) Snapshot(ctx context.Context) (Snapshot, error) {
	tasks, err := l.store.PoolTasks(ctx, l.cfg.PoolID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("pool tasks: %w", err)
	}
	subs, err := l.store.FetchSubmissions(ctx, l.cfg.PoolID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch submissions: %w", err)
	}
	realTasks := make([]store.PoolTask, 0, len(tasks))
	for _, pt := range tasks {
		if !l.strategy.IsControl(pt.Task.ID()) {
			l.strategy.AddTasks(pt.Task)
			realTasks = append(realTasks, pt)
		}
	}
	weights, err := evaluation.WorkerWeights(subs, l.strategy)
	if err != nil {
		l.log.Log("worker weights skipped submissions: %v", err)
	}
	return Snapshot{
		Tasks:       realTasks,
		Submissions: subs,
		States:      TaskStates(realTasks, subs),
		Weights:     weights,
	}, nil
}

// TaskStates counts accepted and rejected answers per task. Votes are taken
// from accepted submissions only.
func TaskStates(tasks []store.PoolTask, subs []models.Submission) []overlap.TaskState {
	index := make(map[string]int, len(tasks))
	states := make([]overlap.TaskState, len(tasks))
	for i, pt := range tasks {
		id := pt.Task.ID()
		index[id] = i
		states[i] = overlap.TaskState{TaskID: id, Overlap: pt.Overlap}
	}
	for _, sub := range subs {
		for _, it := range sub.Items {
			if it.Skipped {
				continue
			}
			i, ok := index[it.Task.ID()]
			if !ok {
				continue
			}
			switch sub.Status {
			case models.StatusAccepted:
				states[i].Accepted++
				states[i].Votes = append(states[i].Votes, models.Vote{Label: it.Answer, WorkerID: sub.WorkerID})
			case models.StatusRejected:
				states[i].Rejected++
			}
		}
	}
	return states
}

// TaskResult is the aggregated answer of one task.
type TaskResult struct {
	Task         models.Task
	Distribution aggregation.Distribution
	// Votes are the accepted answers the distribution was computed from.
	Votes []models.Vote
}

// Label returns the most probable label and its probability.
func (r TaskResult) Label() (string, float64) {
	return r.Distribution.Top()
}

// Results aggregates accepted answers per real task, weighting workers by
// their accuracy over all of their submissions. Tasks without accepted
// answers have an empty distribution.
func (l *Loop) Results(ctx context.Context) ([]TaskResult, error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	votes := make(map[string][]models.Vote, len(snap.States))
	for _, st := range snap.States {
		if len(st.Votes) > 0 {
			votes[st.TaskID] = st.Votes
		}
	}
	dists := l.cfg.Aggregation.Aggregate(votes, snap.Weights)

	out := make([]TaskResult, len(snap.Tasks))
	for i, pt := range snap.Tasks {
		id := pt.Task.ID()
		out[i] = TaskResult{Task: pt.Task, Distribution: dists[id], Votes: votes[id]}
	}
	return out, nil
}

// WorkerWeights returns correct/checked per worker across every submission of the pool.
func (l *Loop) WorkerWeights(ctx context.Context) (map[string]float64, error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Weights, nil
}
