// Package evaluation scores submissions, applies control rules to them and
// derives worker weights.
package evaluation

import (
	"fmt"

	"github.com/lambdazy/crowdom-sub001/internal/aggregation"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// Strategy scores one submission.
type Strategy interface {
	Evaluate(sub models.Submission) (models.AssignmentEvaluation, error)
}

// ControlTaskStrategy checks answers to control tasks against their known answers.
type ControlTaskStrategy struct {
	control map[string]models.ControlTask
	known   map[string]struct{}
}

// NewControlTaskStrategy builds a strategy for a pool made of real and control tasks.
func NewControlTaskStrategy(control []models.ControlTask, tasks []models.Task) *ControlTaskStrategy {
	s := &ControlTaskStrategy{
		control: make(map[string]models.ControlTask, len(control)),
		known:   make(map[string]struct{}, len(tasks)),
	}
	for _, ct := range control {
		s.control[ct.ID()] = ct
	}
	for _, t := range tasks {
		s.known[t.ID()] = struct{}{}
	}
	return s
}

// AddTasks registers more real tasks, e.g. check tasks created while a loop runs.
func (s *ControlTaskStrategy) AddTasks(tasks ...models.Task) {
	for _, t := range tasks {
		s.known[t.ID()] = struct{}{}
	}
}

// IsControl reports whether the task is one of the pool's control tasks.
func (s *ControlTaskStrategy) IsControl(taskID string) bool {
	_, ok := s.control[taskID]
	return ok
}

func (s *ControlTaskStrategy) Evaluate(sub models.Submission) (models.AssignmentEvaluation, error) {
	var ev models.AssignmentEvaluation
	for i, it := range sub.Items {
		if it.Skipped {
			continue
		}
		ev.Total++
		id := it.Task.ID()
		ct, ok := s.control[id]
		if !ok {
			if _, known := s.known[id]; !known {
				return models.AssignmentEvaluation{}, fmt.Errorf("%w: submission %s references unknown task %v",
					models.ErrDataInconsistency, sub.Key(), it.Task.Inputs)
			}
			continue
		}
		if ct.Weight <= 0 {
			return models.AssignmentEvaluation{}, fmt.Errorf("%w: control task %v has no positive weight",
				models.ErrDataInconsistency, ct.Inputs)
		}
		ev.Checked++
		ev.WeightedChecked += ct.Weight
		if it.Answer == ct.Answer {
			ev.Correct++
			ev.WeightedCorrect += ct.Weight
		} else {
			ev.Incorrect = append(ev.Incorrect, i)
		}
	}
	return ev, nil
}

// CheckStrategy treats check-pool verdicts as ground truth for markup solutions.
// Evaluations is keyed by solution ID.
type CheckStrategy struct {
	Evaluations map[string]models.SolutionEvaluation
}

func (s CheckStrategy) Evaluate(sub models.Submission) (models.AssignmentEvaluation, error) {
	var ev models.AssignmentEvaluation
	for i, it := range sub.Items {
		if it.Skipped {
			continue
		}
		ev.Total++
		se, ok := s.Evaluations[models.Solution{Task: it.Task, Answer: it.Answer}.ID()]
		if !ok {
			continue
		}
		ev.Checked++
		ev.WeightedChecked++
		if se.OK {
			ev.Correct++
			ev.WeightedCorrect++
		} else {
			ev.Incorrect = append(ev.Incorrect, i)
		}
	}
	return ev, nil
}

// SolutionFromVotes turns the aggregated check-pool votes on one solution into its evaluation.
func SolutionFromVotes(votes []models.Vote, d aggregation.Distribution) models.SolutionEvaluation {
	label, conf := d.Top()
	return models.SolutionEvaluation{
		OK:         label == models.LabelOK,
		Confidence: conf,
		Votes:      votes,
	}
}
