// Package overlap decides how many more independent answers each task needs.
package overlap

import (
	"fmt"

	"github.com/lambdazy/crowdom-sub001/internal/aggregation"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// TaskState is the answer accounting of one task in a pool.
type TaskState struct {
	TaskID string
	// Overlap is the number of answers currently requested at the store.
	Overlap  int
	Accepted int
	Rejected int
	// Votes are the accepted answers.
	Votes []models.Vote
}

// Pending returns the requested answers that are not accepted or rejected yet.
func (s TaskState) Pending() int {
	return max(0, s.Overlap-s.Accepted-s.Rejected)
}

// Policy computes overlap increases. Only tasks needing more answers appear in the result.
type Policy interface {
	// Initial is the overlap new tasks are created with.
	Initial() int
	Increases(tasks []TaskState, weights map[string]float64) map[string]int
	// Settled reports whether the task needs no further answers, now or later.
	Settled(task TaskState, weights map[string]float64) bool
}

// Static requests a fixed number of accepted answers per task.
type Static struct {
	Overlap int
}

func (p Static) Initial() int { return p.Overlap }

func (p Static) Increases(tasks []TaskState, _ map[string]float64) map[string]int {
	out := make(map[string]int)
	for _, t := range tasks {
		if inc := p.Overlap - t.Accepted - t.Pending(); inc > 0 {
			out[t.TaskID] = inc
		}
	}
	return out
}

func (p Static) Settled(t TaskState, _ map[string]float64) bool {
	return t.Accepted >= p.Overlap
}

// Dynamic keeps asking for one more answer until the aggregated top label is
// confident enough, within [Min, Max] accepted answers.
type Dynamic struct {
	Min, Max int
	// Confidence is the default threshold for the top label.
	Confidence float64
	// PerLabel overrides Confidence for specific predicted labels.
	PerLabel    map[string]float64
	Aggregation aggregation.Algorithm
}

// Validate checks the bounds of the policy.
func (p Dynamic) Validate() error {
	if p.Min <= 0 || p.Max < p.Min {
		return fmt.Errorf("%w: dynamic overlap bounds [%d, %d]", models.ErrConfiguration, p.Min, p.Max)
	}
	if p.Confidence <= 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: confidence threshold %v outside (0, 1]", models.ErrConfiguration, p.Confidence)
	}
	if p.Aggregation == nil {
		return fmt.Errorf("%w: dynamic overlap needs an aggregation", models.ErrConfiguration)
	}
	return nil
}

func (p Dynamic) Initial() int { return p.Min }

func (p Dynamic) Increases(tasks []TaskState, weights map[string]float64) map[string]int {
	dists := p.aggregate(tasks, weights)
	out := make(map[string]int)
	for _, t := range tasks {
		if inc := p.increase(t, dists[t.TaskID]); inc > 0 {
			out[t.TaskID] = inc
		}
	}
	return out
}

func (p Dynamic) Settled(t TaskState, weights map[string]float64) bool {
	if t.Pending() > 0 {
		return false
	}
	return p.increase(t, p.aggregate([]TaskState{t}, weights)[t.TaskID]) == 0
}

func (p Dynamic) aggregate(tasks []TaskState, weights map[string]float64) map[string]aggregation.Distribution {
	votes := make(map[string][]models.Vote, len(tasks))
	for _, t := range tasks {
		if len(t.Votes) > 0 {
			votes[t.TaskID] = t.Votes
		}
	}
	return p.Aggregation.Aggregate(votes, weights)
}

func (p Dynamic) increase(t TaskState, d aggregation.Distribution) int {
	current, pending := t.Accepted, t.Pending()
	if current >= p.Max {
		return 0
	}
	if need := p.Min - current - pending; need > 0 {
		return need
	}
	if pending > 0 {
		return 0
	}
	if current >= p.Min && p.confident(d) {
		return 0
	}
	return min(1, p.Max-current)
}

func (p Dynamic) confident(d aggregation.Distribution) bool {
	label, conf := d.Top()
	if label == "" {
		return false
	}
	threshold := p.Confidence
	if v, ok := p.PerLabel[label]; ok {
		threshold = v
	}
	return conf >= threshold
}
