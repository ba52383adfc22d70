package evaluation

import (
	"errors"

	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// WorkerWeights returns correct/checked per worker summed over all of their
// submissions, whatever their status. Workers with nothing checked are left out.
// Submissions that cannot be scored are skipped and their errors joined.
func WorkerWeights(subs []models.Submission, strategy Strategy) (map[string]float64, error) {
	correct := make(map[string]int)
	checked := make(map[string]int)
	var errs []error
	for _, sub := range subs {
		ev, err := strategy.Evaluate(sub)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		correct[sub.WorkerID] += ev.Correct
		checked[sub.WorkerID] += ev.Checked
	}

	weights := make(map[string]float64, len(checked))
	for worker, n := range checked {
		if n == 0 {
			continue
		}
		weights[worker] = float64(correct[worker]) / float64(n)
	}
	return weights, errors.Join(errs...)
}
