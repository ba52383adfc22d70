package classification

import (
	"context"
	"fmt"
	"time"

	"github.com/lambdazy/crowdom-sub001/internal/control"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// FilterResult is the outcome of the prior filter over one batch.
type FilterResult struct {
	// Kept are the submissions that continue to evaluation.
	Kept []models.Submission
	// Rejected counts submissions rejected as too fast.
	Rejected int
	// Restricted counts restrictions issued at the store.
	Restricted int
	// Handled holds the keys of the submissions whose rules were fully
	// applied. On error it stops short of the failing submission.
	Handled []string
}

// PriorFilter applies the duration rules of ctl before any accuracy is known.
// A complete submission is measured against taskHint times its item count.
// An incomplete one is measured per answered task and only its block rules
// apply, so running out of tasks never gets a worker rejected.
// Submissions rejected here are left out of Kept.
func PriorFilter(ctx context.Context, env control.Env, subs []models.Submission, ctl control.Control, taskHint time.Duration) (FilterResult, error) {
	var res FilterResult
	durationRules := ctl.Only(control.KindDuration)
	blockOnly := control.Control{Rules: durationRules.FilterRules(control.KindDuration, control.ActionBlock)}

	for _, sub := range subs {
		mc, rules, ok := durationContext(sub, taskHint, durationRules, blockOnly)
		if !ok {
			res.Kept = append(res.Kept, sub)
			res.Handled = append(res.Handled, sub.Key())
			continue
		}
		outcomes, err := rules.ApplyTo(ctx, env, sub, mc)
		res.Restricted += issued(outcomes, control.ActionBlock)
		if err != nil {
			return res, fmt.Errorf("filter %s: %w", sub.Key(), err)
		}
		res.Handled = append(res.Handled, sub.Key())
		if status, set := control.StatusOf(outcomes); set && status == models.StatusRejected {
			res.Rejected++
			continue
		}
		res.Kept = append(res.Kept, sub)
	}
	return res, nil
}

func durationContext(sub models.Submission, taskHint time.Duration, full, blockOnly control.Control) (control.Context, control.Control, bool) {
	completed := sub.Completed()
	if taskHint <= 0 || completed == 0 || len(full.Rules) == 0 {
		return control.Context{}, control.Control{}, false
	}
	if sub.Incomplete() {
		return control.Context{
			Duration:     sub.Duration() / time.Duration(completed),
			DurationHint: taskHint,
		}, blockOnly, true
	}
	return control.Context{
		Duration:     sub.Duration(),
		DurationHint: taskHint * time.Duration(len(sub.Items)),
	}, full, true
}

func issued(outcomes []control.Outcome, kind control.ActionKind) int {
	n := 0
	for _, o := range outcomes {
		if o.Kind == kind && o.Issued {
			n++
		}
	}
	return n
}
