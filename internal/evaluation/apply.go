package evaluation

import (
	"context"
	"errors"
	"fmt"

	"github.com/lambdazy/crowdom-sub001/internal/control"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// Store is the part of the remote store evaluation writes to.
type Store interface {
	control.Mutator
	IssueBonus(ctx context.Context, b models.Bonus) error
}

// Result is what happened to one submission.
type Result struct {
	Submission models.Submission
	Evaluation models.AssignmentEvaluation
	Outcomes   []control.Outcome
	// Status is the status the submission ended up with.
	Status models.SubmissionStatus
	// Bonuses are the bonuses issued at the store.
	Bonuses []models.Bonus
	// Err is set when the submission could not be scored and was skipped.
	Err error
}

// Restrictions returns the restrictions the rules produced for the submission.
func (r Result) Restrictions() []models.Restriction {
	var out []models.Restriction
	for _, o := range r.Outcomes {
		if o.Restriction != nil {
			out = append(out, *o.Restriction)
		}
	}
	return out
}

// Context builds the rule context of an evaluation.
func Context(ev models.AssignmentEvaluation) control.Context {
	return control.Context{
		Accuracy:    ev.Accuracy(),
		TotalChecks: ev.Checked,
		OKChecks:    ev.Correct,
	}
}

// EvaluateAndApply scores every submission and applies ctl to it, performing
// store side effects as it goes. When no status rule fires, the submission is
// accepted if its accuracy reaches minAccuracy and rejected otherwise.
//
// Submissions that cannot be scored are reported with Result.Err and skipped.
// A store failure stops the pass and is returned with the results so far.
func EvaluateAndApply(ctx context.Context, store Store, subs []models.Submission, strategy Strategy, ctl control.Control, minAccuracy float64) ([]Result, error) {
	env := control.Env{Store: store}
	results := make([]Result, 0, len(subs))
	for _, sub := range subs {
		ev, err := strategy.Evaluate(sub)
		if err != nil {
			if !errors.Is(err, models.ErrDataInconsistency) {
				return results, err
			}
			results = append(results, Result{Submission: sub, Status: sub.Status, Err: err})
			continue
		}

		res := Result{Submission: sub, Evaluation: ev, Status: sub.Status}
		outcomes, err := ctl.ApplyTo(ctx, env, sub, Context(ev))
		res.Outcomes = outcomes
		if err != nil {
			return append(results, res), fmt.Errorf("apply rules to %s: %w", sub.Key(), err)
		}

		status, ok := control.StatusOf(outcomes)
		if !ok {
			fallback := control.SetStatus{Status: models.StatusAccepted}
			if ev.Accuracy() < minAccuracy {
				fallback.Status = models.StatusRejected
			}
			out, err := control.Perform(ctx, fallback, env, sub)
			if err != nil {
				return append(results, res), err
			}
			res.Outcomes = append(res.Outcomes, out)
			status = out.Status
		}
		res.Status = status

		if err := issueBonuses(ctx, store, &res); err != nil {
			return append(results, res), err
		}
		results = append(results, res)
	}
	return results, nil
}

// issueBonuses pays the bonus outcomes of a freshly accepted remote submission.
func issueBonuses(ctx context.Context, store Store, res *Result) error {
	sub := res.Submission
	if !sub.Addressable() || sub.Status != models.StatusSubmitted || res.Status != models.StatusAccepted {
		return nil
	}
	for _, o := range res.Outcomes {
		if o.Bonus == nil || o.Bonus.Amount <= 0 {
			continue
		}
		if err := store.IssueBonus(ctx, *o.Bonus); err != nil {
			return fmt.Errorf("issue bonus for %s: %w", sub.Key(), err)
		}
		res.Bonuses = append(res.Bonuses, *o.Bonus)
	}
	return nil
}

// Inconsistencies joins the errors of the skipped submissions.
func Inconsistencies(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}
