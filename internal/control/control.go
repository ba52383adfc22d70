package control

import (
	"context"

	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// Rule performs Action when Predicate holds.
type Rule struct {
	Predicate Predicate
	Action    Action
}

// Apply performs the action if the predicate holds. fired reports whether it did.
func (r Rule) Apply(ctx context.Context, env Env, sub models.Submission, c Context) (out Outcome, fired bool, err error) {
	ok, err := Evaluate(r.Predicate, c)
	if err != nil || !ok {
		return Outcome{}, false, err
	}
	out, err = Perform(ctx, r.Action, env, sub)
	return out, true, err
}

// Control is the ordered rule list of one pool.
type Control struct {
	Rules []Rule
}

// ApplyTo applies every rule in declared order and returns the outcomes of the
// rules that fired. At most one status rule fires per submission: once one has,
// later status rules are skipped. Side effects of rules applied before a
// failure stay in place.
func (c Control) ApplyTo(ctx context.Context, env Env, sub models.Submission, mc Context) ([]Outcome, error) {
	var outcomes []Outcome
	statusSet := false
	for _, r := range c.Rules {
		if statusSet && r.Action.ActionKind() == ActionStatus {
			continue
		}
		out, fired, err := r.Apply(ctx, env, sub, mc)
		if err != nil {
			return outcomes, err
		}
		if fired {
			outcomes = append(outcomes, out)
			statusSet = statusSet || out.Kind == ActionStatus
		}
	}
	return outcomes, nil
}

// FilterRules returns the rules whose predicate is of kind pk and whose action is of kind ak.
// Expressions match only if every member is of kind pk.
func (c Control) FilterRules(pk Kind, ak ActionKind) []Rule {
	var out []Rule
	for _, r := range c.Rules {
		if matchesKind(r.Predicate, pk) && r.Action.ActionKind() == ak {
			out = append(out, r)
		}
	}
	return out
}

// Only returns a control with the rules whose predicate is of one of the given kinds.
func (c Control) Only(kinds ...Kind) Control {
	var out Control
	for _, r := range c.Rules {
		for _, k := range kinds {
			if matchesKind(r.Predicate, k) {
				out.Rules = append(out.Rules, r)
				break
			}
		}
	}
	return out
}

// Exclude returns a control without the rules whose predicate is of kind k.
func (c Control) Exclude(k Kind) Control {
	var out Control
	for _, r := range c.Rules {
		if !matchesKind(r.Predicate, k) {
			out.Rules = append(out.Rules, r)
		}
	}
	return out
}

// HasStatusRules reports whether any rule changes submission status.
func (c Control) HasStatusRules() bool {
	for _, r := range c.Rules {
		if r.Action.ActionKind() == ActionStatus {
			return true
		}
	}
	return false
}

// StatusOf returns the status set by the last status outcome, if any.
func StatusOf(outcomes []Outcome) (models.SubmissionStatus, bool) {
	for i := len(outcomes) - 1; i >= 0; i-- {
		if outcomes[i].Kind == ActionStatus {
			return outcomes[i].Status, true
		}
	}
	return "", false
}
