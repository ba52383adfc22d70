// Package control implements the rule DSL that turns quality-control policy
// ("reject below 50% accuracy", "block workers who answer too fast") into
// ordered rules evaluated against submission metrics.
package control

import (
	"fmt"
	"time"
)

// Kind identifies what a predicate measures.
type Kind string

const (
	// KindAccuracy compares the weighted share of correct checked items.
	KindAccuracy Kind = "accuracy"
	// KindDuration compares submission duration against a ratio of the expected duration.
	KindDuration Kind = "duration"
	// KindAlways matches unconditionally.
	KindAlways Kind = "always"
)

// Comparison is a threshold direction.
type Comparison string

const (
	LessThan       Comparison = "<"
	LessOrEqual    Comparison = "<="
	GreaterThan    Comparison = ">"
	GreaterOrEqual Comparison = ">="
)

// Upper reports whether the comparison bounds the value from above.
func (c Comparison) Upper() bool {
	return c == LessThan || c == LessOrEqual
}

func (c Comparison) holds(value, threshold float64) (bool, error) {
	switch c {
	case LessThan:
		return value < threshold, nil
	case LessOrEqual:
		return value <= threshold, nil
	case GreaterThan:
		return value > threshold, nil
	case GreaterOrEqual:
		return value >= threshold, nil
	default:
		return false, fmt.Errorf("%w: comparison %q", ErrUnknownVariant, string(c))
	}
}

// BoolOp joins expression members.
type BoolOp string

const (
	And BoolOp = "and"
	Or  BoolOp = "or"
)

// Context carries the metrics a predicate is checked against.
type Context struct {
	// Accuracy is correct/checked in [0, 1].
	Accuracy    float64
	TotalChecks int
	OKChecks    int
	// Duration is the time the worker spent, normalised by the caller for partial submissions.
	Duration time.Duration
	// DurationHint is the expected duration; duration thresholds are ratios of it.
	DurationHint time.Duration
}

// Predicate is a closed set of variants: Threshold, Always and Expression.
type Predicate interface {
	Kind() Kind
	isPredicate()
}

// Threshold compares one metric against a constant.
type Threshold struct {
	Metric Kind
	Cmp    Comparison
	// Value is an accuracy in [0, 1] or a ratio of the duration hint.
	Value float64
}

// Accuracy builds an accuracy threshold.
func Accuracy(cmp Comparison, value float64) Threshold {
	return Threshold{Metric: KindAccuracy, Cmp: cmp, Value: value}
}

// DurationRatio builds a duration threshold expressed as a ratio of the duration hint.
func DurationRatio(cmp Comparison, ratio float64) Threshold {
	return Threshold{Metric: KindDuration, Cmp: cmp, Value: ratio}
}

func (t Threshold) Kind() Kind { return t.Metric }
func (Threshold) isPredicate() {}

func (t Threshold) String() string {
	return fmt.Sprintf("%s %s %g", t.Metric, t.Cmp, t.Value)
}

// Always matches every submission.
type Always struct{}

func (Always) Kind() Kind   { return KindAlways }
func (Always) isPredicate() {}

// Expression joins thresholds of one kind with AND or OR. Build it with NewExpression.
type Expression struct {
	op      BoolOp
	members []Threshold
}

// NewExpression validates members: at least one, all thresholds of the same
// metric, and no nested expressions.
func NewExpression(op BoolOp, preds ...Predicate) (Expression, error) {
	if op != And && op != Or {
		return Expression{}, fmt.Errorf("%w: boolean operator %q", ErrUnknownVariant, string(op))
	}
	if len(preds) == 0 {
		return Expression{}, ErrEmptyExpression
	}
	members := make([]Threshold, 0, len(preds))
	for _, p := range preds {
		switch v := p.(type) {
		case Expression:
			return Expression{}, ErrNestedExpression
		case Threshold:
			if len(members) > 0 && members[0].Metric != v.Metric {
				return Expression{}, ErrMixedPredicates
			}
			members = append(members, v)
		default:
			return Expression{}, ErrMixedPredicates
		}
	}
	return Expression{op: op, members: members}, nil
}

// Op returns the joining operator.
func (e Expression) Op() BoolOp { return e.op }

// Members returns a copy of the joined thresholds.
func (e Expression) Members() []Threshold {
	out := make([]Threshold, len(e.members))
	copy(out, e.members)
	return out
}

func (e Expression) Kind() Kind {
	if len(e.members) == 0 {
		return ""
	}
	return e.members[0].Metric
}

func (Expression) isPredicate() {}

// Evaluate checks a predicate against the context.
func Evaluate(p Predicate, c Context) (bool, error) {
	switch v := p.(type) {
	case Always:
		return true, nil
	case Threshold:
		return evaluateThreshold(v, c)
	case Expression:
		if len(v.members) == 0 {
			return false, ErrEmptyExpression
		}
		for _, m := range v.members {
			ok, err := evaluateThreshold(m, c)
			if err != nil {
				return false, err
			}
			if v.op == Or && ok {
				return true, nil
			}
			if v.op == And && !ok {
				return false, nil
			}
		}
		return v.op == And, nil
	default:
		return false, fmt.Errorf("%w: predicate %T", ErrUnknownVariant, p)
	}
}

func evaluateThreshold(t Threshold, c Context) (bool, error) {
	switch t.Metric {
	case KindAccuracy:
		return t.Cmp.holds(c.Accuracy, t.Value)
	case KindDuration:
		if c.DurationHint <= 0 {
			return false, ErrMissingDurationHint
		}
		return t.Cmp.holds(c.Duration.Seconds(), t.Value*c.DurationHint.Seconds())
	default:
		return false, fmt.Errorf("%w: metric %q", ErrUnknownVariant, string(t.Metric))
	}
}

// matchesKind reports whether p is of kind k; expressions match only if every member does.
func matchesKind(p Predicate, k Kind) bool {
	if e, ok := p.(Expression); ok {
		if len(e.members) == 0 {
			return false
		}
		for _, m := range e.members {
			if m.Metric != k {
				return false
			}
		}
		return true
	}
	return p.Kind() == k
}
