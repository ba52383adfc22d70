package control

import (
	"fmt"
	"math"
	"time"

	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// Collector is the platform-side detector a native quality rule reads from.
type Collector string

const (
	CollectorFastSubmit Collector = "fast_submit"
	CollectorGoldenSet  Collector = "golden_set"
)

// ConditionKey is a platform-side metric.
type ConditionKey string

const (
	KeyFastSubmittedCount ConditionKey = "fast_submitted_count"
	KeyTotalAnswersCount  ConditionKey = "total_answers_count"
	// KeyCorrectAnswersRate is a percentage in [0, 100].
	KeyCorrectAnswersRate ConditionKey = "correct_answers_rate"
)

// Operator is a platform-side comparison primitive.
type Operator string

const (
	OpLess         Operator = "lt"
	OpLessEqual    Operator = "lte"
	OpGreater      Operator = "gt"
	OpGreaterEqual Operator = "gte"
)

var operators = map[Comparison]Operator{
	LessThan:       OpLess,
	LessOrEqual:    OpLessEqual,
	GreaterThan:    OpGreater,
	GreaterOrEqual: OpGreaterEqual,
}

// Condition is one native rule condition; all conditions of a rule must hold.
type Condition struct {
	Key      ConditionKey `json:"key" yaml:"key"`
	Operator Operator     `json:"operator" yaml:"operator"`
	Value    float64      `json:"value" yaml:"value"`
}

// QualityRule is a rule in the platform's native quality-control format.
type QualityRule struct {
	Collector Collector `json:"collector" yaml:"collector"`
	// HistorySize is the golden-set window in control tasks.
	HistorySize int `json:"history_size,omitempty" yaml:"history_size,omitempty"`
	// FastSubmitThreshold is the duration below which a submission counts as fast.
	FastSubmitThreshold time.Duration `json:"fast_submit_threshold,omitempty" yaml:"fast_submit_threshold,omitempty"`
	Conditions          []Condition   `json:"conditions" yaml:"conditions"`
	Restriction         Block         `json:"restriction" yaml:"restriction"`
	Reject              bool          `json:"reject,omitempty" yaml:"reject,omitempty"`
}

// QualityConfig is the native counterpart of the block rules of a Control.
type QualityConfig struct {
	Rules []QualityRule `json:"rules" yaml:"rules"`
}

// CompileQualityConfig translates duration and accuracy block rules into the
// store's native fast-submit and golden-set rules.
func (c Control) CompileQualityConfig(controlTaskCount int, assignmentDurationHint time.Duration) (QualityConfig, error) {
	var cfg QualityConfig
	rejects := c.FilterRules(KindDuration, ActionStatus)

	for _, r := range c.FilterRules(KindDuration, ActionBlock) {
		if assignmentDurationHint <= 0 {
			return QualityConfig{}, ErrMissingDurationHint
		}
		ratio, err := upperBound(r.Predicate)
		if err != nil {
			return QualityConfig{}, err
		}
		seconds := assignmentDurationHint.Seconds() * ratio
		qr := QualityRule{
			Collector:           CollectorFastSubmit,
			FastSubmitThreshold: time.Duration(math.Round(seconds * float64(time.Second))),
			Conditions:          []Condition{{Key: KeyFastSubmittedCount, Operator: OpGreater, Value: 0}},
			Restriction:         r.Action.(Block),
		}
		for _, rej := range rejects {
			if st, ok := rej.Action.(SetStatus); ok && st.Status == models.StatusRejected && samePredicate(rej.Predicate, r.Predicate) {
				qr.Reject = true
				break
			}
		}
		cfg.Rules = append(cfg.Rules, qr)
	}

	for _, r := range c.FilterRules(KindAccuracy, ActionBlock) {
		if controlTaskCount <= 0 {
			return QualityConfig{}, fmt.Errorf("%w: control task count %d", ErrInvalidThreshold, controlTaskCount)
		}
		for _, group := range conditionGroups(r.Predicate) {
			conds := []Condition{{Key: KeyTotalAnswersCount, Operator: OpGreaterEqual, Value: float64(controlTaskCount)}}
			for _, t := range group {
				op, ok := operators[t.Cmp]
				if !ok {
					return QualityConfig{}, fmt.Errorf("%w: comparison %q", ErrUnknownVariant, string(t.Cmp))
				}
				conds = append(conds, Condition{Key: KeyCorrectAnswersRate, Operator: op, Value: t.Value * 100})
			}
			cfg.Rules = append(cfg.Rules, QualityRule{
				Collector:   CollectorGoldenSet,
				HistorySize: controlTaskCount,
				Conditions:  conds,
				Restriction: r.Action.(Block),
			})
		}
	}
	return cfg, nil
}

// upperBound returns the duration ratio below which a duration predicate fires.
// Lower-bound members of tier expressions are dropped: the native detector only
// counts submissions under a threshold.
func upperBound(p Predicate) (float64, error) {
	var bounds []float64
	op := And
	switch v := p.(type) {
	case Threshold:
		if v.Cmp.Upper() {
			bounds = append(bounds, v.Value)
		}
	case Expression:
		op = v.op
		for _, m := range v.members {
			if m.Cmp.Upper() {
				bounds = append(bounds, m.Value)
			}
		}
	}
	if len(bounds) == 0 {
		return 0, fmt.Errorf("%w: duration block rules must bound duration from above", ErrInvalidThreshold)
	}
	best := bounds[0]
	for _, b := range bounds[1:] {
		if (op == And && b < best) || (op == Or && b > best) {
			best = b
		}
	}
	return best, nil
}

// conditionGroups splits a predicate into groups of thresholds that must all hold.
func conditionGroups(p Predicate) [][]Threshold {
	switch v := p.(type) {
	case Threshold:
		return [][]Threshold{{v}}
	case Expression:
		if v.op == And {
			return [][]Threshold{v.Members()}
		}
		groups := make([][]Threshold, 0, len(v.members))
		for _, m := range v.members {
			groups = append(groups, []Threshold{m})
		}
		return groups
	}
	return nil
}

func samePredicate(a, b Predicate) bool {
	switch x := a.(type) {
	case Always:
		_, ok := b.(Always)
		return ok
	case Threshold:
		y, ok := b.(Threshold)
		return ok && x == y
	case Expression:
		y, ok := b.(Expression)
		if !ok || x.op != y.op || len(x.members) != len(y.members) {
			return false
		}
		for i := range x.members {
			if x.members[i] != y.members[i] {
				return false
			}
		}
		return true
	}
	return false
}
