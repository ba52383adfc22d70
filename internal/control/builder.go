package control

import (
	"fmt"
	"time"

	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// DefaultGranularity is the number of bonus bands when none is given.
const DefaultGranularity = 3

// Durations used by the predefined block rules.
const (
	LongBlock  = 7 * 24 * time.Hour
	ShortBlock = 24 * time.Hour
)

// DynamicReward configures accuracy-banded bonuses.
type DynamicReward struct {
	MinBonus             float64
	MaxBonus             float64
	MinAccuracyForBonus  float64
	MinAccuracyForAccept float64
	// Granularity is the number of bonus bands; zero means DefaultGranularity.
	Granularity int
}

// SpeedTier is one tier of speed control. A tier fires when the duration ratio is
// at most Ratio and above the previous tier's ratio.
type SpeedTier struct {
	Ratio    float64
	Scope    models.Scope
	Duration time.Duration
	Comment  string
	// Reject additionally rejects the submission.
	Reject bool
}

// Builder assembles a Control phase by phase.
// Exactly one reward phase is required; every phase may be added at most once.
type Builder struct {
	rules        []Rule
	reward       string
	speedAdded   bool
	controlAdded bool
	err          error
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddStaticReward accepts submissions with accuracy >= threshold and rejects the rest.
func (b *Builder) AddStaticReward(threshold float64) *Builder {
	if !b.startReward("static") {
		return b
	}
	if threshold < 0 || threshold > 1 {
		b.err = fmt.Errorf("%w: static reward threshold %g", ErrInvalidThreshold, threshold)
		return b
	}
	b.addAcceptReject(threshold)
	return b
}

// AddDynamicReward accepts at MinAccuracyForAccept and pays a bonus that grows
// linearly over Granularity equal-width accuracy bands of [MinAccuracyForBonus, 1].
func (b *Builder) AddDynamicReward(r DynamicReward) *Builder {
	if !b.startReward("dynamic") {
		return b
	}
	if r.Granularity == 0 {
		r.Granularity = DefaultGranularity
	}
	if r.MinBonus <= 0 || r.MaxBonus <= 0 || r.MaxBonus < r.MinBonus {
		b.err = fmt.Errorf("%w: min %g, max %g", ErrInvalidBonus, r.MinBonus, r.MaxBonus)
		return b
	}
	if r.Granularity < 1 {
		b.err = fmt.Errorf("%w: granularity %d", ErrInvalidThreshold, r.Granularity)
		return b
	}
	if r.MinAccuracyForBonus < 0 || r.MinAccuracyForBonus >= 1 || r.MinAccuracyForAccept < 0 || r.MinAccuracyForAccept > 1 {
		b.err = fmt.Errorf("%w: dynamic reward accuracies %g/%g", ErrInvalidThreshold, r.MinAccuracyForBonus, r.MinAccuracyForAccept)
		return b
	}
	b.addAcceptReject(r.MinAccuracyForAccept)
	rules, err := BonusTiers(r)
	if err != nil {
		b.err = err
		return b
	}
	b.rules = append(b.rules, rules...)
	return b
}

// BonusTiers returns the bonus rules of a dynamic reward, one per accuracy band.
func BonusTiers(r DynamicReward) ([]Rule, error) {
	g := r.Granularity
	if g == 0 {
		g = DefaultGranularity
	}
	width := (1 - r.MinAccuracyForBonus) / float64(g)
	step := 0.0
	if g > 1 {
		step = (r.MaxBonus - r.MinBonus) / float64(g-1)
	}
	rules := make([]Rule, 0, g)
	for i := 0; i < g; i++ {
		lo := r.MinAccuracyForBonus + float64(i)*width
		var pred Predicate = Accuracy(GreaterOrEqual, lo)
		if i < g-1 {
			hi := r.MinAccuracyForBonus + float64(i+1)*width
			expr, err := NewExpression(And, Accuracy(GreaterOrEqual, lo), Accuracy(LessThan, hi))
			if err != nil {
				return nil, err
			}
			pred = expr
		}
		rules = append(rules, Rule{Predicate: pred, Action: Bonus{Amount: r.MinBonus + float64(i)*step}})
	}
	return rules, nil
}

// AddSpeedControl blocks and rejects random clickers (ratio <= ratioRand) and
// blocks poor performers (ratioRand < ratio <= ratioPoor).
func (b *Builder) AddSpeedControl(ratioRand, ratioPoor float64) *Builder {
	return b.AddComplexSpeedControl([]SpeedTier{
		{Ratio: ratioRand, Scope: models.ScopeProject, Duration: LongBlock, Comment: "Answers too fast", Reject: true},
		{Ratio: ratioPoor, Scope: models.ScopeProject, Duration: ShortBlock, Comment: "Answers suspiciously fast"},
	})
}

// AddComplexSpeedControl emits one block rule per tier, and a reject rule for tiers
// that ask for it. Ratios must be strictly ascending.
func (b *Builder) AddComplexSpeedControl(tiers []SpeedTier) *Builder {
	if b.err != nil {
		return b
	}
	if b.speedAdded {
		b.err = fmt.Errorf("%w: speed control", ErrPhaseRepeated)
		return b
	}
	b.speedAdded = true
	if len(tiers) == 0 {
		b.err = fmt.Errorf("%w: no speed tiers", ErrUnsortedSpeedTiers)
		return b
	}
	for i, t := range tiers {
		if t.Ratio <= 0 || (i > 0 && t.Ratio <= tiers[i-1].Ratio) {
			b.err = fmt.Errorf("%w: tier %d ratio %g", ErrUnsortedSpeedTiers, i, t.Ratio)
			return b
		}
	}
	for i, t := range tiers {
		var pred Predicate = DurationRatio(LessOrEqual, t.Ratio)
		if i > 0 {
			expr, err := NewExpression(And, DurationRatio(LessOrEqual, t.Ratio), DurationRatio(GreaterThan, tiers[i-1].Ratio))
			if err != nil {
				b.err = err
				return b
			}
			pred = expr
		}
		scope := t.Scope
		if scope == "" {
			scope = models.ScopeProject
		}
		b.rules = append(b.rules, Rule{Predicate: pred, Action: Block{Scope: scope, Comment: t.Comment, Duration: t.Duration}})
		if t.Reject {
			b.rules = append(b.rules, Rule{Predicate: pred, Action: SetStatus{Status: models.StatusRejected, Comment: t.Comment}})
		}
	}
	return b
}

// AddControlTaskControl blocks workers by how many of count control tasks they got right:
// a long block below hardBlock correct answers (omitted when hardBlock is 0) and a
// short block for hardBlock <= correct < softBlock.
func (b *Builder) AddControlTaskControl(count, hardBlock, softBlock int) *Builder {
	if b.err != nil {
		return b
	}
	if b.controlAdded {
		b.err = fmt.Errorf("%w: control task control", ErrPhaseRepeated)
		return b
	}
	b.controlAdded = true
	if count <= 0 || hardBlock < 0 || hardBlock > softBlock || softBlock > count {
		b.err = fmt.Errorf("%w: control tasks %d, hard %d, soft %d", ErrInvalidThreshold, count, hardBlock, softBlock)
		return b
	}
	hard := float64(hardBlock) / float64(count)
	soft := float64(softBlock) / float64(count)
	if hardBlock > 0 {
		b.rules = append(b.rules, Rule{
			Predicate: Accuracy(LessThan, hard),
			Action:    Block{Scope: models.ScopeProject, Comment: "Control tasks failed", Duration: LongBlock},
		})
	}
	if softBlock > hardBlock {
		expr, err := NewExpression(And, Accuracy(GreaterOrEqual, hard), Accuracy(LessThan, soft))
		if err != nil {
			b.err = err
			return b
		}
		b.rules = append(b.rules, Rule{
			Predicate: expr,
			Action:    Block{Scope: models.ScopeProject, Comment: "Too few control tasks correct", Duration: ShortBlock},
		})
	}
	return b
}

// AddRule appends a custom rule.
func (b *Builder) AddRule(p Predicate, a Action) *Builder {
	if b.err != nil {
		return b
	}
	if p == nil || a == nil {
		b.err = fmt.Errorf("%w: rule needs a predicate and an action", ErrUnknownVariant)
		return b
	}
	b.rules = append(b.rules, Rule{Predicate: p, Action: a})
	return b
}

// Build validates the phases and returns the Control.
func (b *Builder) Build() (Control, error) {
	if b.err != nil {
		return Control{}, b.err
	}
	if b.reward == "" {
		return Control{}, ErrRewardMissing
	}
	rules := make([]Rule, len(b.rules))
	copy(rules, b.rules)
	return Control{Rules: rules}, nil
}

func (b *Builder) startReward(kind string) bool {
	if b.err != nil {
		return false
	}
	switch b.reward {
	case "":
		b.reward = kind
		return true
	case kind:
		b.err = fmt.Errorf("%w: %s reward", ErrPhaseRepeated, kind)
	default:
		b.err = ErrRewardConflict
	}
	return false
}

func (b *Builder) addAcceptReject(threshold float64) {
	b.rules = append(b.rules,
		Rule{Predicate: Accuracy(GreaterOrEqual, threshold), Action: SetStatus{Status: models.StatusAccepted}},
		Rule{Predicate: Accuracy(LessThan, threshold), Action: SetStatus{Status: models.StatusRejected, Comment: "Too many incorrect answers"}},
	)
}
