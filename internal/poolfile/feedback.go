package poolfile

import (
	"bytes"
	"fmt"
	"slices"
	"time"

	"github.com/lambdazy/crowdom-sub001/internal/control"
	"github.com/lambdazy/crowdom-sub001/internal/feedback"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// Markup is the answer-producing pool of a feedback definition.
// It has no control tasks: its submissions are scored by the check pool.
type Markup struct {
	Pool             string        `yaml:"pool"`
	TaskDurationHint time.Duration `yaml:"task_duration_hint,omitempty"`
	MinAccuracy      float64       `yaml:"min_accuracy_for_acceptance"`
	Tasks            [][]string    `yaml:"tasks,omitempty"`
	Reward           Reward        `yaml:"reward"`
	SpeedControl     *SpeedControl `yaml:"speed_control,omitempty"`
}

// Bonus configures accuracy-banded bonuses for accepted markup submissions.
type Bonus struct {
	MinBonus            float64 `yaml:"min_bonus"`
	MaxBonus            float64 `yaml:"max_bonus"`
	MinAccuracyForBonus float64 `yaml:"min_accuracy_for_bonus,omitempty"`
	Granularity         int     `yaml:"granularity,omitempty"`
}

// Feedback is a markup pool checked by a classification pool.
type Feedback struct {
	Markup Markup `yaml:"markup"`
	// Check labels default to ok and bad; no other labels are allowed.
	Check                      Pool    `yaml:"check"`
	QualityThreshold           float64 `yaml:"quality_threshold"`
	AssignmentAccuracyFinalize float64 `yaml:"assignment_accuracy_finalization_threshold"`
	MinCheckedSolutions        int     `yaml:"min_checked_solutions"`
	MaxMarkupAttempts          int     `yaml:"max_markup_attempts"`
	Bonus                      *Bonus  `yaml:"bonus,omitempty"`
}

// LoadFeedback reads a feedback definition from path.
func LoadFeedback(path string) (Feedback, error) {
	var f Feedback
	if err := decodeFile(path, &f); err != nil {
		return Feedback{}, err
	}
	return f, nil
}

// ParseFeedback reads a feedback definition from YAML.
func ParseFeedback(data []byte) (Feedback, error) {
	var f Feedback
	if err := decode(bytes.NewReader(data), &f); err != nil {
		return Feedback{}, err
	}
	return f, nil
}

// Compile turns the definition into a validated feedback config.
func (f Feedback) Compile() (feedback.Config, error) {
	labels := []string{models.LabelOK, models.LabelBad}
	if len(f.Check.Labels) > 0 {
		got := slices.Clone(f.Check.Labels)
		slices.Sort(got)
		if !slices.Equal(got, []string{models.LabelBad, models.LabelOK}) {
			return feedback.Config{}, fmt.Errorf("%w: check labels must be %q and %q",
				models.ErrConfiguration, models.LabelOK, models.LabelBad)
		}
	}
	check := f.Check
	check.Labels = labels
	checkCfg, err := check.Compile()
	if err != nil {
		return feedback.Config{}, fmt.Errorf("check: %w", err)
	}

	b := control.NewBuilder()
	addReward(b, f.Markup.Reward)
	if f.Markup.SpeedControl != nil {
		addSpeedControl(b, *f.Markup.SpeedControl)
	}
	markupCtl, err := b.Build()
	if err != nil {
		return feedback.Config{}, fmt.Errorf("markup pool %s: %w", f.Markup.Pool, err)
	}

	cfg := feedback.Config{
		Markup: feedback.MarkupConfig{
			PoolID:           f.Markup.Pool,
			Tasks:            tasks(f.Markup.Tasks),
			TaskDurationHint: f.Markup.TaskDurationHint,
			Control:          markupCtl,
			MinAccuracy:      f.Markup.MinAccuracy,
		},
		Check: checkCfg,
		Thresholds: feedback.Thresholds{
			Quality:            f.QualityThreshold,
			AssignmentAccuracy: f.AssignmentAccuracyFinalize,
			MinChecked:         f.MinCheckedSolutions,
			MaxAttempts:        f.MaxMarkupAttempts,
		},
	}
	if f.Bonus != nil {
		cfg.Bonus = &control.DynamicReward{
			MinBonus:            f.Bonus.MinBonus,
			MaxBonus:            f.Bonus.MaxBonus,
			MinAccuracyForBonus: f.Bonus.MinAccuracyForBonus,
			Granularity:         f.Bonus.Granularity,
		}
	}
	if err := cfg.Validate(); err != nil {
		return feedback.Config{}, err
	}
	return cfg, nil
}

// ExampleFeedback returns a small but complete feedback definition.
func ExampleFeedback() Feedback {
	return Feedback{
		Markup: Markup{
			Pool:             "transcribe",
			TaskDurationHint: 30 * time.Second,
			MinAccuracy:      0.5,
			Tasks:            [][]string{{"https://example.com/audio/1.wav"}, {"https://example.com/audio/2.wav"}},
			Reward:           Reward{Static: &StaticReward{MinAccuracy: 0.5}},
			SpeedControl:     &SpeedControl{RatioRand: 0.1, RatioPoor: 0.3},
		},
		Check: Pool{
			Pool:             "transcribe-check",
			TaskDurationHint: 15 * time.Second,
			MinAccuracy:      0.7,
			Aggregation:      "max_likelihood",
			ControlTasks: []models.ControlTask{
				{Task: models.NewTask("https://example.com/audio/c1.wav", "hello world"), Answer: models.LabelOK, Weight: 1},
				{Task: models.NewTask("https://example.com/audio/c1.wav", "yellow word"), Answer: models.LabelBad, Weight: 1},
			},
			Reward:  Reward{Static: &StaticReward{MinAccuracy: 0.7}},
			Overlap: Overlap{Dynamic: &DynamicOverlap{Min: 2, Max: 4, Confidence: 0.8}},
		},
		QualityThreshold:           0.8,
		AssignmentAccuracyFinalize: 0.85,
		MinCheckedSolutions:        3,
		MaxMarkupAttempts:          3,
		Bonus:                      &Bonus{MinBonus: 0.02, MaxBonus: 0.1, MinAccuracyForBonus: 0.5},
	}
}
