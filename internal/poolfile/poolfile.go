// Package poolfile reads YAML pool definitions and compiles them into loop
// configurations. Controls go through control.Builder, so a malformed rule set
// fails when the file is loaded rather than when the first submission arrives.
package poolfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/lambdazy/crowdom-sub001/internal/aggregation"
	"github.com/lambdazy/crowdom-sub001/internal/classification"
	"github.com/lambdazy/crowdom-sub001/internal/control"
	"github.com/lambdazy/crowdom-sub001/internal/overlap"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// StaticReward accepts submissions at or above MinAccuracy.
type StaticReward struct {
	MinAccuracy float64 `yaml:"min_accuracy"`
}

// DynamicReward pays accuracy-banded bonuses on top of acceptance.
type DynamicReward struct {
	MinBonus             float64 `yaml:"min_bonus"`
	MaxBonus             float64 `yaml:"max_bonus"`
	MinAccuracyForBonus  float64 `yaml:"min_accuracy_for_bonus"`
	MinAccuracyForAccept float64 `yaml:"min_accuracy_for_accept"`
	Granularity          int     `yaml:"granularity,omitempty"`
}

func (r DynamicReward) control() control.DynamicReward {
	return control.DynamicReward{
		MinBonus:             r.MinBonus,
		MaxBonus:             r.MaxBonus,
		MinAccuracyForBonus:  r.MinAccuracyForBonus,
		MinAccuracyForAccept: r.MinAccuracyForAccept,
		Granularity:          r.Granularity,
	}
}

// Reward holds exactly one of the reward kinds.
type Reward struct {
	Static  *StaticReward  `yaml:"static,omitempty"`
	Dynamic *DynamicReward `yaml:"dynamic,omitempty"`
}

// SpeedTier is one tier of speed control, see control.SpeedTier.
type SpeedTier struct {
	Ratio    float64       `yaml:"ratio"`
	Scope    models.Scope  `yaml:"scope,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
	Comment  string        `yaml:"comment,omitempty"`
	Reject   bool          `yaml:"reject,omitempty"`
}

// SpeedControl is either the two predefined tiers or an explicit tier list.
type SpeedControl struct {
	RatioRand float64     `yaml:"ratio_rand,omitempty"`
	RatioPoor float64     `yaml:"ratio_poor,omitempty"`
	Tiers     []SpeedTier `yaml:"tiers,omitempty"`
}

// ControlTaskControl blocks workers failing control tasks, see
// control.Builder.AddControlTaskControl.
type ControlTaskControl struct {
	Count     int `yaml:"count"`
	HardBlock int `yaml:"hard_block"`
	SoftBlock int `yaml:"soft_block"`
}

// DynamicOverlap configures overlap.Dynamic.
type DynamicOverlap struct {
	Min        int                `yaml:"min"`
	Max        int                `yaml:"max"`
	Confidence float64            `yaml:"confidence"`
	PerLabel   map[string]float64 `yaml:"per_label,omitempty"`
	// Aggregation defaults to the pool's aggregation.
	Aggregation string `yaml:"aggregation,omitempty"`
}

// Overlap holds exactly one of the overlap policies.
type Overlap struct {
	Static  int             `yaml:"static,omitempty"`
	Dynamic *DynamicOverlap `yaml:"dynamic,omitempty"`
}

// Pool is a classification pool definition.
type Pool struct {
	Pool             string               `yaml:"pool"`
	Labels           []string             `yaml:"labels,omitempty"`
	TaskDurationHint time.Duration        `yaml:"task_duration_hint,omitempty"`
	MinAccuracy      float64              `yaml:"min_accuracy_for_acceptance"`
	Aggregation      string               `yaml:"aggregation,omitempty"`
	Tasks            [][]string           `yaml:"tasks,omitempty"`
	ControlTasks     []models.ControlTask `yaml:"control_tasks,omitempty"`
	Reward           Reward               `yaml:"reward"`
	SpeedControl     *SpeedControl        `yaml:"speed_control,omitempty"`
	ControlControl   *ControlTaskControl  `yaml:"control_task_control,omitempty"`
	Overlap          Overlap              `yaml:"overlap"`
}

// Definition kinds.
const (
	KindPool     = "classification"
	KindFeedback = "feedback"
)

// DetectKind tells a feedback definition, which has a markup section, from a pool definition.
func DetectKind(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(data, &top); err != nil {
		return "", fmt.Errorf("%s: %w: %v", path, models.ErrConfiguration, err)
	}
	if _, ok := top["markup"]; ok {
		return KindFeedback, nil
	}
	return KindPool, nil
}

// Load reads a pool definition from path.
func Load(path string) (Pool, error) {
	var p Pool
	if err := decodeFile(path, &p); err != nil {
		return Pool{}, err
	}
	return p, nil
}

// Parse reads a pool definition from YAML.
func Parse(data []byte) (Pool, error) {
	var p Pool
	if err := decode(bytes.NewReader(data), &p); err != nil {
		return Pool{}, err
	}
	return p, nil
}

// Control builds the pool's rule set.
func (p Pool) Control() (control.Control, error) {
	b := control.NewBuilder()
	addReward(b, p.Reward)
	if p.SpeedControl != nil {
		addSpeedControl(b, *p.SpeedControl)
	}
	if cc := p.ControlControl; cc != nil {
		b.AddControlTaskControl(cc.Count, cc.HardBlock, cc.SoftBlock)
	}
	ctl, err := b.Build()
	if err != nil {
		return control.Control{}, fmt.Errorf("pool %s: %w", p.Pool, err)
	}
	return ctl, nil
}

// Compile turns the definition into a validated classification config.
func (p Pool) Compile() (classification.Config, error) {
	ctl, err := p.Control()
	if err != nil {
		return classification.Config{}, err
	}
	agg, err := aggregation.New(p.Aggregation, p.Labels)
	if err != nil {
		return classification.Config{}, fmt.Errorf("pool %s: %w", p.Pool, err)
	}
	pol, err := p.Overlap.policy(agg, p.Labels)
	if err != nil {
		return classification.Config{}, fmt.Errorf("pool %s: %w", p.Pool, err)
	}
	cfg := classification.Config{
		PoolID:           p.Pool,
		Tasks:            tasks(p.Tasks),
		ControlTasks:     controlTasks(p.ControlTasks),
		Labels:           p.Labels,
		TaskDurationHint: p.TaskDurationHint,
		Control:          ctl,
		Overlap:          pol,
		Aggregation:      agg,
		MinAccuracy:      p.MinAccuracy,
	}
	if err := cfg.Validate(); err != nil {
		return classification.Config{}, err
	}
	return cfg, nil
}

func (o Overlap) policy(poolAgg aggregation.Algorithm, labels []string) (overlap.Policy, error) {
	switch {
	case o.Static > 0 && o.Dynamic != nil:
		return nil, fmt.Errorf("%w: overlap must be static or dynamic, not both", models.ErrConfiguration)
	case o.Dynamic != nil:
		agg := poolAgg
		if o.Dynamic.Aggregation != "" {
			var err error
			if agg, err = aggregation.New(o.Dynamic.Aggregation, labels); err != nil {
				return nil, err
			}
		}
		d := overlap.Dynamic{
			Min:         o.Dynamic.Min,
			Max:         o.Dynamic.Max,
			Confidence:  o.Dynamic.Confidence,
			PerLabel:    o.Dynamic.PerLabel,
			Aggregation: agg,
		}
		return d, d.Validate()
	case o.Static > 0:
		return overlap.Static{Overlap: o.Static}, nil
	default:
		return nil, fmt.Errorf("%w: overlap is not configured", models.ErrConfiguration)
	}
}

func addReward(b *control.Builder, r Reward) {
	if r.Static != nil {
		b.AddStaticReward(r.Static.MinAccuracy)
	}
	if r.Dynamic != nil {
		b.AddDynamicReward(r.Dynamic.control())
	}
}

func addSpeedControl(b *control.Builder, s SpeedControl) {
	if len(s.Tiers) == 0 {
		b.AddSpeedControl(s.RatioRand, s.RatioPoor)
		return
	}
	tiers := make([]control.SpeedTier, len(s.Tiers))
	for i, t := range s.Tiers {
		tiers[i] = control.SpeedTier{Ratio: t.Ratio, Scope: t.Scope, Duration: t.Duration, Comment: t.Comment, Reject: t.Reject}
	}
	b.AddComplexSpeedControl(tiers)
}

func tasks(inputs [][]string) []models.Task {
	out := make([]models.Task, len(inputs))
	for i, in := range inputs {
		out[i] = models.NewTask(in...)
	}
	return out
}

// controlTasks copies the control tasks, giving weightless ones a weight of 1.
func controlTasks(in []models.ControlTask) []models.ControlTask {
	out := make([]models.ControlTask, len(in))
	for i, ct := range in {
		if ct.Weight == 0 {
			ct.Weight = 1
		}
		out[i] = ct
	}
	return out
}

func decodeFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if err := decode(f, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// decode rejects unknown keys, so a misspelled rule does not silently vanish.
func decode(r io.Reader, v any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty definition", models.ErrConfiguration)
		}
		return fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}
	return nil
}

// Write stores a definition as YAML.
func Write(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Example returns a small but complete classification pool definition.
func Example() Pool {
	return Pool{
		Pool:             "animals",
		Labels:           []string{"cat", "dog"},
		TaskDurationHint: 10 * time.Second,
		MinAccuracy:      0.6,
		Aggregation:      "max_likelihood",
		Tasks:            [][]string{{"https://example.com/img/1.jpg"}, {"https://example.com/img/2.jpg"}},
		ControlTasks: []models.ControlTask{
			{Task: models.NewTask("https://example.com/img/c1.jpg"), Answer: "cat", Weight: 1},
			{Task: models.NewTask("https://example.com/img/c2.jpg"), Answer: "dog", Weight: 1},
		},
		Reward:         Reward{Dynamic: &DynamicReward{MinBonus: 0.01, MaxBonus: 0.05, MinAccuracyForBonus: 0.5, MinAccuracyForAccept: 0.6}},
		SpeedControl:   &SpeedControl{RatioRand: 0.1, RatioPoor: 0.3},
		ControlControl: &ControlTaskControl{Count: 2, HardBlock: 0, SoftBlock: 1},
		Overlap:        Overlap{Dynamic: &DynamicOverlap{Min: 2, Max: 5, Confidence: 0.85}},
	}
}
