// Package feedback drives the two-stage produce-then-verify workflow: a markup
// pool where workers produce answers and a check pool where other workers
// vote whether those answers are correct.
package feedback

import (
	"fmt"
	"time"

	"github.com/lambdazy/crowdom-sub001/internal/classification"
	"github.com/lambdazy/crowdom-sub001/internal/control"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// MarkupConfig describes the pool producing answers.
type MarkupConfig struct {
	PoolID string
	Tasks  []models.Task
	// TaskDurationHint is the expected time a worker spends on one task.
	TaskDurationHint time.Duration
	// Control is applied to markup submissions once every solution is checked.
	Control control.Control
	// MinAccuracy decides submissions no status rule decided.
	MinAccuracy float64
}

// Thresholds decide when a markup task needs no further attempts.
type Thresholds struct {
	// Quality finalizes a task once one of its solutions was checked OK with
	// at least this confidence.
	Quality float64
	// AssignmentAccuracy finalizes a task once a solution comes from a
	// submission whose checked accuracy exceeds it.
	AssignmentAccuracy float64
	// MinChecked is the number of checked solutions a submission needs
	// before its accuracy counts.
	MinChecked int
	// MaxAttempts finalizes a task after this many solutions.
	MaxAttempts int
}

// Config describes a feedback loop.
type Config struct {
	Markup MarkupConfig
	// Check is the verifying pool. Its tasks are created from markup solutions
	// and its labels are models.LabelOK and models.LabelBad.
	Check      classification.Config
	Thresholds Thresholds
	// Bonus pays accuracy-banded bonuses on accepted markup submissions.
	Bonus *control.DynamicReward
}

// Validate checks the configuration and compiles the bonus rules.
func (c Config) Validate() error {
	if _, err := c.bonusControl(); err != nil {
		return err
	}
	if c.Markup.PoolID == "" {
		return fmt.Errorf("%w: markup pool id is empty", models.ErrConfiguration)
	}
	if c.Markup.PoolID == c.Check.PoolID {
		return fmt.Errorf("%w: markup and check pools must differ", models.ErrConfiguration)
	}
	if c.Markup.MinAccuracy < 0 || c.Markup.MinAccuracy > 1 {
		return fmt.Errorf("%w: markup min accuracy %v", control.ErrInvalidThreshold, c.Markup.MinAccuracy)
	}
	if len(c.Markup.Control.Only(control.KindDuration).Rules) > 0 && c.Markup.TaskDurationHint <= 0 {
		return fmt.Errorf("markup pool %s: %w", c.Markup.PoolID, control.ErrMissingDurationHint)
	}
	if err := c.Check.Validate(); err != nil {
		return fmt.Errorf("check pool: %w", err)
	}
	t := c.Thresholds
	if t.Quality <= 0 || t.Quality > 1 {
		return fmt.Errorf("%w: quality threshold %v", control.ErrInvalidThreshold, t.Quality)
	}
	if t.AssignmentAccuracy < 0 || t.AssignmentAccuracy > 1 {
		return fmt.Errorf("%w: assignment accuracy threshold %v", control.ErrInvalidThreshold, t.AssignmentAccuracy)
	}
	if t.MinChecked < 0 || t.MaxAttempts < 1 {
		return fmt.Errorf("%w: min checked %d, max attempts %d", control.ErrInvalidThreshold, t.MinChecked, t.MaxAttempts)
	}
	if c.Bonus != nil && len(c.Markup.Control.FilterRules(control.KindAccuracy, control.ActionBonus)) > 0 {
		return fmt.Errorf("%w: markup control already pays bonuses", control.ErrRewardConflict)
	}
	return nil
}

// bonusControl validates Bonus through the rule builder and keeps its bonus tiers.
func (c Config) bonusControl() (control.Control, error) {
	if c.Bonus == nil {
		return control.Control{}, nil
	}
	ctl, err := control.NewBuilder().AddDynamicReward(*c.Bonus).Build()
	if err != nil {
		return control.Control{}, fmt.Errorf("bonus: %w", err)
	}
	return control.Control{Rules: ctl.FilterRules(control.KindAccuracy, control.ActionBonus)}, nil
}
