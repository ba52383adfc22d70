// Package classification drives a single-stage labeling pool: it filters
// suspiciously fast submissions, scores the rest against control tasks,
// applies the pool's control rules and raises task overlap until every task
// has enough accepted answers.
package classification

import (
	"fmt"
	"time"

	"github.com/lambdazy/crowdom-sub001/internal/aggregation"
	"github.com/lambdazy/crowdom-sub001/internal/control"
	"github.com/lambdazy/crowdom-sub001/internal/overlap"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// Config describes one classification pool.
type Config struct {
	PoolID string
	// Tasks are the real tasks the pool is seeded with.
	Tasks        []models.Task
	ControlTasks []models.ControlTask
	// Labels are the possible answers, used by aggregation.
	Labels []string
	// TaskDurationHint is the expected time a worker spends on one task.
	TaskDurationHint time.Duration
	Control          control.Control
	Overlap          overlap.Policy
	Aggregation      aggregation.Algorithm
	// MinAccuracy decides submissions no status rule decided.
	MinAccuracy float64
}

// Validate checks that the pool can be driven.
func (c Config) Validate() error {
	if c.PoolID == "" {
		return fmt.Errorf("%w: pool id is empty", models.ErrConfiguration)
	}
	if c.Overlap == nil {
		return fmt.Errorf("%w: pool %s has no overlap policy", models.ErrConfiguration, c.PoolID)
	}
	if d, ok := c.Overlap.(overlap.Dynamic); ok {
		if err := d.Validate(); err != nil {
			return err
		}
	} else if c.Overlap.Initial() <= 0 {
		return fmt.Errorf("%w: pool %s overlap must be positive", models.ErrConfiguration, c.PoolID)
	}
	if c.Aggregation == nil {
		return fmt.Errorf("%w: pool %s has no aggregation", models.ErrConfiguration, c.PoolID)
	}
	if c.MinAccuracy < 0 || c.MinAccuracy > 1 {
		return fmt.Errorf("%w: min accuracy %v", control.ErrInvalidThreshold, c.MinAccuracy)
	}
	if len(c.Control.Only(control.KindDuration).Rules) > 0 && c.TaskDurationHint <= 0 {
		return fmt.Errorf("pool %s: %w", c.PoolID, control.ErrMissingDurationHint)
	}
	for _, ct := range c.ControlTasks {
		if ct.Weight <= 0 {
			return fmt.Errorf("%w: control task %v needs a positive weight", models.ErrConfiguration, ct.Inputs)
		}
	}
	return nil
}
