// Package signals provides cooperative pause and stop control for running loops.
package signals

import (
	"context"
	"errors"
	"sync"

	"github.com/lambdazy/crowdom-sub001/internal/logging"
)

// ErrStopped is returned by WaitIfPaused once a stop was requested.
var ErrStopped = errors.New("loop stopped")

// State is the run state a PauseController holds.
type State string

const (
	StateRunning State = "running"
	StatePaused  State = "paused"
	// StateStopped is final.
	StateStopped State = "stopped"
)

// PauseController holds the run state shared by the loops of one process.
// Loops consult it between iterations; a pause holds them there until
// resumed, a stop makes them return.
type PauseController struct {
	mu    sync.Mutex
	state State
	// changed is closed and replaced on every transition.
	changed chan struct{}
	log     *logging.Logger
}

// ControllerOption configures a PauseController.
type ControllerOption func(*PauseController)

// WithLogger logs state transitions to l.
func WithLogger(l *logging.Logger) ControllerOption {
	return func(p *PauseController) { p.log = l }
}

// NewPauseController creates a running controller.
func NewPauseController(opts ...ControllerOption) *PauseController {
	p := &PauseController{state: StateRunning, changed: make(chan struct{})}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logging.Nop()
	}
	p.log = p.log.With("[signals]")
	return p
}

// set moves to s unless the controller is stopped. It reports whether the state changed.
func (p *PauseController) set(s State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == s || p.state == StateStopped {
		return false
	}
	p.log.Log("%s -> %s", p.state, s)
	p.state = s
	close(p.changed)
	p.changed = make(chan struct{})
	return true
}

// Pause holds loops before their next iteration.
func (p *PauseController) Pause() { p.set(StatePaused) }

// Resume releases paused loops. It has no effect after Stop.
func (p *PauseController) Resume() {
	p.mu.Lock()
	paused := p.state == StatePaused
	p.mu.Unlock()
	if paused {
		p.set(StateRunning)
	}
}

// Stop makes every current and future WaitIfPaused return ErrStopped.
func (p *PauseController) Stop() { p.set(StateStopped) }

// State returns the current state.
func (p *PauseController) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsPaused reports whether loops are held.
func (p *PauseController) IsPaused() bool { return p.State() == StatePaused }

// IsStopped reports whether a stop was requested.
func (p *PauseController) IsStopped() bool { return p.State() == StateStopped }

// WaitIfPaused blocks while the controller is paused.
// It returns ErrStopped after a stop and the context error on cancellation.
func (p *PauseController) WaitIfPaused(ctx context.Context) error {
	for {
		p.mu.Lock()
		state, changed := p.state, p.changed
		p.mu.Unlock()

		switch state {
		case StateStopped:
			return ErrStopped
		case StateRunning:
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}
