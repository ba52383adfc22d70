package models

import "time"

// Scope defines where a worker restriction applies.
type Scope string

const (
	// ScopePool restricts the worker in a single pool.
	ScopePool Scope = "pool"
	// ScopeProject restricts the worker in every pool of the project.
	ScopeProject Scope = "project"
	// ScopeGlobal restricts the worker across all projects.
	ScopeGlobal Scope = "global"
)

// Valid returns true if the scope is a known value.
func (s Scope) Valid() bool {
	switch s {
	case ScopePool, ScopeProject, ScopeGlobal:
		return true
	default:
		return false
	}
}

// Restriction blocks a worker from receiving further assignments.
type Restriction struct {
	ID       string `json:"id"`
	Scope    Scope  `json:"scope"`
	WorkerID string `json:"worker_id"`
	PoolID   string `json:"pool_id,omitempty"`
	Comment  string `json:"comment,omitempty"`
	// ExpiresAt is nil for permanent restrictions.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Bonus is an extra payment for one submission.
type Bonus struct {
	ID           string  `json:"id"`
	WorkerID     string  `json:"worker_id"`
	SubmissionID string  `json:"submission_id"`
	Amount       float64 `json:"amount"`
	// Message is intentionally empty; workers do not see bonus reasoning.
	Message string `json:"message,omitempty"`
}
