package models

import (
	"fmt"
	"time"
)

// SubmissionStatus represents the lifecycle state of a submission.
type SubmissionStatus string

const (
	// StatusSubmitted indicates the worker finished and the submission awaits review.
	StatusSubmitted SubmissionStatus = "SUBMITTED"
	// StatusAccepted indicates the submission was accepted and paid.
	StatusAccepted SubmissionStatus = "ACCEPTED"
	// StatusRejected indicates the submission was rejected.
	StatusRejected SubmissionStatus = "REJECTED"
)

// Valid returns true if the status is a known value.
func (s SubmissionStatus) Valid() bool {
	switch s {
	case StatusSubmitted, StatusAccepted, StatusRejected:
		return true
	default:
		return false
	}
}

// Terminal returns true for statuses that can no longer change.
func (s SubmissionStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Item is one (task, answer) pair inside a submission.
type Item struct {
	Task   Task   `json:"task" yaml:"task"`
	Answer string `json:"answer" yaml:"answer"`
	// Skipped marks items the worker did not get to; they are never checkable.
	Skipped bool `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// Submission is one worker's completed batch of tasks (an assignment).
type Submission struct {
	// RemoteID is the store-side identity. Nil for in-memory model workers,
	// which are never mutated remotely.
	RemoteID    *string          `json:"remote_id,omitempty"`
	PoolID      string           `json:"pool_id"`
	WorkerID    string           `json:"worker_id"`
	Items       []Item           `json:"items"`
	StartedAt   time.Time        `json:"started_at"`
	SubmittedAt time.Time        `json:"submitted_at"`
	Status      SubmissionStatus `json:"status"`
}

// Addressable reports whether the submission can be mutated at the store.
func (s Submission) Addressable() bool {
	return s.RemoteID != nil
}

// Key returns an identity usable as a map key for both remote and model submissions.
func (s Submission) Key() string {
	if s.RemoteID != nil {
		return *s.RemoteID
	}
	return fmt.Sprintf("model:%s:%d", s.WorkerID, s.SubmittedAt.UnixNano())
}

// Duration returns how long the worker spent on the submission.
func (s Submission) Duration() time.Duration {
	return s.SubmittedAt.Sub(s.StartedAt)
}

// Completed returns the number of answered (non-skipped) items.
func (s Submission) Completed() int {
	n := 0
	for _, it := range s.Items {
		if !it.Skipped {
			n++
		}
	}
	return n
}

// Incomplete reports whether the worker ran out of tasks before answering all items.
func (s Submission) Incomplete() bool {
	return s.Completed() < len(s.Items)
}

// Solutions returns the answered items as solutions.
func (s Submission) Solutions() []Solution {
	out := make([]Solution, 0, len(s.Items))
	for _, it := range s.Items {
		if it.Skipped {
			continue
		}
		out = append(out, Solution{Task: it.Task, Answer: it.Answer})
	}
	return out
}

// StringPtr returns a pointer to s, for building RemoteIDs.
func StringPtr(s string) *string {
	return &s
}
