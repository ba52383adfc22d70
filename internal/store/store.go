// Package store defines the remote platform the engine drives and provides
// in-memory and SQLite-backed implementations of it.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// Store errors. Both wrap models.ErrRemoteStore.
var (
	ErrNotFound          = fmt.Errorf("%w: not found", models.ErrRemoteStore)
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", models.ErrRemoteStore)
	ErrWorkerRestricted  = fmt.Errorf("%w: worker is restricted", models.ErrRemoteStore)
)

// PoolTask is a task of a pool with the number of answers requested for it.
type PoolTask struct {
	Task    models.Task `json:"task"`
	Overlap int         `json:"overlap"`
}

// Reader reads pool state.
type Reader interface {
	// FetchSubmissions returns the pool's submissions in submission order.
	// With no statuses every submission is returned.
	FetchSubmissions(ctx context.Context, poolID string, statuses ...models.SubmissionStatus) ([]models.Submission, error)
	PoolTasks(ctx context.Context, poolID string) ([]PoolTask, error)
	// IsPoolClosed reports whether every task received as many answers as requested.
	IsPoolClosed(ctx context.Context, poolID string) (bool, error)
}

// Writer mutates pool and worker state.
type Writer interface {
	SetSubmissionStatus(ctx context.Context, id string, status models.SubmissionStatus, comment string) error
	ApplyWorkerRestriction(ctx context.Context, r models.Restriction) error
	// RaiseTaskOverlap sets the requested answers of a task to overlap.
	RaiseTaskOverlap(ctx context.Context, poolID, taskID string, overlap int) error
	IssueBonus(ctx context.Context, b models.Bonus) error
	// AddTasks adds tasks to a pool. Known tasks keep the larger overlap.
	AddTasks(ctx context.Context, poolID string, tasks []models.Task, overlap int) error
}

// Store is the remote platform as seen by the loops.
type Store interface {
	Reader
	Writer
}

// Admin covers ingestion and inspection, used by the CLI and tests.
type Admin interface {
	CreatePool(ctx context.Context, poolID string) error
	// AddSubmission stores a submission and returns its remote ID.
	AddSubmission(ctx context.Context, sub models.Submission) (string, error)
	Restrictions(ctx context.Context) ([]models.Restriction, error)
	Bonuses(ctx context.Context) ([]models.Bonus, error)
	IsRestricted(ctx context.Context, workerID, poolID string, at time.Time) (bool, error)
}

// Backend is a complete store implementation.
type Backend interface {
	Store
	Admin
}

var (
	_ Backend = (*Memory)(nil)
	_ Backend = (*DB)(nil)
)

// poolClosed reports whether every task has at least its overlap in answers.
func poolClosed(tasks []PoolTask, subs []models.Submission) bool {
	answers := answerCounts(subs)
	for _, t := range tasks {
		if answers[t.Task.ID()] < t.Overlap {
			return false
		}
	}
	return true
}

func answerCounts(subs []models.Submission) map[string]int {
	counts := make(map[string]int)
	for _, s := range subs {
		for _, it := range s.Items {
			if !it.Skipped {
				counts[it.Task.ID()]++
			}
		}
	}
	return counts
}

// restricts reports whether r bars worker from pool at the given time.
func restricts(r models.Restriction, workerID, poolID string, at time.Time) bool {
	if r.WorkerID != workerID {
		return false
	}
	if r.ExpiresAt != nil && !at.Before(*r.ExpiresAt) {
		return false
	}
	return r.Scope != models.ScopePool || r.PoolID == poolID
}

func hasStatus(s models.SubmissionStatus, statuses []models.SubmissionStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}
