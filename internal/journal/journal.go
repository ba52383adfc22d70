// Package journal keeps a history of loop runs and their iterations.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Run is one invocation of a loop over one or more pools.
type Run struct {
	ID         string
	Kind       string
	Pools      []string
	Status     string
	Error      string
	Iterations int
	StartedAt  time.Time
	UpdatedAt  time.Time
}

// Journal stores runs in a SQLite database.
type Journal struct {
	db *sql.DB
}

// DefaultPath returns the project-local journal path.
func DefaultPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".crowdom", "journal.db")
}

// Open opens the journal at dbPath, creating it if needed.
func Open(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// concurrent loops share one connection; sqlite allows a single writer
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT,
			pools TEXT,
			status TEXT,
			error TEXT,
			iterations INT,
			started_at DATETIME,
			updated_at DATETIME
		);
		CREATE TABLE IF NOT EXISTS iterations (
			run_id TEXT NOT NULL,
			loop TEXT,
			pool_id TEXT,
			iteration INT,
			at DATETIME,
			fetched INT,
			filtered INT,
			accepted INT,
			rejected INT,
			restricted INT,
			bonuses INT,
			raised INT,
			data_errors INT,
			finalized INT,
			closed BOOLEAN
		);
		CREATE INDEX IF NOT EXISTS idx_iterations_run ON iterations(run_id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// StartRun records a new running run.
func (j *Journal) StartRun(ctx context.Context, kind string, pools ...string) (*Run, error) {
	now := time.Now()
	run := &Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		Pools:     pools,
		Status:    StatusRunning,
		StartedAt: now,
		UpdatedAt: now,
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, pools, status, error, iterations, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Kind, strings.Join(run.Pools, ","), run.Status, "", 0, run.StartedAt, run.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun marks a run completed, failed or canceled.
func (j *Journal) FinishRun(ctx context.Context, id, status string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	result, err := j.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, msg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// Record appends an iteration report to a run.
func (j *Journal) Record(ctx context.Context, runID string, r models.IterationReport) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO iterations (run_id, loop, pool_id, iteration, at, fetched, filtered, accepted, rejected,
			restricted, bonuses, raised, data_errors, finalized, closed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, r.Loop, r.PoolID, r.Iteration, r.At, r.Fetched, r.Filtered, r.Accepted, r.Rejected,
		r.Restricted, r.Bonuses, r.Raised, r.DataErrors, r.Finalized, r.Closed)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert iteration: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE runs SET iterations = MAX(iterations, ?), updated_at = ? WHERE id = ?
	`, r.Iteration, time.Now(), runID)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("update run: %w", err)
	}
	return tx.Commit()
}

// Recorder returns a recorder bound to a run.
func (j *Journal) Recorder(runID string) *RunRecorder {
	return &RunRecorder{journal: j, runID: runID}
}

// RunRecorder records iteration reports for one run.
type RunRecorder struct {
	journal *Journal
	runID   string
}

func (r *RunRecorder) Record(ctx context.Context, report models.IterationReport) error {
	return r.journal.Record(ctx, r.runID, report)
}

// GetRun retrieves a run by ID.
func (j *Journal) GetRun(ctx context.Context, id string) (*Run, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, kind, pools, status, error, iterations, started_at, updated_at
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}

// Runs returns the latest runs, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, kind, pools, status, error, iterations, started_at, updated_at
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// Iterations returns the recorded iterations of a run in order.
func (j *Journal) Iterations(ctx context.Context, runID string) ([]models.IterationReport, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT loop, pool_id, iteration, at, fetched, filtered, accepted, rejected,
			restricted, bonuses, raised, data_errors, finalized, closed
		FROM iterations WHERE run_id = ? ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query iterations: %w", err)
	}
	defer rows.Close()

	var out []models.IterationReport
	for rows.Next() {
		var r models.IterationReport
		err := rows.Scan(&r.Loop, &r.PoolID, &r.Iteration, &r.At, &r.Fetched, &r.Filtered, &r.Accepted,
			&r.Rejected, &r.Restricted, &r.Bonuses, &r.Raised, &r.DataErrors, &r.Finalized, &r.Closed)
		if err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var pools, runErr sql.NullString
	err := s.Scan(&run.ID, &run.Kind, &pools, &run.Status, &runErr, &run.Iterations, &run.StartedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if pools.String != "" {
		run.Pools = strings.Split(pools.String, ",")
	}
	run.Error = runErr.String
	return &run, nil
}
