package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// DB is a platform store kept in a local SQLite database.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultPath returns the project-local store path.
func DefaultPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".crowdom", "platform.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Pools},
		{2, migrationV2Submissions},
		{3, migrationV3Workers},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Pools = `
CREATE TABLE IF NOT EXISTS pools (
	id TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	pool_id TEXT NOT NULL REFERENCES pools(id),
	task_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	inputs TEXT NOT NULL,
	overlap INTEGER NOT NULL,
	PRIMARY KEY (pool_id, task_id)
);
`

const migrationV2Submissions = `
CREATE TABLE IF NOT EXISTS submissions (
	id TEXT PRIMARY KEY,
	pool_id TEXT NOT NULL REFERENCES pools(id),
	worker_id TEXT NOT NULL,
	items TEXT NOT NULL,
	started_at TEXT NOT NULL,
	submitted_at TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'SUBMITTED',
	comment TEXT
);

CREATE INDEX IF NOT EXISTS idx_submissions_pool_status ON submissions(pool_id, status);
`

const migrationV3Workers = `
CREATE TABLE IF NOT EXISTS restrictions (
	id TEXT PRIMARY KEY,
	scope TEXT NOT NULL,
	worker_id TEXT NOT NULL,
	pool_id TEXT,
	comment TEXT,
	expires_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_restrictions_worker ON restrictions(worker_id);

CREATE TABLE IF NOT EXISTS bonuses (
	id TEXT PRIMARY KEY,
	worker_id TEXT NOT NULL,
	submission_id TEXT NOT NULL,
	amount REAL NOT NULL,
	message TEXT
);
`

// remote marks err as a store failure.
func remote(op string, err error) error {
	if errors.Is(err, models.ErrRemoteStore) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrRemoteStore, err)
}

// timeLayout is fixed-width so stored times sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func (db *DB) requirePool(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, poolID string) error {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM pools WHERE id = ?", poolID).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("pool %s: %w", poolID, ErrNotFound)
	}
	return nil
}

func (db *DB) CreatePool(ctx context.Context, poolID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.ExecContext(ctx, `INSERT OR IGNORE INTO pools (id, created_at) VALUES (?, ?)`,
		poolID, formatTime(time.Now()))
	if err != nil {
		return remote("create pool", err)
	}
	return nil
}

func (db *DB) AddTasks(ctx context.Context, poolID string, tasks []models.Task, overlap int) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return remote("begin transaction", err)
	}
	if err := db.addTasks(ctx, tx, poolID, tasks, overlap); err != nil {
		tx.Rollback()
		return remote("add tasks", err)
	}
	if err := tx.Commit(); err != nil {
		return remote("add tasks", err)
	}
	return nil
}

func (db *DB) addTasks(ctx context.Context, tx *sql.Tx, poolID string, tasks []models.Task, overlap int) error {
	if err := db.requirePool(ctx, tx, poolID); err != nil {
		return err
	}
	var next int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(position), -1) + 1 FROM tasks WHERE pool_id = ?", poolID).Scan(&next); err != nil {
		return err
	}
	for _, t := range tasks {
		inputs, err := json.Marshal(t.Inputs)
		if err != nil {
			return fmt.Errorf("encode task inputs: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (pool_id, task_id, position, inputs, overlap) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (pool_id, task_id) DO UPDATE SET overlap = MAX(overlap, excluded.overlap)
		`, poolID, t.ID(), next, string(inputs), overlap)
		if err != nil {
			return err
		}
		next++
	}
	return nil
}

func (db *DB) PoolTasks(ctx context.Context, poolID string) ([]PoolTask, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	tasks, err := db.poolTasks(ctx, poolID)
	if err != nil {
		return nil, remote("pool tasks", err)
	}
	return tasks, nil
}

func (db *DB) poolTasks(ctx context.Context, poolID string) ([]PoolTask, error) {
	if err := db.requirePool(ctx, db.conn, poolID); err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, `SELECT inputs, overlap FROM tasks WHERE pool_id = ? ORDER BY position`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PoolTask
	for rows.Next() {
		var raw string
		var pt PoolTask
		if err := rows.Scan(&raw, &pt.Overlap); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &pt.Task.Inputs); err != nil {
			return nil, fmt.Errorf("decode task inputs: %w", err)
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (db *DB) RaiseTaskOverlap(ctx context.Context, poolID, taskID string, overlap int) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.conn.ExecContext(ctx, `UPDATE tasks SET overlap = ? WHERE pool_id = ? AND task_id = ?`, overlap, poolID, taskID)
	if err != nil {
		return remote("raise overlap", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return remote("raise overlap", fmt.Errorf("task %s: %w", taskID, ErrNotFound))
	}
	return nil
}

func (db *DB) AddSubmission(ctx context.Context, sub models.Submission) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.requirePool(ctx, db.conn, sub.PoolID); err != nil {
		return "", remote("add submission", err)
	}
	restricted, err := db.isRestricted(ctx, sub.WorkerID, sub.PoolID, sub.StartedAt)
	if err != nil {
		return "", remote("add submission", err)
	}
	if restricted {
		return "", fmt.Errorf("worker %s: %w", sub.WorkerID, ErrWorkerRestricted)
	}

	id := uuid.New().String()
	if sub.RemoteID != nil {
		id = *sub.RemoteID
	}
	status := sub.Status
	if status == "" {
		status = models.StatusSubmitted
	}
	items, err := json.Marshal(sub.Items)
	if err != nil {
		return "", fmt.Errorf("encode items: %w", err)
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO submissions (id, pool_id, worker_id, items, started_at, submitted_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, sub.PoolID, sub.WorkerID, string(items), formatTime(sub.StartedAt), formatTime(sub.SubmittedAt), string(status))
	if err != nil {
		return "", remote("add submission", err)
	}
	return id, nil
}

func (db *DB) FetchSubmissions(ctx context.Context, poolID string, statuses ...models.SubmissionStatus) ([]models.Submission, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	subs, err := db.fetchSubmissions(ctx, poolID, statuses)
	if err != nil {
		return nil, remote("fetch submissions", err)
	}
	return subs, nil
}

func (db *DB) fetchSubmissions(ctx context.Context, poolID string, statuses []models.SubmissionStatus) ([]models.Submission, error) {
	if err := db.requirePool(ctx, db.conn, poolID); err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, worker_id, items, started_at, submitted_at, status
		FROM submissions WHERE pool_id = ? ORDER BY submitted_at, rowid
	`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Submission
	for rows.Next() {
		var id, items, startedAt, submittedAt string
		sub := models.Submission{PoolID: poolID}
		if err := rows.Scan(&id, &sub.WorkerID, &items, &startedAt, &submittedAt, &sub.Status); err != nil {
			return nil, err
		}
		if !hasStatus(sub.Status, statuses) {
			continue
		}
		sub.RemoteID = models.StringPtr(id)
		if err := json.Unmarshal([]byte(items), &sub.Items); err != nil {
			return nil, fmt.Errorf("decode items of %s: %w", id, err)
		}
		sub.StartedAt, _ = parseTime(startedAt)
		sub.SubmittedAt, _ = parseTime(submittedAt)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (db *DB) SetSubmissionStatus(ctx context.Context, id string, status models.SubmissionStatus, comment string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var current models.SubmissionStatus
	err := db.conn.QueryRowContext(ctx, "SELECT status FROM submissions WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return remote("set status", err)
	}
	if current != models.StatusSubmitted || !status.Terminal() {
		return fmt.Errorf("%s -> %s: %w", current, status, ErrInvalidTransition)
	}
	if _, err := db.conn.ExecContext(ctx, "UPDATE submissions SET status = ?, comment = ? WHERE id = ?", string(status), comment, id); err != nil {
		return remote("set status", err)
	}
	return nil
}

func (db *DB) ApplyWorkerRestriction(ctx context.Context, r models.Restriction) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	var expires sql.NullString
	if r.ExpiresAt != nil {
		expires = sql.NullString{String: formatTime(*r.ExpiresAt), Valid: true}
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO restrictions (id, scope, worker_id, pool_id, comment, expires_at) VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, string(r.Scope), r.WorkerID, r.PoolID, r.Comment, expires)
	if err != nil {
		return remote("restrict worker", err)
	}
	return nil
}

func (db *DB) IssueBonus(ctx context.Context, b models.Bonus) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO bonuses (id, worker_id, submission_id, amount, message) VALUES (?, ?, ?, ?, ?)
	`, b.ID, b.WorkerID, b.SubmissionID, b.Amount, b.Message)
	if err != nil {
		return remote("issue bonus", err)
	}
	return nil
}

func (db *DB) IsPoolClosed(ctx context.Context, poolID string) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	tasks, err := db.poolTasks(ctx, poolID)
	if err != nil {
		return false, remote("pool closed", err)
	}
	subs, err := db.fetchSubmissions(ctx, poolID, nil)
	if err != nil {
		return false, remote("pool closed", err)
	}
	return poolClosed(tasks, subs), nil
}

func (db *DB) Restrictions(ctx context.Context) ([]models.Restriction, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out, err := db.restrictions(ctx, "")
	if err != nil {
		return nil, remote("list restrictions", err)
	}
	return out, nil
}

func (db *DB) restrictions(ctx context.Context, workerID string) ([]models.Restriction, error) {
	query := "SELECT id, scope, worker_id, pool_id, comment, expires_at FROM restrictions"
	var args []any
	if workerID != "" {
		query += " WHERE worker_id = ?"
		args = append(args, workerID)
	}
	rows, err := db.conn.QueryContext(ctx, query+" ORDER BY rowid", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Restriction
	for rows.Next() {
		var r models.Restriction
		var poolID, comment, expires sql.NullString
		if err := rows.Scan(&r.ID, &r.Scope, &r.WorkerID, &poolID, &comment, &expires); err != nil {
			return nil, err
		}
		r.PoolID = poolID.String
		r.Comment = comment.String
		r.ExpiresAt = parseNullableTime(expires)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) Bonuses(ctx context.Context) ([]models.Bonus, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	rows, err := db.conn.QueryContext(ctx, "SELECT id, worker_id, submission_id, amount, message FROM bonuses ORDER BY rowid")
	if err != nil {
		return nil, remote("list bonuses", err)
	}
	defer rows.Close()

	var out []models.Bonus
	for rows.Next() {
		var b models.Bonus
		var msg sql.NullString
		if err := rows.Scan(&b.ID, &b.WorkerID, &b.SubmissionID, &b.Amount, &msg); err != nil {
			return nil, remote("list bonuses", err)
		}
		b.Message = msg.String
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, remote("list bonuses", err)
	}
	return out, nil
}

func (db *DB) IsRestricted(ctx context.Context, workerID, poolID string, at time.Time) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ok, err := db.isRestricted(ctx, workerID, poolID, at)
	if err != nil {
		return false, remote("check restriction", err)
	}
	return ok, nil
}

func (db *DB) isRestricted(ctx context.Context, workerID, poolID string, at time.Time) (bool, error) {
	rs, err := db.restrictions(ctx, workerID)
	if err != nil {
		return false, err
	}
	for _, r := range rs {
		if restricts(r, workerID, poolID, at) {
			return true, nil
		}
	}
	return false, nil
}
