// Package history records driver runs and dispatch outcomes in a
// project-local SQLite database so past orchestration activity stays
// inspectable after the documents have moved on.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run outcomes.
const (
	OutcomeRunning    = "running"
	OutcomeCompleted  = "completed"
	OutcomeFailed     = "failed"
	OutcomeDeadlocked = "deadlocked"
	OutcomeStopped    = "stopped"
	OutcomeAborted    = "aborted"
)

// Run is one recorded driver run.
type Run struct {
	ID         string
	Identity   string
	StartedAt  time.Time
	FinishedAt *time.Time
	Dispatched int
	Completed  int
	Failed     int
	Outcome    string
}

// Dispatch is one recorded agent dispatch within a run.
type Dispatch struct {
	ID         string
	RunID      string
	TaskID     string
	Agent      string
	StartedAt  time.Time
	FinishedAt *time.Time
	Success    bool
	Error      string
}

// Recorder wraps an SQLite database holding run and dispatch history.
type Recorder struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DBPath returns the history database location under the state directory.
func DBPath(stateDir string) string {
	return filepath.Join(stateDir, "history.db")
}

// Open opens the history database, creating it and applying pending
// schema migrations as needed. WAL mode is enabled for concurrent
// reads.
func Open(path string) (*Recorder, error) {
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

	r := &Recorder{conn: conn, path: path}
	if err := r.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the database connection.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn.Close()
}

// Path returns the path to the database file.
func (r *Recorder) Path() string {
	return r.path
}

// migrate applies all pending schema migrations.
func (r *Recorder) migrate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := r.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Runs},
		{2, migrationV2Dispatches},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := r.conn.Begin()
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

const migrationV1Runs = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	identity TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	dispatched INTEGER NOT NULL DEFAULT 0,
	completed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL DEFAULT 'running'
);

CREATE INDEX IF NOT EXISTS idx_runs_identity ON runs(identity);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

const migrationV2Dispatches = `
CREATE TABLE IF NOT EXISTS dispatches (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id),
	task_id TEXT NOT NULL,
	agent TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	success INTEGER NOT NULL DEFAULT 0,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_dispatches_run_id ON dispatches(run_id);
CREATE INDEX IF NOT EXISTS idx_dispatches_task_id ON dispatches(task_id);
`

// BeginRun records the start of a driver run and returns its id.
func (r *Recorder) BeginRun(identity string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New().String()
	_, err := r.conn.Exec(`
		INSERT INTO runs (id, identity, started_at, outcome) VALUES (?, ?, ?, ?)
	`, id, identity, formatTime(time.Now()), OutcomeRunning)
	if err != nil {
		return "", fmt.Errorf("record run start: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run's end, counts, and outcome.
func (r *Recorder) FinishRun(runID, outcome string, dispatched, completed, failed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.conn.Exec(`
		UPDATE runs SET finished_at = ?, outcome = ?, dispatched = ?, completed = ?, failed = ?
		WHERE id = ?
	`, formatTime(time.Now()), outcome, dispatched, completed, failed, runID)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// RecordDispatch inserts one completed dispatch. A missing id is
// generated.
func (r *Recorder) RecordDispatch(d Dispatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	var finished any
	if d.FinishedAt != nil {
		finished = formatTime(*d.FinishedAt)
	}

	_, err := r.conn.Exec(`
		INSERT INTO dispatches (id, run_id, task_id, agent, started_at, finished_at, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.RunID, d.TaskID, d.Agent, formatTime(d.StartedAt), finished, boolToInt(d.Success), nullIfEmpty(d.Error))
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (r *Recorder) RecentRuns(limit int) ([]Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := r.conn.Query(`
		SELECT id, identity, started_at, finished_at, dispatched, completed, failed, outcome
		FROM runs ORDER BY started_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var started string
		var finished sql.NullString
		if err := rows.Scan(&run.ID, &run.Identity, &started, &finished,
			&run.Dispatched, &run.Completed, &run.Failed, &run.Outcome); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if run.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parse run start: %w", err)
		}
		run.FinishedAt = parseNullableTime(finished)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunDispatches returns the dispatches of one run in start order.
func (r *Recorder) RunDispatches(runID string) ([]Dispatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.conn.Query(`
		SELECT id, run_id, task_id, agent, started_at, finished_at, success, error
		FROM dispatches WHERE run_id = ? ORDER BY started_at, task_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	var dispatches []Dispatch
	for rows.Next() {
		var d Dispatch
		var started string
		var finished sql.NullString
		var success int
		var errMsg sql.NullString
		if err := rows.Scan(&d.ID, &d.RunID, &d.TaskID, &d.Agent, &started, &finished, &success, &errMsg); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		if d.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parse dispatch start: %w", err)
		}
		d.FinishedAt = parseNullableTime(finished)
		d.Success = success != 0
		d.Error = errMsg.String
		dispatches = append(dispatches, d)
	}
	return dispatches, rows.Err()
}

// PurgeOldRuns deletes runs (and their dispatches) older than the
// given duration. Returns the number of runs deleted.
func (r *Recorder) PurgeOldRuns(olderThan time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := formatTime(time.Now().Add(-olderThan))

	if _, err := r.conn.Exec(`
		DELETE FROM dispatches WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("purge old dispatches: %w", err)
	}

	result, err := r.conn.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old runs: %w", err)
	}
	return result.RowsAffected()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
