// Package journal provides SQLite-backed persistence of task execution
// outcomes. It implements coordinator.OutcomeSink so every finished task
// is recorded with its strategy, quality score, and retry count.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/taskmesh/taskmesh/internal/coordinator"
)

// Journal wraps an SQLite database holding execution records.
type Journal struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultPath returns the XDG data path for the journal database.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "taskmesh", "journal.db")
}

// Open opens (creating if needed) the journal database at the given
// path. WAL mode is enabled for concurrent reads.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	j := &Journal{conn: conn, path: path}
	if err := j.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.conn.Close()
}

// Path returns the database file location.
func (j *Journal) Path() string {
	return j.path
}

const schemaExecutions = `
CREATE TABLE IF NOT EXISTS executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	success INTEGER NOT NULL,
	strategy TEXT,
	result TEXT,
	error TEXT,
	quality_score REAL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_task_id ON executions(task_id);
CREATE INDEX IF NOT EXISTS idx_executions_success ON executions(success);
`

func (j *Journal) migrate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.conn.Exec(schemaExecutions); err != nil {
		return fmt.Errorf("create executions table: %w", err)
	}
	return nil
}

// Record persists one final execution record. Implements
// coordinator.OutcomeSink.
func (j *Journal) Record(ctx context.Context, rec *coordinator.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var score sql.NullFloat64
	if rec.Quality != nil {
		score = sql.NullFloat64{Float64: rec.Quality.OverallScore, Valid: true}
	}

	_, err := j.conn.ExecContext(ctx, `
		INSERT INTO executions
			(task_id, success, strategy, result, error, quality_score,
			 retry_count, duration_ms, tokens_used, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.TaskID, boolToInt(rec.Success), string(rec.Strategy), rec.Result,
		rec.Error, score, rec.RetryCount, rec.Duration.Milliseconds(),
		rec.TokensUsed, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert execution record: %w", err)
	}
	return nil
}

// Entry is one persisted execution record.
type Entry struct {
	ID           int64
	TaskID       string
	Success      bool
	Strategy     string
	Result       string
	Error        string
	QualityScore *float64
	RetryCount   int
	Duration     time.Duration
	TokensUsed   int64
	RecordedAt   time.Time
}

// Recent returns the most recent execution records, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.conn.QueryContext(ctx, `
		SELECT id, task_id, success, strategy, result, error, quality_score,
		       retry_count, duration_ms, tokens_used, recorded_at
		FROM executions
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent executions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			success    int
			score      sql.NullFloat64
			durationMS int64
			recordedAt string
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &success, &e.Strategy, &e.Result,
			&e.Error, &score, &e.RetryCount, &durationMS, &e.TokensUsed, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		e.Success = success != 0
		if score.Valid {
			v := score.Float64
			e.QualityScore = &v
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if t, err := parseTime(recordedAt); err == nil {
			e.RecordedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary aggregates the persisted outcomes.
type Summary struct {
	TotalExecutions int64
	Successes       int64
	AvgQualityScore float64
	TotalTokensUsed int64
}

// Summarize computes aggregate statistics over all recorded executions.
func (j *Journal) Summarize(ctx context.Context) (Summary, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var s Summary
	row := j.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(success), 0),
		       COALESCE(AVG(quality_score), 0),
		       COALESCE(SUM(tokens_used), 0)
		FROM executions
	`)
	if err := row.Scan(&s.TotalExecutions, &s.Successes, &s.AvgQualityScore, &s.TotalTokensUsed); err != nil {
		return Summary{}, fmt.Errorf("summarize executions: %w", err)
	}
	return s, nil
}

// Purge deletes records older than the given age. Returns how many rows
// were removed.
func (j *Journal) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	j.mu.Lock()
	defer j.mu.Unlock()

	result, err := j.conn.ExecContext(ctx, `DELETE FROM executions WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge executions: %w", err)
	}
	return result.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
