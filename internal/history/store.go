// Package history keeps a record of finished dubbing jobs in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dubstudio/api/internal/model"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS dubbing_jobs (
	job_id TEXT PRIMARY KEY,
	source_name TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	segments INTEGER NOT NULL DEFAULT 0,
	clips INTEGER NOT NULL DEFAULT 0,
	duration REAL NOT NULL DEFAULT 0,
	completed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dubbing_jobs_completed_at ON dubbing_jobs(completed_at);
`

const DefaultLimit = 50

// Store is the SQLite-backed job history.
type Store struct {
	db *sql.DB
}

// Open creates the database file and schema if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer; modernc serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts or replaces the entry for a job.
func (s *Store) Record(ctx context.Context, e model.JobHistoryEntry) error {
	completed := e.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dubbing_jobs (job_id, source_name, status, error, segments, clips, duration, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			source_name = excluded.source_name,
			status = excluded.status,
			error = excluded.error,
			segments = excluded.segments,
			clips = excluded.clips,
			duration = excluded.duration,
			completed_at = excluded.completed_at`,
		e.JobID, e.SourceName, string(e.Status), nullString(e.Error),
		e.Segments, e.Clips, e.Duration, completed.UnixMilli())
	if err != nil {
		return fmt.Errorf("record job %s: %w", e.JobID, err)
	}
	return nil
}

// Recent returns the most recently finished jobs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.JobHistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, source_name, status, error, segments, clips, duration, completed_at
		FROM dubbing_jobs ORDER BY completed_at DESC, job_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries := make([]model.JobHistoryEntry, 0)
	for rows.Next() {
		var (
			e         model.JobHistoryEntry
			status    string
			errText   sql.NullString
			completed int64
		)
		if err := rows.Scan(&e.JobID, &e.SourceName, &status, &errText, &e.Segments, &e.Clips, &e.Duration, &completed); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Status = model.JobStatus(status)
		e.Error = errText.String
		e.CompletedAt = time.UnixMilli(completed).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// Get returns one job's entry.
func (s *Store) Get(ctx context.Context, jobID string) (model.JobHistoryEntry, bool, error) {
	var (
		e         model.JobHistoryEntry
		status    string
		errText   sql.NullString
		completed int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, source_name, status, error, segments, clips, duration, completed_at
		FROM dubbing_jobs WHERE job_id = ?`, jobID).
		Scan(&e.JobID, &e.SourceName, &status, &errText, &e.Segments, &e.Clips, &e.Duration, &completed)
	if err == sql.ErrNoRows {
		return model.JobHistoryEntry{}, false, nil
	}
	if err != nil {
		return model.JobHistoryEntry{}, false, fmt.Errorf("get job %s: %w", jobID, err)
	}
	e.Status = model.JobStatus(status)
	e.Error = errText.String
	e.CompletedAt = time.UnixMilli(completed).UTC()
	return e, true, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
