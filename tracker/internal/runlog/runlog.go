// Package runlog records tracker run history and API fetch activity in
// sqlite. Writes are best-effort: a runlog failure is logged by the caller
// but never aborts a run.
package runlog

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Schema holds run bookkeeping and the per-fetch audit trail.
const Schema = `
-- One row per operation run (manual trigger or scheduled)
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    operation    TEXT NOT NULL,
    trigger      TEXT NOT NULL DEFAULT 'manual',
    status       TEXT NOT NULL DEFAULT 'running',
    records      INTEGER NOT NULL DEFAULT 0,
    error        TEXT NOT NULL DEFAULT '',
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_runs_time ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_operation ON runs(operation, started_at DESC);

-- Per-keyword fetch outcomes within a run
CREATE TABLE IF NOT EXISTS fetch_log (
    id          TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    keyword     TEXT NOT NULL,
    status      TEXT NOT NULL,
    records     INTEGER NOT NULL DEFAULT 0,
    error       TEXT NOT NULL DEFAULT '',
    fetched_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_log_run ON fetch_log(run_id, fetched_at DESC);
`

// Store wraps an opened database for run bookkeeping.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// ApplySchema creates the runlog tables and indexes.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Run is one recorded operation run.
type Run struct {
	ID         string `json:"id"`
	Operation  string `json:"operation"`
	Trigger    string `json:"trigger"`
	Status     string `json:"status"`
	Records    int    `json:"records"`
	Error      string `json:"error,omitempty"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at,omitempty"`
}

// FetchEntry is one keyword fetch outcome within a run.
type FetchEntry struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	Keyword   string `json:"keyword"`
	Status    string `json:"status"`
	Records   int    `json:"records"`
	Error     string `json:"error,omitempty"`
	FetchedAt int64  `json:"fetched_at"`
}

// StartRun inserts a running row and returns its ID.
func (s *Store) StartRun(ctx context.Context, operation, trigger string) (string, error) {
	id := uuid.NewString()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs (id, operation, trigger, status, started_at)
		VALUES (?, ?, ?, 'running', ?)`,
		id, operation, trigger, time.Now().UnixMilli(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// FinishRun marks a run completed or failed and records its record count.
func (s *Store) FinishRun(ctx context.Context, id string, records int, runErr error) error {
	status, errMsg := "ok", ""
	if runErr != nil {
		status = "error"
		errMsg = runErr.Error()
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE runs SET status=?, records=?, error=?, finished_at=? WHERE id=?`,
		status, records, errMsg, time.Now().UnixMilli(), id,
	)
	return err
}

// LogFetch appends a per-keyword fetch outcome to a run.
func (s *Store) LogFetch(ctx context.Context, runID, keyword string, records int, fetchErr error) error {
	status, errMsg := "ok", ""
	if fetchErr != nil {
		status = "error"
		errMsg = fetchErr.Error()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO fetch_log (id, run_id, keyword, status, records, error, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), runID, keyword, status, records, errMsg, time.Now().UnixMilli(),
	)
	return err
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, operation, trigger, status, records, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Operation, &r.Trigger, &r.Status,
			&r.Records, &r.Error, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = finished.Int64
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// RunFetches returns the fetch entries for one run, newest first.
func (s *Store) RunFetches(ctx context.Context, runID string) ([]*FetchEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, run_id, keyword, status, records, error, fetched_at
		FROM fetch_log WHERE run_id = ? ORDER BY fetched_at DESC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*FetchEntry
	for rows.Next() {
		var e FetchEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.Keyword, &e.Status,
			&e.Records, &e.Error, &e.FetchedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
