// Package history keeps past probe results in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Karleow/SimpleSpeedtest/internal/probe"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id     TEXT    NOT NULL,
	target         TEXT    NOT NULL,
	kind           TEXT    NOT NULL,
	outcome        TEXT    NOT NULL,
	started_at     INTEGER NOT NULL,
	duration_ms    INTEGER NOT NULL,
	elapsed_ms     INTEGER NOT NULL,
	bytes          INTEGER NOT NULL,
	throughput_bps REAL    NOT NULL,
	error          TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS results_started_at ON results (started_at);
`

// Entry is one stored phase result.
type Entry struct {
	ID            int64
	SessionID     string
	Target        string
	Kind          string
	Outcome       string
	StartedAt     time.Time
	Duration      time.Duration
	Elapsed       time.Duration
	Bytes         int64
	ThroughputBps float64
	Error         string
}

type Store struct {
	db *sql.DB
}

// Open creates the database file and schema when missing.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores res. startedAt is the wall time the phase began.
func (s *Store) Record(ctx context.Context, target string, startedAt time.Time, res probe.Result) error {
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (session_id, target, kind, outcome, started_at, duration_ms, elapsed_ms, bytes, throughput_bps, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.SessionID.String(),
		target,
		res.Kind.String(),
		res.Outcome.String(),
		startedAt.UnixMilli(),
		res.Duration.Milliseconds(),
		res.Elapsed.Milliseconds(),
		res.Bytes,
		res.ThroughputBps,
		errText,
	)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, target, kind, outcome, started_at, duration_ms, elapsed_ms, bytes, throughput_bps, error
		 FROM results ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                              Entry
			startedMs, durationMs, elapsed int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Target, &e.Kind, &e.Outcome, &startedMs, &durationMs, &elapsed, &e.Bytes, &e.ThroughputBps, &e.Error); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.StartedAt = time.UnixMilli(startedMs)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.Elapsed = time.Duration(elapsed) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}
