// Package results keeps sessions and their analysis results in SQLite.
package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/nicktill/tinyfocus/pkg/analysis"
	"github.com/nicktill/tinyfocus/pkg/session"
)

// ErrSessionNotFound is returned for an unknown session id
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is a stored session row
type SessionRecord struct {
	session.Session
	EndedAt *time.Time       `json:"ended_at,omitempty"`
	Metrics *session.Metrics `json:"metrics,omitempty"`
}

// Store is the durable record of sessions and results
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path
func Open(path string) (*Store, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS sessions(
	  id           TEXT PRIMARY KEY,
	  user_id      TEXT    NOT NULL,
	  daily_goal   TEXT,
	  started_at   INTEGER NOT NULL,
	  ended_at     INTEGER,
	  metrics_json TEXT CHECK (metrics_json IS NULL OR json_valid(metrics_json))
	);
	CREATE TABLE IF NOT EXISTS results(
	  id              INTEGER PRIMARY KEY,
	  session_id      TEXT    NOT NULL,
	  chunk_number    INTEGER NOT NULL,
	  assessment_json TEXT    NOT NULL CHECK (json_valid(assessment_json)),
	  received_at     INTEGER NOT NULL,
	  UNIQUE(session_id, chunk_number)
	);
	CREATE INDEX IF NOT EXISTS idx_results_session ON results(session_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession inserts the session, or refreshes it when resumed
func (s *Store) SaveSession(ctx context.Context, sess session.Session) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO sessions(id, user_id, daily_goal, started_at) VALUES(?,?,?,?)
	ON CONFLICT(id) DO UPDATE SET ended_at = NULL`,
		sess.ID, sess.UserID, sess.DailyGoal, sess.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// EndSession stamps the end time and final metrics
func (s *Store) EndSession(ctx context.Context, id string, at time.Time, m session.Metrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, metrics_json = json(?) WHERE id = ?`,
		at.UnixMilli(), string(data), id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetSession returns one session
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var (
		rec     SessionRecord
		goal    sql.NullString
		started int64
		ended   sql.NullInt64
		metrics sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, daily_goal, started_at, ended_at, metrics_json FROM sessions WHERE id = ?`, id).
		Scan(&rec.ID, &rec.UserID, &goal, &started, &ended, &metrics)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	rec.DailyGoal = goal.String
	rec.StartedAt = time.UnixMilli(started).UTC()
	rec.Active = !ended.Valid
	if ended.Valid {
		t := time.UnixMilli(ended.Int64).UTC()
		rec.EndedAt = &t
	}
	if metrics.Valid {
		var m session.Metrics
		if err := json.Unmarshal([]byte(metrics.String), &m); err != nil {
			return nil, fmt.Errorf("failed to decode metrics: %w", err)
		}
		rec.Metrics = &m
	}
	return &rec, nil
}

// SaveResult upserts the result for (session, chunk)
func (s *Store) SaveResult(ctx context.Context, r *analysis.Result) error {
	assessment := r.Assessment
	if len(assessment) == 0 {
		assessment = json.RawMessage("null")
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO results(session_id, chunk_number, assessment_json, received_at) VALUES(?,?,json(?),?)
	ON CONFLICT(session_id, chunk_number) DO UPDATE SET
	  assessment_json = excluded.assessment_json,
	  received_at     = excluded.received_at`,
		r.SessionID, r.ChunkNumber, string(assessment), r.ReceivedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// ListResults returns a session's results by chunk number
func (s *Store) ListResults(ctx context.Context, sessionID string) ([]analysis.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT chunk_number, assessment_json, received_at FROM results
	WHERE session_id = ? ORDER BY chunk_number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	out := []analysis.Result{}
	for rows.Next() {
		var (
			r          analysis.Result
			assessment string
			received   int64
		)
		if err := rows.Scan(&r.ChunkNumber, &assessment, &received); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.SessionID = sessionID
		r.Assessment = json.RawMessage(assessment)
		r.ReceivedAt = time.UnixMilli(received).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
