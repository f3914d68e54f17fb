// Package storage keeps a SQLite ledger of session and completion metadata.
// Conversation content is never written.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	StatusActive = "active"
	StatusClosed = "closed"
)

const (
	OutcomeDelivered   = "delivered"
	OutcomeUndelivered = "undelivered"
	OutcomeFailed      = "failed"
)

type Session struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Status     string     `json:"status"`
	RemoteAddr string     `json:"remote_addr"`
	Turns      int        `json:"turns"`
}

// Completion is the outcome of one provider call.
type Completion struct {
	SessionID string        `json:"session_id"`
	StartedAt time.Time     `json:"started_at"`
	Latency   time.Duration `json:"latency"`
	Outcome   string        `json:"outcome"`
	ErrorKind string        `json:"error_kind,omitempty"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "nexus.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

var schema = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		status TEXT NOT NULL,
		remote_addr TEXT NOT NULL DEFAULT '',
		turns INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS completions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		started_at TEXT NOT NULL,
		latency_ms INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT ''
	)`,
	"CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)",
	"CREATE INDEX IF NOT EXISTS idx_completions_session ON completions(session_id, id)",
}

func (s *SQLiteStore) init() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(stmt, "\n")
	return strings.TrimSuffix(strings.TrimSpace(line), " (")
}

// Timestamps are stored as RFC 3339 UTC text so that the date prefix can be
// matched with substr.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateSession(id, remoteAddr string, startedAt time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("session id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO sessions(id, started_at, status, remote_addr) VALUES(?, ?, ?, ?)`,
		id,
		formatTime(startedAt),
		StatusActive,
		remoteAddr,
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) EndSession(id string, endedAt time.Time, turns int) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ?, status = ?, turns = ? WHERE id = ?`,
		formatTime(endedAt),
		StatusClosed,
		turns,
		id,
	)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end session rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteStore) RecordCompletion(c Completion) error {
	_, err := s.db.Exec(
		`INSERT INTO completions(session_id, started_at, latency_ms, outcome, error_kind) VALUES(?, ?, ?, ?, ?)`,
		c.SessionID,
		formatTime(c.StartedAt),
		c.Latency.Milliseconds(),
		c.Outcome,
		c.ErrorKind,
	)
	if err != nil {
		return fmt.Errorf("record completion for session %s: %w", c.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSessionsByDate(date string) ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+`
		 FROM sessions
		 WHERE substr(started_at, 1, 10) = ?
		 ORDER BY started_at DESC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions by date %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	return scanSessions(rows)
}

func (s *SQLiteStore) RecentSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+`
		 FROM sessions
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSessions(rows)
}

func (s *SQLiteStore) GetSession(id string) (Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("query session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetCompletions(sessionID string) ([]Completion, error) {
	rows, err := s.db.Query(
		`SELECT session_id, started_at, latency_ms, outcome, error_kind
		 FROM completions
		 WHERE session_id = ?
		 ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query completions for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	completions := make([]Completion, 0, 16)
	for rows.Next() {
		var c Completion
		var startedAt string
		var latencyMS int64
		if err := rows.Scan(&c.SessionID, &startedAt, &latencyMS, &c.Outcome, &c.ErrorKind); err != nil {
			return nil, fmt.Errorf("scan completion for session %s: %w", sessionID, err)
		}

		if c.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parse completion timestamp for session %s: %w", sessionID, err)
		}
		c.Latency = time.Duration(latencyMS) * time.Millisecond

		completions = append(completions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completion rows for session %s: %w", sessionID, err)
	}

	return completions, nil
}

// CloseDangling marks sessions left active by a previous process as closed.
func (s *SQLiteStore) CloseDangling(now time.Time) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ?, status = ? WHERE status = ?`,
		formatTime(now),
		StatusClosed,
		StatusActive,
	)
	if err != nil {
		return 0, fmt.Errorf("close dangling sessions: %w", err)
	}
	return res.RowsAffected()
}

const sessionColumns = "id, started_at, ended_at, status, remote_addr, turns"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		sess      Session
		startedAt string
		endedAt   sql.NullString
		err       error
	)
	if err = row.Scan(&sess.ID, &startedAt, &endedAt, &sess.Status, &sess.RemoteAddr, &sess.Turns); err != nil {
		return Session{}, err
	}
	if sess.StartedAt, err = parseTime(startedAt); err != nil {
		return Session{}, fmt.Errorf("parse started_at: %w", err)
	}
	if endedAt.Valid {
		ended, err := parseTime(endedAt.String)
		if err != nil {
			return Session{}, fmt.Errorf("parse ended_at: %w", err)
		}
		sess.EndedAt = &ended
	}
	return sess, nil
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	sessions := make([]Session, 0, 16)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions rows: %w", err)
	}
	return sessions, nil
}
