// Package store persists diagram history in SQLite so sessions survive a
// daemon restart.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/dannyswat/vcdiagram"
)

var ErrInvalidSession = errors.New("invalid session id")

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	id         TEXT NOT NULL UNIQUE,
	xml        TEXT NOT NULL,
	hash       TEXT NOT NULL,
	source     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id, seq);
`

// Store is a SQLite database of history snapshots keyed by session id.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time; a single connection also
	// keeps an in-memory database alive for the life of the Store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ForSession returns the history of one session. It satisfies
// vcdiagram.HistoryStore.
func (s *Store) ForSession(sessionID string) *SessionHistory {
	return &SessionHistory{db: s.db, sessionID: sessionID}
}

// Sessions lists the session ids that have history, most recently written first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM snapshots GROUP BY session_id ORDER BY MAX(seq) DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type SessionHistory struct {
	db        *sql.DB
	sessionID string
}

func (h *SessionHistory) Append(ctx context.Context, snap vcdiagram.Snapshot) error {
	if h.sessionID == "" {
		return ErrInvalidSession
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO snapshots (session_id, id, xml, hash, source, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		h.sessionID, snap.ID, snap.XML, snap.Hash, string(snap.Source), snap.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("append snapshot %s: %w", snap.ID, err)
	}
	return nil
}

func (h *SessionHistory) Reset(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, `DELETE FROM snapshots WHERE session_id = ?`, h.sessionID); err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	return nil
}

// List returns the session's snapshots oldest first.
func (h *SessionHistory) List(ctx context.Context) ([]vcdiagram.Snapshot, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, xml, hash, source, created_at FROM snapshots WHERE session_id = ? ORDER BY seq`,
		h.sessionID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var snaps []vcdiagram.Snapshot
	for rows.Next() {
		var (
			snap    vcdiagram.Snapshot
			source  string
			created int64
		)
		if err := rows.Scan(&snap.ID, &snap.XML, &snap.Hash, &source, &created); err != nil {
			return nil, fmt.Errorf("list history: %w", err)
		}
		snap.Source = vcdiagram.Source(source)
		snap.CreatedAt = time.Unix(0, created).UTC()
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
