// Package sqlitestore provides a sqlite-backed history store for
// deployments that need dialogue history to survive a restart.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/OnslaughtSnail/parley/kernel/dialog"
)

const (
	driver = "sqlite"
	dsnOpt = "?_pragma=busy_timeout(3000)&_pragma=journal_mode(WAL)"

	defaultMaxTurns = 200
)

// Options configures store bounds. Zero values select the defaults.
type Options struct {
	// MaxTurns caps the log length per session; older turns are deleted.
	MaxTurns int
}

// Store persists session turns to a local sqlite database.
type Store struct {
	db       *sql.DB
	mu       sync.Mutex
	maxTurns int
}

func New(path string) (*Store, error) {
	return NewWithOptions(path, Options{})
}

func NewWithOptions(path string, options Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlitestore: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlitestore: create dir: %w", err)
	}
	db, err := sql.Open(driver, path+dsnOpt)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open db: %w", err)
	}
	maxTurns := options.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	s := &Store{db: db, maxTurns: maxTurns}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, sessionID string, turn dialog.Turn) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("sqlitestore: session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insert = `
INSERT INTO turns (session_id, seq, role, text, created_at)
SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?
FROM turns WHERE session_id = ?`
	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, insert, sessionID, string(turn.Role), turn.Text, now, sessionID); err != nil {
		return fmt.Errorf("sqlitestore: append: %w", err)
	}
	const trim = `
DELETE FROM turns
WHERE session_id = ?
AND seq <= (SELECT MAX(seq) FROM turns WHERE session_id = ?) - ?`
	if _, err := tx.ExecContext(ctx, trim, sessionID, sessionID, s.maxTurns); err != nil {
		return fmt.Errorf("sqlitestore: trim: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Get(ctx context.Context, sessionID string) ([]dialog.Turn, error) {
	const q = `SELECT role, text FROM turns WHERE session_id = ? ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get: %w", err)
	}
	defer rows.Close()
	var out []dialog.Turn
	for rows.Next() {
		var role, text string
		if err := rows.Scan(&role, &text); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan: %w", err)
		}
		out = append(out, dialog.Turn{Role: dialog.Role(role), Text: text})
	}
	return out, rows.Err()
}

func (s *Store) ReplaceLast(ctx context.Context, sessionID string, turn dialog.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	const q = `
UPDATE turns SET text = ?
WHERE session_id = ?
AND seq = (SELECT MAX(seq) FROM turns WHERE session_id = ?)
AND role = ?`
	if _, err := s.db.ExecContext(ctx, q, turn.Text, sessionID, sessionID, string(turn.Role)); err != nil {
		return fmt.Errorf("sqlitestore: replace last: %w", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS turns (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	text TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_turns_session
ON turns(session_id, seq);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return nil
}
