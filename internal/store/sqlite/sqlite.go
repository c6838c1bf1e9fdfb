// Package sqlite persists command history per session.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/shellpane/shellpane/pkg/types"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS command_history (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			command TEXT NOT NULL,
			status TEXT NOT NULL,
			return_code INTEGER NOT NULL,
			stdout_bytes INTEGER NOT NULL,
			error_message TEXT,
			started_ts_unix_ns INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_session_ts ON command_history(session_id, started_ts_unix_ns);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// HistoryEntry is one recorded command.
type HistoryEntry struct {
	ID           string        `json:"id"`
	SessionID    string        `json:"session_id"`
	Command      string        `json:"command"`
	Status       string        `json:"status"`
	ReturnCode   int           `json:"return_code"`
	StdoutBytes  int64         `json:"stdout_bytes"`
	ErrorMessage string        `json:"error_message,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// RecordCommand stores one finished call. Subprocess-mode results record
// with an empty session id.
func (s *Store) RecordCommand(ctx context.Context, res types.CommandResult, duration time.Duration) error {
	started := time.Now().Add(-duration)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_history
			(id, session_id, command, status, return_code, stdout_bytes, error_message, started_ts_unix_ns, duration_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), res.SessionID, res.Command, string(res.Status), res.ReturnCode,
		int64(len(res.Stdout)), res.ErrorMessage, started.UnixNano(), int64(duration),
	)
	if err != nil {
		return fmt.Errorf("record command: %w", err)
	}
	return nil
}

// History returns the most recent entries for a session, newest first.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, command, status, return_code, stdout_bytes, error_message, started_ts_unix_ns, duration_ns
		 FROM command_history WHERE session_id = ?
		 ORDER BY started_ts_unix_ns DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var startedNS, durNS int64
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Command, &e.Status, &e.ReturnCode, &e.StdoutBytes, &errMsg, &startedNS, &durNS); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.ErrorMessage = errMsg.String
		e.StartedAt = time.Unix(0, startedNS)
		e.Duration = time.Duration(durNS)
		out = append(out, e)
	}
	return out, rows.Err()
}
