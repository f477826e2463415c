// Package history persists an audit trail of dispatched bridge commands.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/datagram1/mcp-eyes-sub000/internal/bridge"
)

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	id          TEXT PRIMARY KEY,
	browser     TEXT NOT NULL,
	action      TEXT NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commands_created_at ON commands(created_at);
`

// Entry is one recorded command, shaped for the /history endpoint.
type Entry struct {
	ID         string `json:"id"`
	Browser    string `json:"browser"`
	Action     string `json:"action"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
	CreatedAt  string `json:"createdAt"`
}

type Store struct {
	db *sql.DB
}

// Open creates or opens the sqlite database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordCommand implements bridge.Recorder. Persistence failures are logged,
// never surfaced: the audit trail must not fail a command that already
// settled.
func (s *Store) RecordCommand(rec bridge.CommandRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO commands(id, browser, action, status, error, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING
`, rec.ID, string(rec.Browser), rec.Action, rec.Status, rec.Error,
		rec.Duration.Milliseconds(), rec.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		slog.Error("record command", "id", rec.ID, "err", err)
	}
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, browser, action, status, error, duration_ms, created_at
FROM commands ORDER BY created_at DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Browser, &e.Action, &e.Status, &e.Error, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
