// Package sqlite implements a file-backed cursor store on SQLite, suited to a
// single-host deployment without a database server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JakeFAU/postrelay/internal/relay"
)

var (
	_ relay.CursorStore     = (*Store)(nil)
	_ relay.CursorOverrider = (*Store)(nil)
)

const (
	loadSQL = `SELECT last_id, updated_at FROM cursors WHERE source = ?`

	saveSQL = `
INSERT INTO cursors (source, last_id, updated_at) VALUES (?, ?, ?)
ON CONFLICT(source) DO UPDATE SET
	last_id = excluded.last_id,
	updated_at = excluded.updated_at
WHERE excluded.last_id >= cursors.last_id`

	overwriteSQL = `
INSERT INTO cursors (source, last_id, updated_at) VALUES (?, ?, ?)
ON CONFLICT(source) DO UPDATE SET
	last_id = excluded.last_id,
	updated_at = excluded.updated_at`
)

// Store persists cursors in a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY between
	// the run worker and the cursor CLI sharing a process.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Load returns the cursor row for source.
func (s *Store) Load(ctx context.Context, source string) (relay.Cursor, bool, error) {
	var (
		lastID    int64
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, loadSQL, source).Scan(&lastID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return relay.Cursor{}, false, nil
	}
	if err != nil {
		return relay.Cursor{}, false, fmt.Errorf("select cursor: %w", err)
	}
	ts, err := parseTime(updatedAt)
	if err != nil {
		return relay.Cursor{}, false, fmt.Errorf("parse updated_at: %w", err)
	}
	return relay.Cursor{Source: source, LastID: lastID, UpdatedAt: ts}, true, nil
}

// Save upserts cursor, leaving a higher stored position untouched.
func (s *Store) Save(ctx context.Context, cursor relay.Cursor) error {
	return s.exec(ctx, saveSQL, cursor)
}

// Overwrite upserts cursor unconditionally.
func (s *Store) Overwrite(ctx context.Context, cursor relay.Cursor) error {
	return s.exec(ctx, overwriteSQL, cursor)
}

func (s *Store) exec(ctx context.Context, query string, cursor relay.Cursor) error {
	if err := relay.ValidateSource(cursor.Source); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, cursor.Source, cursor.LastID, formatTime(cursor.UpdatedAt)); err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	return ts, nil
}
