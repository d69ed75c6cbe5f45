// Package postgres provides a Postgres-backed cursor store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/postrelay/internal/relay"
)

var (
	_ relay.CursorStore     = (*CursorStore)(nil)
	_ relay.CursorOverrider = (*CursorStore)(nil)
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "relay_cursors"

// Config controls the Postgres connection pool used for cursor rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// CursorStore reads and writes one row per source. Save only ever raises
// last_id, so concurrent or stale writers cannot rewind a cursor.
type CursorStore struct {
	pool  pool
	table string
}

// New creates a CursorStore using the provided config. It does not create the
// table; call EnsureSchema for that.
func New(ctx context.Context, cfg Config) (*CursorStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CursorStore{pool: p, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*CursorStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &CursorStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *CursorStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *CursorStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the cursor table when it does not exist.
func (s *CursorStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	source     TEXT PRIMARY KEY,
	last_id    BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create cursor table: %w", err)
	}
	return nil
}

// Load selects the cursor row for source.
func (s *CursorStore) Load(ctx context.Context, source string) (relay.Cursor, bool, error) {
	query := fmt.Sprintf(`SELECT last_id, updated_at FROM %s WHERE source = $1`, s.table)
	c := relay.Cursor{Source: source}
	err := s.pool.QueryRow(ctx, query, source).Scan(&c.LastID, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return relay.Cursor{}, false, nil
	}
	if err != nil {
		return relay.Cursor{}, false, fmt.Errorf("select cursor: %w", err)
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, true, nil
}

// Save upserts cursor unless the stored row is already ahead.
func (s *CursorStore) Save(ctx context.Context, cursor relay.Cursor) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s AS c (source, last_id, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (source) DO UPDATE SET
	last_id = EXCLUDED.last_id,
	updated_at = EXCLUDED.updated_at
WHERE c.last_id <= EXCLUDED.last_id`, s.table)
	return s.upsert(ctx, query, cursor)
}

// Overwrite upserts cursor unconditionally.
func (s *CursorStore) Overwrite(ctx context.Context, cursor relay.Cursor) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s AS c (source, last_id, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (source) DO UPDATE SET
	last_id = EXCLUDED.last_id,
	updated_at = EXCLUDED.updated_at`, s.table)
	return s.upsert(ctx, query, cursor)
}

func (s *CursorStore) upsert(ctx context.Context, query string, cursor relay.Cursor) error {
	if err := relay.ValidateSource(cursor.Source); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, cursor.Source, cursor.LastID, cursor.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}
