// Package postgres provides a Postgres-backed entry store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelmirror/pixelmirror/internal/mirror"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EntryStoreConfig controls the Postgres connection pool.
type EntryStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// PgxPool is the subset of pgxpool.Pool the store uses; pgxmock satisfies
// it in tests.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// EntryStore persists the entry list in a Postgres table. Save replaces
// the whole list in one transaction, matching the list/save collaborator
// contract (the list is capped at around a hundred rows).
//
// Expected schema:
//
//	CREATE TABLE entries (
//	    id TEXT PRIMARY KEY,
//	    original_url TEXT NOT NULL,
//	    pixel_id TEXT NOT NULL DEFAULT '',
//	    pixel_code TEXT NOT NULL DEFAULT '',
//	    view_path TEXT NOT NULL,
//	    full_url TEXT NOT NULL,
//	    blob_uri TEXT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    clicks BIGINT NOT NULL DEFAULT 0,
//	    last_accessed TIMESTAMPTZ
//	);
type EntryStore struct {
	pool  PgxPool
	table string
}

// NewEntryStore creates a Postgres-backed EntryStore using the provided config.
func NewEntryStore(ctx context.Context, cfg EntryStoreConfig) (*EntryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "entries"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &EntryStore{pool: pool, table: table}, nil
}

// NewEntryStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewEntryStoreWithPool(pool PgxPool, table string) (*EntryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "entries"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &EntryStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *EntryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// List reads all entries ordered by creation time.
func (s *EntryStore) List(ctx context.Context) ([]mirror.Entry, error) {
	query := fmt.Sprintf(`
SELECT id, original_url, pixel_id, pixel_code, view_path, full_url,
	blob_uri, created_at, clicks, last_accessed
FROM %s
ORDER BY created_at`, s.table)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []mirror.Entry
	for rows.Next() {
		var e mirror.Entry
		if err := rows.Scan(
			&e.ID,
			&e.OriginalURL,
			&e.PixelID,
			&e.PixelCode,
			&e.ViewPath,
			&e.FullURL,
			&e.BlobURI,
			&e.CreatedAt,
			&e.Clicks,
			&e.LastAccessed,
		); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Save replaces the stored list inside one transaction.
func (s *EntryStore) Save(ctx context.Context, entries []mirror.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}

	insert := fmt.Sprintf(`
INSERT INTO %s (
	id, original_url, pixel_id, pixel_code, view_path, full_url,
	blob_uri, created_at, clicks, last_accessed
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, s.table)

	for _, e := range entries {
		if _, err := tx.Exec(ctx, insert,
			e.ID,
			e.OriginalURL,
			e.PixelID,
			e.PixelCode,
			e.ViewPath,
			e.FullURL,
			e.BlobURI,
			e.CreatedAt,
			e.Clicks,
			e.LastAccessed,
		); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
