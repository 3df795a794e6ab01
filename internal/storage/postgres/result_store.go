// Package postgres provides the Postgres-backed result store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
	"github.com/JakeFAU/relevance-crawler/internal/storage"
)

// Config controls the Postgres connection pool used for result rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ResultStore writes crawl results into Postgres.
type ResultStore struct {
	pool  pool
	table string
}

// New creates a Postgres-backed ResultStore using the provided config.
func New(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: store.postgres.dsn is required", crawler.ErrStoreUnavailable)
	}
	table, err := storage.TableName(cfg.Table)
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
		return nil, fmt.Errorf("%w: connect postgres: %w", crawler.ErrStoreUnavailable, err)
	}
	return &ResultStore{pool: p, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*ResultStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := storage.TableName(table)
	if err != nil {
		return nil, err
	}
	return &ResultStore{pool: p, table: name}, nil
}

// EnsureSchema creates the result table when it does not exist.
func (s *ResultStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	crawl_id TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL,
	depth INTEGER NOT NULL,
	links_found INTEGER NOT NULL,
	relevance_score DOUBLE PRECISION NOT NULL,
	context_snippet TEXT NOT NULL,
	duration_sec DOUBLE PRECISION NOT NULL,
	total_duration_sec DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("%w: create %s: %w", crawler.ErrStoreUnavailable, s.table, err)
	}
	return nil
}

// Insert appends one result row and returns its id.
func (s *ResultStore) Insert(ctx context.Context, r crawler.CrawlResult) (int64, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (
	crawl_id,
	url,
	depth,
	links_found,
	relevance_score,
	context_snippet,
	duration_sec,
	total_duration_sec
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
) RETURNING id`, s.table)

	var id int64
	err := s.pool.QueryRow(ctx, query,
		r.CrawlID,
		r.URL,
		r.Depth,
		r.LinksFound,
		r.RelevanceScore,
		r.ContextSnippet,
		storage.Seconds(r.Duration),
		storage.Seconds(r.TotalDuration),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: insert result: %w", crawler.ErrStoreUnavailable, err)
	}
	return id, nil
}

// List returns every row in insertion order.
func (s *ResultStore) List(ctx context.Context) ([]crawler.CrawlResult, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY id", storage.ResultColumns, s.table))
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []crawler.CrawlResult
	for rows.Next() {
		var (
			r             crawler.CrawlResult
			duration      float64
			totalDuration float64
		)
		if err := rows.Scan(
			&r.ID, &r.CrawlID, &r.URL, &r.Depth, &r.LinksFound,
			&r.RelevanceScore, &r.ContextSnippet, &duration, &totalDuration,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Duration = storage.FromSeconds(duration)
		r.TotalDuration = storage.FromSeconds(totalDuration)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// Purge removes every row and resets the id sequence.
func (s *ResultStore) Purge(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY", s.table)); err != nil {
		return fmt.Errorf("purge results: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

var _ crawler.ResultStore = (*ResultStore)(nil)
