// Package sqlite provides the SQLite-backed result store. Several worker
// processes may share one database file: the journal runs in WAL mode and
// every connection waits on a busy lock instead of failing.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
	"github.com/JakeFAU/relevance-crawler/internal/storage"
)

// DefaultPath is the database file used when none is configured.
const DefaultPath = "results.sqlite3"

// Config controls where the database lives.
type Config struct {
	Path  string
	Table string
	// BusyTimeout bounds how long a writer waits for another process's lock.
	BusyTimeout time.Duration
}

// ResultStore writes crawl results into a SQLite file.
type ResultStore struct {
	db    *sql.DB
	path  string
	table string
}

// Open opens or creates the database at cfg.Path.
func Open(ctx context.Context, cfg Config) (*ResultStore, error) {
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	table, err := storage.TableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %w", crawler.ErrStoreUnavailable, err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)", path, busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", crawler.ErrStoreUnavailable, err)
	}
	// SQLite only supports one writer; a single connection also keeps the
	// per-connection pragmas in force.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: enable WAL mode: %w", crawler.ErrStoreUnavailable, err)
	}
	return &ResultStore{db: db, path: path, table: table}, nil
}

// Path reports the database file location.
func (s *ResultStore) Path() string {
	return s.path
}

// EnsureSchema creates the result table when it does not exist.
func (s *ResultStore) EnsureSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id INTEGER PRIMARY KEY,
		crawl_id TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL,
		depth INTEGER NOT NULL,
		links_found INTEGER NOT NULL,
		relevance_score REAL NOT NULL,
		context_snippet TEXT NOT NULL,
		duration_sec REAL NOT NULL,
		total_duration_sec REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_url ON %[1]s(url);
	`, s.table)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: create %s: %w", crawler.ErrStoreUnavailable, s.table, err)
	}
	return nil
}

// Insert appends one result row and returns its id.
func (s *ResultStore) Insert(ctx context.Context, r crawler.CrawlResult) (int64, error) {
	query := fmt.Sprintf(`
	INSERT INTO %s (crawl_id, url, depth, links_found, relevance_score, context_snippet, duration_sec, total_duration_sec)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	res, err := s.db.ExecContext(ctx, query,
		r.CrawlID,
		r.URL,
		r.Depth,
		r.LinksFound,
		r.RelevanceScore,
		r.ContextSnippet,
		storage.Seconds(r.Duration),
		storage.Seconds(r.TotalDuration),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert result: %w", crawler.ErrStoreUnavailable, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: read insert id: %w", crawler.ErrStoreUnavailable, err)
	}
	return id, nil
}

// List returns every row in insertion order.
func (s *ResultStore) List(ctx context.Context) ([]crawler.CrawlResult, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY id", storage.ResultColumns, s.table))
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

// Purge deletes every row; ids start again from 1.
func (s *ResultStore) Purge(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return fmt.Errorf("purge results: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *ResultStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

var _ crawler.ResultStore = (*ResultStore)(nil)
