// Package postgres provides the Postgres-backed crawl record store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
)

// DefaultTable is the canonical crawl record table created by the migrations.
const DefaultTable = "crawled_pages"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for crawl records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// RecordStore reads and writes crawl records in Postgres. The pool is shared
// by every concurrent crawl and by the query surface.
type RecordStore struct {
	pool  pool
	table string
}

// NewRecordStore opens a pgx pool using the provided config.
func NewRecordStore(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := resolveTable(cfg.Table)
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
	return &RecordStore{pool: p, table: table}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(p pool, table string) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	resolved, err := resolveTable(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: p, table: resolved}, nil
}

func resolveTable(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Insert writes one crawl record. crawled_at comes from clock_timestamp() so
// concurrent writers are stamped in commit order rather than transaction start.
func (s *RecordStore) Insert(ctx context.Context, rec crawler.NewRecord) (crawler.Record, error) {
	headers := rec.Headers
	if len(headers) == 0 {
		headers = json.RawMessage(`{}`)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (url, status_code, content, headers, load_time_ms, crawled_at)
VALUES ($1, $2, $3, $4, $5, clock_timestamp())
RETURNING id, crawled_at`, s.table)

	out := crawler.Record{
		URL:        rec.URL,
		StatusCode: rec.StatusCode,
		Content:    rec.Content,
		Headers:    headers,
		LoadTimeMs: rec.LoadTimeMs,
	}
	err := s.pool.QueryRow(ctx, query,
		rec.URL,
		rec.StatusCode,
		rec.Content,
		[]byte(headers),
		rec.LoadTimeMs,
	).Scan(&out.ID, &out.CrawledAt)
	if err != nil {
		return crawler.Record{}, &crawler.PersistenceError{Op: "insert crawl record", Err: err}
	}
	out.CrawledAt = out.CrawledAt.UTC()
	return out, nil
}

// ListRecent returns record summaries, newest first.
func (s *RecordStore) ListRecent(ctx context.Context, limit, offset int) ([]crawler.Summary, error) {
	if limit <= 0 {
		return []crawler.Summary{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`
SELECT id, url, status_code, load_time_ms, crawled_at
FROM %s
ORDER BY crawled_at DESC, id DESC
LIMIT $1 OFFSET $2`, s.table)

	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, &crawler.QueryError{Op: "list crawl records", Err: err}
	}
	defer rows.Close()

	out := make([]crawler.Summary, 0, limit)
	for rows.Next() {
		var sum crawler.Summary
		if err := rows.Scan(&sum.ID, &sum.URL, &sum.StatusCode, &sum.LoadTimeMs, &sum.CrawledAt); err != nil {
			return nil, &crawler.QueryError{Op: "scan crawl record", Err: err}
		}
		sum.CrawledAt = sum.CrawledAt.UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, &crawler.QueryError{Op: "list crawl records", Err: err}
	}
	return out, nil
}

// Get loads one full record or returns crawler.ErrNotFound.
func (s *RecordStore) Get(ctx context.Context, id int64) (crawler.Record, error) {
	query := fmt.Sprintf(`
SELECT id, url, status_code, content, headers, load_time_ms, crawled_at
FROM %s
WHERE id = $1`, s.table)

	var (
		rec     crawler.Record
		headers []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.URL,
		&rec.StatusCode,
		&rec.Content,
		&headers,
		&rec.LoadTimeMs,
		&rec.CrawledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Record{}, crawler.ErrNotFound
		}
		return crawler.Record{}, &crawler.QueryError{Op: "get crawl record", Err: err}
	}
	rec.Headers = json.RawMessage(headers)
	rec.CrawledAt = rec.CrawledAt.UTC()
	return rec, nil
}

// Count returns the number of stored records.
func (s *RecordStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, &crawler.QueryError{Op: "count crawl records", Err: err}
	}
	return n, nil
}
