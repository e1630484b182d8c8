// Package sqlite provides a single-file crawl record store for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/JakeFAU/crawl-recorder/internal/clock/system"
	"github.com/JakeFAU/crawl-recorder/internal/crawler"
)

const schema = `
CREATE TABLE IF NOT EXISTS crawled_pages (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    url          TEXT    NOT NULL,
    status_code  INTEGER NOT NULL,
    content      TEXT    NOT NULL DEFAULT '',
    headers      TEXT    NOT NULL DEFAULT '{}',
    load_time_ms INTEGER NOT NULL CHECK (load_time_ms >= 0),
    crawled_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS crawled_pages_crawled_at_idx ON crawled_pages (crawled_at DESC, id DESC);
`

// Config selects the database file.
type Config struct {
	// Path is a filesystem path or ":memory:".
	Path string
}

// RecordStore keeps crawl records in SQLite. crawled_at is stored as Unix
// nanoseconds so ordering survives round trips exactly.
type RecordStore struct {
	db    *sql.DB
	clock crawler.Clock
	// SQLite has a single writer; serializing inserts keeps crawled_at in id order.
	writeMu sync.Mutex
}

// Open creates the database (and schema) at cfg.Path.
func Open(ctx context.Context, cfg Config, clock crawler.Clock) (*RecordStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite.path is required")
	}
	dsn := "file:" + cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if cfg.Path == ":memory:" {
		dsn = "file::memory:?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if cfg.Path == ":memory:" {
		// Every connection to :memory: is a distinct database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("create schema: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &RecordStore{db: db, clock: system.NewMonotonic(clock)}, nil
}

// Close releases the database handle.
func (s *RecordStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// Ping checks the database handle.
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Insert writes one crawl record and assigns its ID and crawl time.
func (s *RecordStore) Insert(ctx context.Context, rec crawler.NewRecord) (crawler.Record, error) {
	headers := rec.Headers
	if len(headers) == 0 {
		headers = json.RawMessage(`{}`)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	crawledAt := s.clock.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO crawled_pages (url, status_code, content, headers, load_time_ms, crawled_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.URL, rec.StatusCode, rec.Content, string(headers), rec.LoadTimeMs, crawledAt.UnixNano(),
	)
	if err != nil {
		return crawler.Record{}, &crawler.PersistenceError{Op: "insert crawl record", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return crawler.Record{}, &crawler.PersistenceError{Op: "read inserted id", Err: err}
	}
	return crawler.Record{
		ID:         id,
		URL:        rec.URL,
		StatusCode: rec.StatusCode,
		Content:    rec.Content,
		Headers:    headers,
		LoadTimeMs: rec.LoadTimeMs,
		CrawledAt:  time.Unix(0, crawledAt.UnixNano()).UTC(),
	}, nil
}

// ListRecent returns record summaries, newest first.
func (s *RecordStore) ListRecent(ctx context.Context, limit, offset int) ([]crawler.Summary, error) {
	if limit <= 0 {
		return []crawler.Summary{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, status_code, load_time_ms, crawled_at
		 FROM crawled_pages
		 ORDER BY crawled_at DESC, id DESC
		 LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, &crawler.QueryError{Op: "list crawl records", Err: err}
	}
	defer func() { _ = rows.Close() }()

	out := make([]crawler.Summary, 0, limit)
	for rows.Next() {
		var (
			sum crawler.Summary
			ns  int64
		)
		if err := rows.Scan(&sum.ID, &sum.URL, &sum.StatusCode, &sum.LoadTimeMs, &ns); err != nil {
			return nil, &crawler.QueryError{Op: "scan crawl record", Err: err}
		}
		sum.CrawledAt = time.Unix(0, ns).UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, &crawler.QueryError{Op: "list crawl records", Err: err}
	}
	return out, nil
}

// Get loads one full record or returns crawler.ErrNotFound.
func (s *RecordStore) Get(ctx context.Context, id int64) (crawler.Record, error) {
	var (
		rec     crawler.Record
		headers string
		ns      int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, url, status_code, content, headers, load_time_ms, crawled_at
		 FROM crawled_pages WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.URL, &rec.StatusCode, &rec.Content, &headers, &rec.LoadTimeMs, &ns)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.Record{}, crawler.ErrNotFound
		}
		return crawler.Record{}, &crawler.QueryError{Op: "get crawl record", Err: err}
	}
	rec.Headers = json.RawMessage(headers)
	rec.CrawledAt = time.Unix(0, ns).UTC()
	return rec, nil
}

// Count returns the number of stored records.
func (s *RecordStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM crawled_pages`).Scan(&n); err != nil {
		return 0, &crawler.QueryError{Op: "count crawl records", Err: err}
	}
	return n, nil
}
