package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/crawl-recorder/internal/clock/system"
	"github.com/JakeFAU/crawl-recorder/internal/crawler"
)

// RecordStore provides an in-memory crawl record table for development/testing.
type RecordStore struct {
	mu      sync.RWMutex
	clock   crawler.Clock
	nextID  int64
	records []crawler.Record
}

// NewRecordStore constructs a RecordStore. A nil clock uses the system clock.
func NewRecordStore(clock crawler.Clock) *RecordStore {
	return &RecordStore{clock: system.NewMonotonic(clock)}
}

// Insert appends a record, assigning its ID and crawl timestamp.
func (s *RecordStore) Insert(_ context.Context, rec crawler.NewRecord) (crawler.Record, error) {
	if rec.LoadTimeMs < 0 {
		return crawler.Record{}, &crawler.PersistenceError{
			Op:  "insert",
			Err: fmt.Errorf("load_time_ms must be >= 0, got %d", rec.LoadTimeMs),
		}
	}
	headers := rec.Headers
	if len(headers) == 0 {
		headers = json.RawMessage(`{}`)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	stored := crawler.Record{
		ID:         s.nextID,
		URL:        rec.URL,
		StatusCode: rec.StatusCode,
		Content:    rec.Content,
		Headers:    append(json.RawMessage(nil), headers...),
		LoadTimeMs: rec.LoadTimeMs,
		CrawledAt:  s.clock.Now(),
	}
	s.records = append(s.records, stored)
	return stored, nil
}

// ListRecent returns summaries ordered by crawl time, newest first.
func (s *RecordStore) ListRecent(_ context.Context, limit, offset int) ([]crawler.Summary, error) {
	if limit <= 0 {
		return []crawler.Summary{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.RLock()
	sorted := make([]crawler.Record, len(s.records))
	copy(sorted, s.records)
	s.mu.RUnlock()

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CrawledAt.Equal(sorted[j].CrawledAt) {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].CrawledAt.After(sorted[j].CrawledAt)
	})
	if offset >= len(sorted) {
		return []crawler.Summary{}, nil
	}
	sorted = sorted[offset:]
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]crawler.Summary, 0, len(sorted))
	for _, rec := range sorted {
		out = append(out, rec.Summary())
	}
	return out, nil
}

// Get fetches a record by ID.
func (s *RecordStore) Get(_ context.Context, id int64) (crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.ID == id {
			rec.Headers = append(json.RawMessage(nil), rec.Headers...)
			return rec, nil
		}
	}
	return crawler.Record{}, crawler.ErrNotFound
}

// Count returns the number of stored records.
func (s *RecordStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// Ping always succeeds.
func (s *RecordStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *RecordStore) Close() {}
