// Package query is the read-only surface over stored crawl records.
package query

import (
	"context"
	"errors"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
)

// Listing bounds.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ErrInvalidPage reports a negative limit or offset.
var ErrInvalidPage = errors.New("limit and offset must be non-negative")

// Service lists and loads records. It never writes.
type Service struct {
	store        crawler.RecordStore
	defaultLimit int
	maxLimit     int
}

// New returns a Service. Non-positive bounds fall back to DefaultLimit and
// MaxLimit, and the default never exceeds the cap.
func New(store crawler.RecordStore, defaultLimit, maxLimit int) *Service {
	if maxLimit <= 0 {
		maxLimit = MaxLimit
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	defaultLimit = min(defaultLimit, maxLimit)
	return &Service{store: store, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// MaxLimit reports the configured cap.
func (s *Service) MaxLimit() int { return s.maxLimit }

// ListRecent returns at most limit summaries, newest first. A zero limit means
// the configured default; larger limits are capped. Store failures surface as
// *crawler.QueryError with no partial results.
func (s *Service) ListRecent(ctx context.Context, limit, offset int) ([]crawler.Summary, error) {
	if limit < 0 || offset < 0 {
		return nil, ErrInvalidPage
	}
	if limit == 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	out, err := s.store.ListRecent(ctx, limit, offset)
	if err != nil {
		return nil, asQueryError("list crawl records", err)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get loads one record. Missing records return crawler.ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (crawler.Record, error) {
	if id <= 0 {
		return crawler.Record{}, crawler.ErrNotFound
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			return crawler.Record{}, crawler.ErrNotFound
		}
		return crawler.Record{}, asQueryError("get crawl record", err)
	}
	return rec, nil
}

// Count returns the number of stored records.
func (s *Service) Count(ctx context.Context) (int64, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, asQueryError("count crawl records", err)
	}
	return n, nil
}

func asQueryError(op string, err error) error {
	var qerr *crawler.QueryError
	if errors.As(err, &qerr) {
		return qerr
	}
	return &crawler.QueryError{Op: op, Err: err}
}
