package crawler

import (
	"context"
	"time"
)

// Scraper retrieves one page through an external provider.
type Scraper interface {
	Scrape(ctx context.Context, req ScrapeRequest) (ScrapeResult, error)
}

// RecordStore persists crawl records. Implementations must accept concurrent
// inserts and assign ID and CrawledAt themselves.
type RecordStore interface {
	Insert(ctx context.Context, rec NewRecord) (Record, error)
	ListRecent(ctx context.Context, limit, offset int) ([]Summary, error)
	Get(ctx context.Context, id int64) (Record, error)
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// Publisher pushes completion notifications to a topic. Publish must not block
// the caller for longer than it takes to hand the payload off.
type Publisher interface {
	Publish(ctx context.Context, topic string, n Notification) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
