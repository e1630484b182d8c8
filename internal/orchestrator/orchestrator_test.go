package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
	"github.com/JakeFAU/crawl-recorder/internal/storage/memory"
)

type scrapeFunc func(ctx context.Context, req crawler.ScrapeRequest) (crawler.ScrapeResult, error)

func (f scrapeFunc) Scrape(ctx context.Context, req crawler.ScrapeRequest) (crawler.ScrapeResult, error) {
	return f(ctx, req)
}

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

type recordingPublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

type publishCall struct {
	topic string
	n     crawler.Notification
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, n crawler.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, publishCall{topic: topic, n: n})
	return p.err
}

func (p *recordingPublisher) published() []publishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishCall(nil), p.calls...)
}

type failingStore struct {
	crawler.RecordStore
	err error
}

func (s failingStore) Insert(context.Context, crawler.NewRecord) (crawler.Record, error) {
	return crawler.Record{}, s.err
}

func newClock() *stepClock {
	return &stepClock{now: time.Unix(1700000000, 0), step: 42 * time.Millisecond}
}

func TestCrawlSuccessRecordsAndPublishes(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(nil)
	pub := &recordingPublisher{}
	scraper := scrapeFunc(func(_ context.Context, req crawler.ScrapeRequest) (crawler.ScrapeResult, error) {
		assert.Equal(t, []crawler.Format{crawler.FormatMarkdown, crawler.FormatHTML}, req.Formats)
		return crawler.ScrapeResult{
			StatusCode: 200,
			Markdown:   "# Hello",
			HTML:       "<h1>Hello</h1>",
			Metadata:   map[string]any{"title": "Example"},
		}, nil
	})
	o := New(scraper, store, pub, WithClock(newClock()), WithLogger(zaptest.NewLogger(t)))

	rec, err := o.Crawl(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", rec.URL)
	require.Equal(t, 200, rec.StatusCode)
	require.Equal(t, "# Hello", rec.Content)
	require.JSONEq(t, `{"title":"Example"}`, string(rec.Headers))
	require.Equal(t, int64(42), rec.LoadTimeMs)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	calls := pub.published()
	require.Len(t, calls, 1)
	require.Equal(t, crawler.TopicPageCrawled, calls[0].topic)
	require.Equal(t, rec.Notification(), calls[0].n)
}

func TestCrawlSuccessDefaults(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(nil)
	scraper := scrapeFunc(func(context.Context, crawler.ScrapeRequest) (crawler.ScrapeResult, error) {
		return crawler.ScrapeResult{HTML: "<p>raw</p>"}, nil
	})
	o := New(scraper, store, nil)

	rec, err := o.Crawl(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, crawler.DefaultStatusCode, rec.StatusCode)
	require.Equal(t, "<p>raw</p>", rec.Content)
	require.JSONEq(t, `{}`, string(rec.Headers))
	require.GreaterOrEqual(t, rec.LoadTimeMs, int64(0))
}

func TestCrawlScrapeFailureIsRecordedAndReturned(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(nil)
	pub := &recordingPublisher{}
	timeout := errors.New("timeout of 30000ms exceeded")
	scraper := scrapeFunc(func(context.Context, crawler.ScrapeRequest) (crawler.ScrapeResult, error) {
		return crawler.ScrapeResult{}, timeout
	})
	o := New(scraper, store, pub, WithClock(newClock()))

	rec, err := o.Crawl(context.Background(), "https://bad.example")
	require.ErrorIs(t, err, timeout)
	var scrapeErr *crawler.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)

	require.Equal(t, crawler.FailureStatusCode, rec.StatusCode)
	require.Equal(t, "timeout of 30000ms exceeded", rec.Content)
	require.JSONEq(t, `{"error":true}`, string(rec.Headers))
	require.Equal(t, int64(42), rec.LoadTimeMs)

	stored, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.Content, stored.Content)
	require.Empty(t, pub.published())
}

func TestCrawlScrapeFailureKeepsProviderStatus(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(nil)
	scraper := scrapeFunc(func(_ context.Context, req crawler.ScrapeRequest) (crawler.ScrapeResult, error) {
		return crawler.ScrapeResult{}, &crawler.ScrapeError{URL: req.URL, StatusCode: 429, Err: errors.New("rate limited")}
	})
	o := New(scraper, store, nil)

	rec, err := o.Crawl(context.Background(), "https://busy.example")
	require.Error(t, err)
	require.Equal(t, 429, rec.StatusCode)
	require.Equal(t, "rate limited", rec.Content)
}

func TestCrawlRepeatedFailuresEachRecorded(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(nil)
	pub := &recordingPublisher{}
	scraper := scrapeFunc(func(_ context.Context, req crawler.ScrapeRequest) (crawler.ScrapeResult, error) {
		return crawler.ScrapeResult{}, &crawler.ScrapeError{URL: req.URL, StatusCode: 503, Err: errors.New("unavailable")}
	})
	o := New(scraper, store, pub, WithClock(newClock()))

	seen := make(map[int64]bool)
	for range 3 {
		rec, err := o.Crawl(context.Background(), "https://down.example")
		var scrapeErr *crawler.ScrapeError
		require.ErrorAs(t, err, &scrapeErr)
		require.Equal(t, "https://down.example", scrapeErr.URL)
		require.Equal(t, 503, rec.StatusCode)
		require.NotZero(t, rec.ID)
		require.False(t, seen[rec.ID], "record id %d reused", rec.ID)
		seen[rec.ID] = true
	}

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
	require.Empty(t, pub.published())
}

func TestCrawlRejectsBlankURL(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(nil)
	var calls atomic.Int32
	scraper := scrapeFunc(func(context.Context, crawler.ScrapeRequest) (crawler.ScrapeResult, error) {
		calls.Add(1)
		return crawler.ScrapeResult{}, nil
	})
	o := New(scraper, store, nil)

	for _, url := range []string{"", "   "} {
		_, err := o.Crawl(context.Background(), url)
		require.ErrorIs(t, err, crawler.ErrInvalidURL)
	}
	require.Zero(t, calls.Load())
	count, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestCrawlConcurrentSameURLCreatesIndependentRecords(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(nil)
	pub := &recordingPublisher{}
	scraper := scrapeFunc(func(context.Context, crawler.ScrapeRequest) (crawler.ScrapeResult, error) {
		time.Sleep(5 * time.Millisecond)
		return crawler.ScrapeResult{Markdown: "same"}, nil
	})
	o := New(scraper, store, pub)

	var wg sync.WaitGroup
	ids := make([]int64, 2)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := o.Crawl(context.Background(), "https://example.com")
			assert.NoError(t, err)
			ids[i] = rec.ID
		}(i)
	}
	wg.Wait()

	require.NotEqual(t, ids[0], ids[1])
	count, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	require.Len(t, pub.published(), 2)
}

func TestCrawlPersistenceFailureIsReturnedWithoutPublish(t *testing.T) {
	t.Parallel()

	for name, scrapeErr := range map[string]error{
		"success path": nil,
		"failure path": errors.New("provider down"),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			pub := &recordingPublisher{}
			dbErr := errors.New("connection refused")
			scraper := scrapeFunc(func(context.Context, crawler.ScrapeRequest) (crawler.ScrapeResult, error) {
				return crawler.ScrapeResult{Markdown: "ok"}, scrapeErr
			})
			o := New(scraper, failingStore{err: dbErr}, pub)

			rec, err := o.Crawl(context.Background(), "https://example.com")
			var perr *crawler.PersistenceError
			require.ErrorAs(t, err, &perr)
			require.ErrorIs(t, err, dbErr)
			require.Zero(t, rec.ID)
			require.Empty(t, pub.published())
		})
	}
}

func TestCrawlPublishFailureDoesNotFailCrawl(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(nil)
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	scraper := scrapeFunc(func(context.Context, crawler.ScrapeRequest) (crawler.ScrapeResult, error) {
		return crawler.ScrapeResult{Markdown: "ok"}, nil
	})
	o := New(scraper, store, pub, WithTopic("custom_topic"))

	rec, err := o.Crawl(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.NotZero(t, rec.ID)
	calls := pub.published()
	require.Len(t, calls, 1)
	require.Equal(t, "custom_topic", calls[0].topic)
}

func TestCrawlCanceledCallerStillRecordsAttempt(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	scraper := scrapeFunc(func(ctx context.Context, _ crawler.ScrapeRequest) (crawler.ScrapeResult, error) {
		cancel()
		return crawler.ScrapeResult{}, ctx.Err()
	})
	o := New(scraper, store, nil)

	rec, err := o.Crawl(ctx, "https://example.com")
	require.ErrorIs(t, err, context.Canceled)
	require.NotZero(t, rec.ID)
	require.Equal(t, crawler.FailureStatusCode, rec.StatusCode)
}

func TestEncodeMetadataFallsBackOnUnserializableValues(t *testing.T) {
	t.Parallel()

	o := New(nil, nil, nil)
	got := o.encodeMetadata("https://example.com", map[string]any{"bad": make(chan int)})
	require.Equal(t, json.RawMessage(`{}`), got)
}
