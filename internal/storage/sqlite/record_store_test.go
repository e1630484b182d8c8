package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func openTestStore(t *testing.T, clock crawler.Clock) *RecordStore {
	t.Helper()
	store, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "crawls.db")}, clock)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestInsertAndGet(t *testing.T) {
	t.Parallel()

	store := openTestStore(t, nil)
	ctx := context.Background()

	rec, err := store.Insert(ctx, crawler.NewRecord{
		URL:        "https://example.com",
		StatusCode: 200,
		Content:    "# Hello",
		Headers:    json.RawMessage(`{"title":"Example"}`),
		LoadTimeMs: 12,
	})
	require.NoError(t, err)
	require.Positive(t, rec.ID)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.URL, got.URL)
	require.Equal(t, rec.CrawledAt, got.CrawledAt)
	require.JSONEq(t, `{"title":"Example"}`, string(got.Headers))

	_, err = store.Get(ctx, rec.ID+100)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestListRecentTiesFallBackToInsertionOrder(t *testing.T) {
	t.Parallel()

	store := openTestStore(t, fixedClock{now: time.Unix(1700000000, 0).UTC()})
	ctx := context.Background()
	for _, u := range []string{"https://a.example", "https://b.example", "https://c.example"} {
		_, err := store.Insert(ctx, crawler.NewRecord{URL: u, StatusCode: 200})
		require.NoError(t, err)
	}

	list, err := store.ListRecent(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "https://c.example", list[0].URL)
	require.Equal(t, "https://b.example", list[1].URL)

	rest, err := store.ListRecent(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "https://a.example", rest[0].URL)
}

func TestCheckConstraintRejectsNegativeLoadTime(t *testing.T) {
	t.Parallel()

	store := openTestStore(t, nil)
	_, err := store.Insert(context.Background(), crawler.NewRecord{URL: "https://example.com", LoadTimeMs: -5})
	var perr *crawler.PersistenceError
	require.ErrorAs(t, err, &perr)
}

func TestConcurrentInsertsAreAllPersisted(t *testing.T) {
	t.Parallel()

	store := openTestStore(t, nil)
	ctx := context.Background()
	const writers = 20

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Insert(ctx, crawler.NewRecord{URL: "https://example.com", StatusCode: 200})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(writers), n)
}

func TestInMemoryDatabase(t *testing.T) {
	t.Parallel()

	store, err := Open(context.Background(), Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Ping(context.Background()))
	_, err = store.Insert(context.Background(), crawler.NewRecord{URL: "https://example.com", StatusCode: 200})
	require.NoError(t, err)
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{}, nil)
	require.Error(t, err)
}
