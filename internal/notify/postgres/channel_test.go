package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
	"github.com/JakeFAU/crawl-recorder/internal/notify"
)

type fakeConn struct {
	mu       sync.Mutex
	listened []string
	incoming chan *pgconn.Notification
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan *pgconn.Notification, 4)}
}

func (f *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listened = append(f.listened, sql)
	return pgconn.NewCommandTag("LISTEN"), nil
}

func (f *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n := <-f.incoming:
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestPublishSendsPgNotify(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	n := notify.Notification{URL: "https://example.com", StatusCode: 200, CrawledAt: time.Unix(1700000000, 0).UTC()}
	payload, err := notify.Encode(n)
	require.NoError(t, err)

	mock.ExpectExec("SELECT pg_notify").
		WithArgs(crawler.TopicPageCrawled, string(payload)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	ch := NewWithPool(mock, nil, nil)
	require.NoError(t, ch.Publish(context.Background(), crawler.TopicPageCrawled, n))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishWrapsErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("SELECT pg_notify").WillReturnError(errors.New("conn reset"))

	ch := NewWithPool(mock, nil, nil)
	err = ch.Publish(context.Background(), crawler.TopicPageCrawled, notify.Notification{URL: "https://example.com"})
	require.ErrorContains(t, err, "conn reset")
}

func TestSubscribeListensAndDecodes(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	ch := NewWithPool(nil, func(context.Context) (ListenConn, error) { return conn, nil }, nil)

	sub, err := ch.Subscribe(context.Background(), crawler.TopicPageCrawled)
	require.NoError(t, err)
	require.Equal(t, []string{`LISTEN "page_crawled"`}, conn.listened)

	conn.incoming <- &pgconn.Notification{Channel: crawler.TopicPageCrawled, Payload: "not json"}
	conn.incoming <- &pgconn.Notification{
		Channel: crawler.TopicPageCrawled,
		Payload: `{"url":"https://example.com","statusCode":200,"crawledAt":"2024-05-01T12:00:00Z"}`,
	}

	select {
	case n := <-sub.C():
		require.Equal(t, "https://example.com", n.URL)
		require.Equal(t, 200, n.StatusCode)
	case <-time.After(time.Second):
		t.Fatal("notification not received")
	}

	sub.Close()
	_, ok := <-sub.C()
	require.False(t, ok)
	require.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	ch := NewWithPool(nil, func(context.Context) (ListenConn, error) { return conn, nil }, nil)
	sub, err := ch.Subscribe(context.Background(), crawler.TopicPageCrawled)
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	_, ok := <-sub.C()
	require.False(t, ok)
	require.True(t, conn.isClosed())

	_, err = ch.Subscribe(context.Background(), crawler.TopicPageCrawled)
	require.ErrorIs(t, err, notify.ErrClosed)
}

func TestSubscribeDialFailure(t *testing.T) {
	t.Parallel()

	ch := NewWithPool(nil, func(context.Context) (ListenConn, error) { return nil, errors.New("refused") }, nil)
	_, err := ch.Subscribe(context.Background(), crawler.TopicPageCrawled)
	require.ErrorContains(t, err, "refused")
}

func TestSubscribeRacingCloseReleasesConn(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	var ch *Channel
	ch = NewWithPool(nil, func(context.Context) (ListenConn, error) {
		require.NoError(t, ch.Close())
		return conn, nil
	}, nil)

	sub, err := ch.Subscribe(context.Background(), crawler.TopicPageCrawled)
	require.ErrorIs(t, err, notify.ErrClosed)
	require.Nil(t, sub)
	require.True(t, conn.isClosed())
}
