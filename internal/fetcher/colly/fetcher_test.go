package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
)

const testPage = `<html lang="en"><head><title>Fixture</title><meta name="description" content="colly fixture"></head>
<body><h1>Hello</h1><p>World</p></body></html>`

func TestScrapeConvertsPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "coverage-agent", r.UserAgent())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(testPage))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "coverage-agent", Timeout: time.Second})
	res, err := f.Scrape(context.Background(), crawler.ScrapeRequest{
		URL:     srv.URL,
		Formats: []crawler.Format{crawler.FormatMarkdown, crawler.FormatHTML},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Status())
	require.Contains(t, res.Markdown, "# Hello")
	require.Equal(t, testPage, res.HTML)
	require.Equal(t, "Fixture", res.Metadata["title"])
	require.Equal(t, "text/html; charset=utf-8", res.Metadata["contentType"])
}

func TestScrapeErrorPageKeepsStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	res, err := f.Scrape(context.Background(), crawler.ScrapeRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.Status())
	require.Contains(t, res.Content(), "404 page not found")
}

func TestScrapeConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := New(Config{Timeout: time.Second})
	_, err := f.Scrape(context.Background(), crawler.ScrapeRequest{URL: addr})

	var scrapeErr *crawler.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	require.Equal(t, crawler.FailureStatusCode, scrapeErr.RecordStatus())
}

func TestScrapeHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: time.Second})
	_, err := f.Scrape(ctx, crawler.ScrapeRequest{URL: srv.URL})

	var scrapeErr *crawler.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, crawler.FailureStatusCode, scrapeErr.RecordStatus())
}

func TestCollectorHonorsConfig(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: true, Timeout: time.Second})
	c, guard := f.collector(&visit{})
	require.Equal(t, "coverage-agent", c.UserAgent)
	require.False(t, c.IgnoreRobotsTxt)
	require.NotNil(t, guard)

	f = New(Config{})
	require.Equal(t, defaultTimeout, f.cfg.Timeout)
	c, guard = f.collector(&visit{})
	require.True(t, c.IgnoreRobotsTxt)
	require.Nil(t, guard)
}

func TestVisitCapturesResponseAndError(t *testing.T) {
	t.Parallel()

	u, err := url.Parse("https://example.com")
	require.NoError(t, err)

	v := &visit{}
	v.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: u},
	})
	require.Equal(t, http.StatusCreated, v.status)
	require.Equal(t, "body", string(v.body))
	require.Equal(t, "ok", v.headers.Get("X-Resp"))
	require.Equal(t, "https://example.com", v.url)

	v.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	require.EqualError(t, v.err, "boom")
	require.Equal(t, http.StatusBadGateway, v.status)
}
