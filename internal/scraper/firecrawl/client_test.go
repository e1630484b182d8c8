package firecrawl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
)

func TestScrapeRequestShape(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://example.com", body["url"])
		assert.Equal(t, []any{"html", "markdown"}, body["formats"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"success": true,
			"data": {
				"markdown": "# Example",
				"html": "<h1>Example</h1>",
				"metadata": {"title": "Example", "statusCode": 203}
			}
		}`))
	}))
	defer srv.Close()

	client, err := New(Config{APIURL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	res, err := client.Scrape(context.Background(), crawler.ScrapeRequest{
		URL:     "https://example.com",
		Formats: []crawler.Format{crawler.FormatHTML, crawler.FormatMarkdown},
	})
	require.NoError(t, err)
	require.Equal(t, "# Example", res.Content())
	require.Equal(t, 203, res.Status())
	require.Equal(t, "Example", res.Metadata["title"])
}

func TestScrapeTopLevelStatusWins(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success": true, "statusCode": 201, "data": {"html": "<p>x</p>", "metadata": {"statusCode": 404}}}`))
	}))
	defer srv.Close()

	client, err := New(Config{APIURL: srv.URL})
	require.NoError(t, err)
	res, err := client.Scrape(context.Background(), crawler.ScrapeRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, 201, res.Status())
	require.Equal(t, "<p>x</p>", res.Content())
}

func TestScrapeEmptyDataDefaults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	client, err := New(Config{APIURL: srv.URL})
	require.NoError(t, err)
	res, err := client.Scrape(context.Background(), crawler.ScrapeRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, crawler.DefaultStatusCode, res.Status())
	require.Empty(t, res.Content())
	require.Nil(t, res.Metadata)
}

func TestScrapeProviderErrorCarriesStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"success": false, "error": "Insufficient credits"}`))
	}))
	defer srv.Close()

	client, err := New(Config{APIURL: srv.URL})
	require.NoError(t, err)
	_, err = client.Scrape(context.Background(), crawler.ScrapeRequest{URL: "https://example.com"})

	var scrapeErr *crawler.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	require.Equal(t, http.StatusPaymentRequired, scrapeErr.StatusCode)
	require.Equal(t, http.StatusPaymentRequired, scrapeErr.RecordStatus())
	require.Contains(t, scrapeErr.Error(), "Insufficient credits")
}

func TestScrapeDeclaredFailureOn200(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantMsg    string
		wantStatus int
	}{
		{"provider message", `{"success": false, "error": "Failed to scrape URL"}`, "Failed to scrape URL", crawler.FailureStatusCode},
		{"no message", `{"success": false}`, "scrape failed", crawler.FailureStatusCode},
		{"page error status kept", `{"success": false, "error": "blocked", "data": {"metadata": {"statusCode": 403}}}`, "blocked", http.StatusForbidden},
		{"success status ignored", `{"success": false, "error": "empty page", "statusCode": 200}`, "empty page", crawler.FailureStatusCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := New(Config{APIURL: srv.URL})
			require.NoError(t, err)
			res, err := client.Scrape(context.Background(), crawler.ScrapeRequest{URL: "https://example.com"})
			require.Zero(t, res.StatusCode)
			require.Empty(t, res.Content())

			var scrapeErr *crawler.ScrapeError
			require.ErrorAs(t, err, &scrapeErr)
			require.EqualError(t, scrapeErr, tt.wantMsg)
			require.Equal(t, tt.wantStatus, scrapeErr.RecordStatus())
		})
	}
}

func TestScrapeTransportErrorRecordsAs500(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client, err := New(Config{APIURL: srv.URL, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	_, err = client.Scrape(context.Background(), crawler.ScrapeRequest{URL: "https://example.com"})

	var scrapeErr *crawler.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	require.Zero(t, scrapeErr.StatusCode)
	require.Equal(t, crawler.FailureStatusCode, scrapeErr.RecordStatus())
}

func TestNewRejectsNonHTTPURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{APIURL: "ftp://example.com"})
	require.Error(t, err)

	client, err := New(Config{})
	require.NoError(t, err)
	require.Equal(t, DefaultAPIURL, client.apiURL)
}
