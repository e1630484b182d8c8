package crawler

import (
	"encoding/json"
	"time"
)

// Format names a content representation requested from the scraper.
type Format string

// Content formats understood by scraper backends.
const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// DefaultStatusCode is recorded when a successful scrape reports no status.
const DefaultStatusCode = 200

// FailureStatusCode is recorded when a failed scrape carries no HTTP status.
const FailureStatusCode = 500

// NewRecord carries the caller-supplied columns of a crawl record. The store
// assigns ID and CrawledAt on insert.
type NewRecord struct {
	URL        string
	StatusCode int
	Content    string
	Headers    json.RawMessage
	LoadTimeMs int64
}

// Record is the immutable persisted outcome of one crawl attempt.
type Record struct {
	ID         int64           `json:"id"`
	URL        string          `json:"url"`
	StatusCode int             `json:"status_code"`
	Content    string          `json:"content"`
	Headers    json.RawMessage `json:"headers"`
	LoadTimeMs int64           `json:"load_time_ms"`
	CrawledAt  time.Time       `json:"crawled_at"`
}

// Summary returns the listing projection of the record.
func (r Record) Summary() Summary {
	return Summary{
		ID:         r.ID,
		URL:        r.URL,
		StatusCode: r.StatusCode,
		LoadTimeMs: r.LoadTimeMs,
		CrawledAt:  r.CrawledAt,
	}
}

// Summary is the row shape returned by listings.
type Summary struct {
	ID         int64     `json:"id"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	LoadTimeMs int64     `json:"load_time_ms"`
	CrawledAt  time.Time `json:"crawled_at"`
}

// ScrapeRequest asks a scraper backend for one page.
type ScrapeRequest struct {
	URL     string
	Formats []Format
}

// ScrapeResult is what a scraper backend returns for a successful call.
type ScrapeResult struct {
	// StatusCode is the status the provider reported for the page; zero when absent.
	StatusCode int
	Markdown   string
	HTML       string
	// Metadata is the provider's page metadata, serialized verbatim into the record headers.
	Metadata map[string]any
}

// Content prefers rendered markdown over raw markup.
func (r ScrapeResult) Content() string {
	if r.Markdown != "" {
		return r.Markdown
	}
	return r.HTML
}

// Status returns the provider status or DefaultStatusCode.
func (r ScrapeResult) Status() int {
	if r.StatusCode > 0 {
		return r.StatusCode
	}
	return DefaultStatusCode
}

// TopicPageCrawled is the topic completed crawls are announced on.
const TopicPageCrawled = "page_crawled"

// Notification is the payload published for each successful crawl.
type Notification struct {
	URL        string    `json:"url"`
	StatusCode int       `json:"statusCode"`
	CrawledAt  time.Time `json:"crawledAt"`
}

// Notification builds the completion payload for the record.
func (r Record) Notification() Notification {
	return Notification{URL: r.URL, StatusCode: r.StatusCode, CrawledAt: r.CrawledAt}
}

// ErrorHeaders marks a record whose crawl attempt failed.
var ErrorHeaders = json.RawMessage(`{"error":true}`)
