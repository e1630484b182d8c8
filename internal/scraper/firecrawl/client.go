// Package firecrawl is a client for the Firecrawl scrape endpoint.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
)

// DefaultAPIURL is the hosted Firecrawl scrape endpoint.
const DefaultAPIURL = "https://api.firecrawl.dev/v1/scrape"

const maxErrorBody = 4 << 10

// Config controls the client.
type Config struct {
	APIURL string
	APIKey string
	// Timeout bounds one scrape round trip. Zero means no client-side limit.
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls Firecrawl once per Scrape.
type Client struct {
	apiURL string
	apiKey string
	http   *http.Client
	logger *zap.Logger
}

var _ crawler.Scraper = (*Client)(nil)

// New builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if !strings.HasPrefix(cfg.APIURL, "http://") && !strings.HasPrefix(cfg.APIURL, "https://") {
		return nil, fmt.Errorf("firecrawl api url must be http(s): %q", cfg.APIURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		apiURL: cfg.APIURL,
		apiKey: cfg.APIKey,
		http:   httpClient,
		logger: logger.Named("firecrawl"),
	}, nil
}

type scrapeRequest struct {
	URL     string           `json:"url"`
	Formats []crawler.Format `json:"formats"`
}

type scrapeResponse struct {
	Success    bool           `json:"success"`
	StatusCode int            `json:"statusCode"`
	Error      string         `json:"error"`
	Metadata   map[string]any `json:"metadata"`
	Data       *struct {
		Markdown string         `json:"markdown"`
		HTML     string         `json:"html"`
		Metadata map[string]any `json:"metadata"`
	} `json:"data"`
}

// Scrape performs one POST to the scrape endpoint. Transport failures,
// non-2xx responses and bodies with "success": false are returned as
// *crawler.ScrapeError.
func (c *Client) Scrape(ctx context.Context, req crawler.ScrapeRequest) (crawler.ScrapeResult, error) {
	formats := req.Formats
	if len(formats) == 0 {
		formats = []crawler.Format{crawler.FormatHTML, crawler.FormatMarkdown}
	}
	body, err := json.Marshal(scrapeRequest{URL: req.URL, Formats: formats})
	if err != nil {
		return crawler.ScrapeResult{}, fmt.Errorf("marshal scrape request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return crawler.ScrapeResult{}, &crawler.ScrapeError{URL: req.URL, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return crawler.ScrapeResult{}, &crawler.ScrapeError{URL: req.URL, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return crawler.ScrapeResult{}, &crawler.ScrapeError{
			URL:        req.URL,
			StatusCode: resp.StatusCode,
			Err:        providerError(resp),
		}
	}

	var decoded scrapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return crawler.ScrapeResult{}, &crawler.ScrapeError{URL: req.URL, Err: fmt.Errorf("decode scrape response: %w", err)}
	}
	if !decoded.Success {
		return crawler.ScrapeResult{}, decoded.failure(req.URL)
	}
	return decoded.result(), nil
}

// failure converts a provider-declared failure on a 2xx answer. The HTTP
// status says nothing about the page, so only an error status the provider
// reports for the page itself is kept; otherwise the record falls back to 500.
func (r scrapeResponse) failure(url string) *crawler.ScrapeError {
	msg := strings.TrimSpace(r.Error)
	if msg == "" {
		msg = "scrape failed"
	}
	status := r.result().StatusCode
	if status < 400 {
		status = 0
	}
	return &crawler.ScrapeError{URL: url, StatusCode: status, Err: errors.New(msg)}
}

func (r scrapeResponse) result() crawler.ScrapeResult {
	res := crawler.ScrapeResult{StatusCode: r.StatusCode, Metadata: r.Metadata}
	if r.Data != nil {
		res.Markdown = r.Data.Markdown
		res.HTML = r.Data.HTML
		if r.Data.Metadata != nil {
			res.Metadata = r.Data.Metadata
		}
	}
	if res.StatusCode == 0 {
		res.StatusCode = metadataStatus(res.Metadata)
	}
	return res
}

func metadataStatus(meta map[string]any) int {
	if v, ok := meta["statusCode"].(float64); ok && v > 0 {
		return int(v)
	}
	return 0
}

// providerError extracts the provider's error text, falling back to the
// HTTP status line.
func providerError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var decoded scrapeResponse
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Error != "" {
		return errors.New(decoded.Error)
	}
	if text := strings.TrimSpace(string(raw)); text != "" && !strings.HasPrefix(text, "{") {
		return fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, text)
	}
	return fmt.Errorf("request failed with status code %d", resp.StatusCode)
}
