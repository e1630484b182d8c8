// Package collyfetcher scrapes pages locally with gocolly, producing the same
// result shape as the hosted provider.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
	"github.com/JakeFAU/crawl-recorder/internal/markdown"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements crawler.Scraper with one Colly visit per call.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	template  *colly.Collector
	converter *markdown.Converter
}

var _ crawler.Scraper = (*Fetcher)(nil)

// New builds a Fetcher. All visits share one connection pool.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	template := colly.NewCollector(colly.Async(false))
	template.WithTransport(transport)

	return &Fetcher{
		cfg:       cfg,
		transport: transport,
		template:  template,
		converter: markdown.NewConverter(),
	}
}

// visit captures the outcome of one collector run.
type visit struct {
	url     string
	status  int
	headers http.Header
	body    []byte
	err     error
}

func (v *visit) onResponse(r *colly.Response) {
	v.url = r.Request.URL.String()
	v.status = r.StatusCode
	if r.Headers != nil {
		v.headers = r.Headers.Clone()
	}
	v.body = append([]byte(nil), r.Body...)
}

func (v *visit) onError(r *colly.Response, err error) {
	if r != nil {
		v.status = r.StatusCode
	}
	v.err = err
}

// Scrape executes a single HTTP GET and converts the page. Like the hosted
// provider, an error page is still a result carrying its status code; only
// failures to obtain a response come back as *crawler.ScrapeError.
func (f *Fetcher) Scrape(ctx context.Context, req crawler.ScrapeRequest) (crawler.ScrapeResult, error) {
	v := &visit{}
	collector, guard := f.collector(v)

	done := make(chan error, 1)
	go func() { done <- collector.Visit(req.URL) }()

	var err error
	select {
	case <-ctx.Done():
		err = fmt.Errorf("visit %s: %w", req.URL, ctx.Err())
	case err = <-done:
		if err == nil {
			err = v.err
		}
		if err != nil {
			err = fmt.Errorf("visit %s: %w", req.URL, err)
		}
	}
	if err != nil {
		return crawler.ScrapeResult{}, &crawler.ScrapeError{URL: req.URL, StatusCode: v.status, Err: err}
	}

	res, err := f.converter.Result(string(v.body), v.url, v.status, req.Formats)
	if err != nil {
		return crawler.ScrapeResult{}, &crawler.ScrapeError{URL: req.URL, StatusCode: v.status, Err: err}
	}
	if ct := v.headers.Get("Content-Type"); ct != "" {
		res.Metadata["contentType"] = ct
	}
	guard.annotate(res.Metadata)
	return res, nil
}

// collector clones the template for one visit. The guard is nil unless
// robots.txt is honored.
func (f *Fetcher) collector(v *visit) (*colly.Collector, *robotsGuard) {
	c := f.template.Clone()
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(f.cfg.Timeout)

	var guard *robotsGuard
	if f.cfg.RespectRobots {
		guard = newRobotsGuard(f.transport)
		c.WithTransport(guard)
	} else {
		c.WithTransport(f.transport)
	}

	c.OnResponse(v.onResponse)
	c.OnError(v.onError)
	return c, guard
}
