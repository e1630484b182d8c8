// Package headless scrapes pages that need JavaScript by rendering them in
// headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
	"github.com/JakeFAU/crawl-recorder/internal/markdown"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleDelay       = 500 * time.Millisecond
)

// Config controls the headless scraper.
type Config struct {
	// MaxParallel caps concurrent browser tabs. Zero means unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long the page may run scripts after the body is ready.
	SettleDelay time.Duration
	// Headers are sent with every navigation.
	Headers http.Header
}

// Fetcher implements crawler.Scraper on one shared Chrome allocator. Each
// Scrape opens its own tab.
type Fetcher struct {
	cfg       Config
	tabs      chan struct{}
	browser   context.Context
	shutdown  context.CancelFunc
	converter *markdown.Converter
}

var _ crawler.Scraper = (*Fetcher)(nil)

// NewChromedp prepares a Chrome allocator. The browser process starts lazily
// on the first Scrape.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("headless: max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}

	f := &Fetcher{cfg: cfg, converter: markdown.NewConverter()}
	if cfg.MaxParallel > 0 {
		f.tabs = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	f.browser, f.shutdown = chromedp.NewExecAllocator(context.Background(), opts...)
	return f, nil
}

// Close stops the browser.
func (f *Fetcher) Close() {
	f.shutdown()
}

// Scrape renders the page and converts the resulting DOM. The status code is
// the one Chrome saw for the top-level document. Every failure comes back as
// a *crawler.ScrapeError.
func (f *Fetcher) Scrape(ctx context.Context, req crawler.ScrapeRequest) (crawler.ScrapeResult, error) {
	if err := f.openTab(ctx); err != nil {
		return crawler.ScrapeResult{}, &crawler.ScrapeError{URL: req.URL, Err: err}
	}
	defer f.closeTab()

	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &document{}
	chromedp.ListenTarget(tab, doc.observe)

	var html, location string
	err := chromedp.Run(tab,
		f.prepare(),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return crawler.ScrapeResult{}, &crawler.ScrapeError{URL: req.URL, Err: fmt.Errorf("render %s: %w", req.URL, err)}
	}

	status, contentType, source := doc.result(req.URL, location)
	res, err := f.converter.Result(html, source, status, req.Formats)
	if err != nil {
		return crawler.ScrapeResult{}, &crawler.ScrapeError{URL: req.URL, StatusCode: status, Err: err}
	}
	if contentType != "" {
		res.Metadata["contentType"] = contentType
	}
	res.Metadata["rendered"] = true
	return res, nil
}

// prepare enables the network domain and applies the configured identity.
func (f *Fetcher) prepare() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("override user agent: %w", err)
			}
		}
		if extra := extraHeaders(f.cfg.Headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) openTab(ctx context.Context) error {
	if f.tabs == nil {
		return nil
	}
	select {
	case f.tabs <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for a browser tab: %w", ctx.Err())
	}
}

func (f *Fetcher) closeTab() {
	if f.tabs != nil {
		<-f.tabs
	}
}

// document remembers the last top-level document response of a tab.
type document struct {
	mu          sync.Mutex
	status      int
	contentType string
	url         string
}

func (d *document) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
	d.contentType = headerValue(resp.Response.Headers, "Content-Type")
	if d.contentType == "" {
		d.contentType = resp.Response.MimeType
	}
}

// result returns the document status, content type and source URL, falling
// back to the browser location and then the requested URL.
func (d *document) result(requested, location string) (int, string, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := d.status
	if status == 0 {
		status = crawler.DefaultStatusCode
	}
	source := d.url
	if source == "" {
		source = location
	}
	if source == "" {
		source = requested
	}
	return status, d.contentType, source
}

func headerValue(h network.Headers, name string) string {
	for k, v := range h {
		if !strings.EqualFold(k, name) {
			continue
		}
		switch val := v.(type) {
		case string:
			return val
		case []any:
			if len(val) > 0 {
				return fmt.Sprint(val[0])
			}
		case []string:
			if len(val) > 0 {
				return val[0]
			}
		default:
			return fmt.Sprint(val)
		}
	}
	return ""
}

// extraHeaders joins repeated values with a comma, which is how the
// DevTools protocol expects them.
func extraHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for k, values := range h {
		if len(values) > 0 {
			out[k] = strings.Join(values, ", ")
		}
	}
	return out
}
