// Package orchestrator runs one crawl attempt end to end: call the scraper,
// time it, classify the outcome, persist exactly one record and announce
// successful crawls.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
	"github.com/JakeFAU/crawl-recorder/internal/metrics"
)

const tracerName = "github.com/JakeFAU/crawl-recorder/internal/orchestrator"

// Orchestrator coordinates scraper, store and publisher for single crawls.
// It is safe for concurrent use; attempts share nothing but the store.
type Orchestrator struct {
	scraper   crawler.Scraper
	store     crawler.RecordStore
	publisher crawler.Publisher
	clock     crawler.Clock
	topic     string
	formats   []crawler.Format
	logger    *zap.Logger
	tracer    trace.Tracer
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the clock used to time the external call.
func WithClock(c crawler.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTopic overrides the notification topic.
func WithTopic(topic string) Option {
	return func(o *Orchestrator) {
		if topic != "" {
			o.topic = topic
		}
	}
}

// WithTracer overrides the tracer used for crawl spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// wallClock keeps the monotonic reading so elapsed times survive wall clock steps.
type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// New wires an Orchestrator. publisher may be nil, in which case nothing is
// announced.
func New(scraper crawler.Scraper, store crawler.RecordStore, publisher crawler.Publisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		scraper:   scraper,
		store:     store,
		publisher: publisher,
		clock:     wallClock{},
		topic:     crawler.TopicPageCrawled,
		formats:   []crawler.Format{crawler.FormatMarkdown, crawler.FormatHTML},
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")
	return o
}

// Crawl performs one attempt for url.
//
// On success it returns the stored record. When the scraper fails, the
// failure is still recorded and Crawl returns that record together with the
// *crawler.ScrapeError. A *crawler.PersistenceError is returned as is, with a
// zero record. Blank URLs are rejected with crawler.ErrInvalidURL before
// anything is called or written.
func (o *Orchestrator) Crawl(ctx context.Context, url string) (crawler.Record, error) {
	if strings.TrimSpace(url) == "" {
		metrics.ObserveCrawl(url, metrics.OutcomeInvalid, -1)
		return crawler.Record{}, crawler.ErrInvalidURL
	}

	ctx, span := o.tracer.Start(ctx, "crawl", trace.WithAttributes(attribute.String("url.full", url)))
	defer span.End()

	start := o.clock.Now()
	result, scrapeErr := o.scraper.Scrape(ctx, crawler.ScrapeRequest{URL: url, Formats: o.formats})
	elapsed := o.clock.Now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	// A caller that hangs up mid-crawl still gets its attempt recorded.
	writeCtx := context.WithoutCancel(ctx)

	if scrapeErr != nil {
		return o.recordFailure(writeCtx, span, url, elapsed, scrapeErr)
	}
	return o.recordSuccess(writeCtx, span, url, elapsed, result)
}

func (o *Orchestrator) recordSuccess(
	ctx context.Context,
	span trace.Span,
	url string,
	elapsed time.Duration,
	result crawler.ScrapeResult,
) (crawler.Record, error) {
	rec, err := o.store.Insert(ctx, crawler.NewRecord{
		URL:        url,
		StatusCode: result.Status(),
		Content:    result.Content(),
		Headers:    o.encodeMetadata(url, result.Metadata),
		LoadTimeMs: elapsed.Milliseconds(),
	})
	if err != nil {
		return o.persistenceFailure(span, url, elapsed, err)
	}

	metrics.ObserveCrawl(url, metrics.OutcomeSuccess, elapsed)
	span.SetAttributes(
		attribute.Int64("crawl.record_id", rec.ID),
		attribute.Int("http.response.status_code", rec.StatusCode),
	)
	o.logger.Info("crawl completed",
		zap.String("url", url),
		zap.Int64("id", rec.ID),
		zap.Int("status_code", rec.StatusCode),
		zap.Int64("load_time_ms", rec.LoadTimeMs),
	)
	o.announce(ctx, rec)
	return rec, nil
}

func (o *Orchestrator) recordFailure(
	ctx context.Context,
	span trace.Span,
	url string,
	elapsed time.Duration,
	cause error,
) (crawler.Record, error) {
	scrapeErr := crawler.AsScrapeError(url, cause)
	rec, err := o.store.Insert(ctx, crawler.NewRecord{
		URL:        url,
		StatusCode: scrapeErr.RecordStatus(),
		Content:    cause.Error(),
		Headers:    crawler.ErrorHeaders,
		LoadTimeMs: elapsed.Milliseconds(),
	})
	if err != nil {
		return o.persistenceFailure(span, url, elapsed, err)
	}

	metrics.ObserveCrawl(url, metrics.OutcomeScrapeFailure, elapsed)
	span.RecordError(cause)
	span.SetStatus(codes.Error, "scrape failed")
	span.SetAttributes(attribute.Int64("crawl.record_id", rec.ID))
	o.logger.Warn("crawl failed",
		zap.String("url", url),
		zap.Int64("id", rec.ID),
		zap.Int("status_code", rec.StatusCode),
		zap.Int64("load_time_ms", rec.LoadTimeMs),
		zap.Error(cause),
	)
	return rec, scrapeErr
}

func (o *Orchestrator) persistenceFailure(span trace.Span, url string, elapsed time.Duration, err error) (crawler.Record, error) {
	var perr *crawler.PersistenceError
	if !errors.As(err, &perr) {
		perr = &crawler.PersistenceError{Op: "insert crawl record", Err: err}
	}
	metrics.ObserveCrawl(url, metrics.OutcomePersistenceFailure, elapsed)
	span.RecordError(perr)
	span.SetStatus(codes.Error, "persist failed")
	o.logger.Error("failed to record crawl attempt", zap.String("url", url), zap.Error(perr))
	return crawler.Record{}, perr
}

// announce publishes the completion notification. Failures are logged only.
func (o *Orchestrator) announce(ctx context.Context, rec crawler.Record) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, o.topic, rec.Notification()); err != nil {
		o.logger.Warn("notification publish failed",
			zap.String("topic", o.topic),
			zap.Int64("id", rec.ID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) encodeMetadata(url string, meta map[string]any) json.RawMessage {
	if len(meta) == 0 {
		return json.RawMessage(`{}`)
	}
	data, err := json.Marshal(meta)
	if err != nil {
		o.logger.Warn("metadata not serializable, storing empty headers", zap.String("url", url), zap.Error(err))
		return json.RawMessage(`{}`)
	}
	return data
}
