// Package export writes recent crawl records to blob storage as JSON Lines.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
	"github.com/JakeFAU/crawl-recorder/internal/metrics"
	"github.com/JakeFAU/crawl-recorder/internal/storage"
)

// ContentType is the media type of export objects.
const ContentType = "application/x-ndjson"

// Source is the read side the exporter pulls from.
type Source interface {
	ListRecent(ctx context.Context, limit, offset int) ([]crawler.Summary, error)
	Get(ctx context.Context, id int64) (crawler.Record, error)
}

// Options select what is exported.
type Options struct {
	// Limit caps the number of records, newest first.
	Limit int
	// Full includes content and headers; otherwise summaries are written.
	Full bool
}

// Result describes a finished export.
type Result struct {
	URI     string
	Object  string
	Records int
}

// Exporter copies records from a Source to a BlobStore.
type Exporter struct {
	source Source
	blobs  storage.BlobStore
	clock  crawler.Clock
	logger *zap.Logger
}

// New builds an Exporter. A nil clock uses UTC wall time.
func New(source Source, blobs storage.BlobStore, clock crawler.Clock, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{source: source, blobs: blobs, clock: clock, logger: logger.Named("export")}
}

// Run writes one JSONL object and returns where it landed.
func (e *Exporter) Run(ctx context.Context, opts Options) (Result, error) {
	if opts.Limit <= 0 {
		return Result{}, fmt.Errorf("export limit must be > 0")
	}
	summaries, err := e.source.ListRecent(ctx, opts.Limit, 0)
	if err != nil {
		return Result{}, fmt.Errorf("list records: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, sum := range summaries {
		var line any = sum
		if opts.Full {
			rec, err := e.source.Get(ctx, sum.ID)
			if err != nil {
				return Result{}, fmt.Errorf("load record %d: %w", sum.ID, err)
			}
			line = rec
		}
		if err := enc.Encode(line); err != nil {
			return Result{}, fmt.Errorf("encode record %d: %w", sum.ID, err)
		}
	}

	object := e.objectName()
	uri, err := e.blobs.PutObject(ctx, object, ContentType, &buf)
	if err != nil {
		return Result{}, fmt.Errorf("write export %s: %w", object, err)
	}
	metrics.ObserveExport(len(summaries))
	e.logger.Info("export written",
		zap.String("uri", uri),
		zap.Int("records", len(summaries)),
		zap.Bool("full", opts.Full),
	)
	return Result{URI: uri, Object: object, Records: len(summaries)}, nil
}

func (e *Exporter) objectName() string {
	now := time.Now().UTC()
	if e.clock != nil {
		now = e.clock.Now().UTC()
	}
	return fmt.Sprintf("crawled_pages-%s-%s.jsonl", now.Format("20060102T150405Z"), uuid.NewString()[:8])
}
