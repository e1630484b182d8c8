// Package server assembles the crawl recorder from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-recorder/internal/api"
	"github.com/JakeFAU/crawl-recorder/internal/clock/system"
	"github.com/JakeFAU/crawl-recorder/internal/config"
	"github.com/JakeFAU/crawl-recorder/internal/crawler"
	"github.com/JakeFAU/crawl-recorder/internal/export"
	"github.com/JakeFAU/crawl-recorder/internal/notify"
	"github.com/JakeFAU/crawl-recorder/internal/orchestrator"
	"github.com/JakeFAU/crawl-recorder/internal/query"
	"github.com/JakeFAU/crawl-recorder/internal/storage"
	"github.com/JakeFAU/crawl-recorder/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	store        crawler.RecordStore
	channel      notify.Channel
	orchestrator *orchestrator.Orchestrator
	query        *query.Service
	blobs        storage.BlobStore
	apiServer    *api.Server
	closers      []namedCloser
}

type namedCloser struct {
	name string
	fn   Closer
}

// Build creates every component the configuration selects. On error the
// components built so far are released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
			app = nil
		}
	}()

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Options{
			ServiceName: cfg.Tracing.ServiceName,
			ProjectID:   cfg.Tracing.ProjectID,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.push("tracer", tp.Shutdown)
	}

	app.store, err = OpenStore(ctx, cfg, logger.Named("store"))
	if err != nil {
		return nil, err
	}
	app.push("record store", func(context.Context) error { app.store.Close(); return nil })

	app.channel, err = OpenChannel(ctx, cfg, logger.Named("notify"))
	if err != nil {
		return nil, err
	}
	app.push("notification channel", app.closeChannel)

	scraper, closeScraper, err := NewScraper(cfg, logger.Named("scraper"))
	if err != nil {
		return nil, err
	}
	app.push("scraper", closeScraper)

	blobs, closeBlobs, err := OpenBlobStore(ctx, cfg, logger.Named("export"))
	if err != nil {
		return nil, err
	}
	app.blobs = blobs
	app.push("blob store", closeBlobs)

	app.orchestrator = orchestrator.New(scraper, app.store, app.channel,
		orchestrator.WithLogger(logger),
		orchestrator.WithTopic(cfg.Notify.Topic),
	)
	app.query = query.New(app.store, cfg.Query.DefaultLimit, cfg.Query.MaxLimit)
	app.apiServer = api.NewServer(api.Deps{
		Crawler: app.orchestrator,
		Pages:   app.query,
		Events:  app.channel,
		Ready:   app.store,
		Clock:   system.New(),
	}, cfg, logger)

	return app, nil
}

// Orchestrator runs crawl attempts.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// Query reads stored records.
func (a *App) Query() *query.Service { return a.query }

// Channel is the notification channel crawls are announced on.
func (a *App) Channel() notify.Channel { return a.channel }

// Handler is the HTTP API.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Exporter writes recent records to the configured blob store.
func (a *App) Exporter() *export.Exporter {
	return export.New(a.query, a.blobs, system.New(), a.logger)
}

// Run serves HTTP until ctx ends or SIGINT/SIGTERM arrives, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Notify.LogEvents {
		go func() {
			err := notify.LogNotifications(ctx, a.channel, a.cfg.Notify.Topic, a.logger.Named("events"))
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("notification listener stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		a.logger.Error("http server error", zap.Error(serveErr))
	}
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		return err
	}
	return serveErr
}

// Close releases components in reverse build order and returns the first error.
func (a *App) Close(ctx context.Context) error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			if first == nil {
				first = fmt.Errorf("close %s: %w", c.name, err)
			}
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return first
}

func (a *App) push(name string, fn Closer) {
	a.closers = append(a.closers, namedCloser{name: name, fn: fn})
}

// closeChannel drains queued notifications within ctx before closing.
func (a *App) closeChannel(ctx context.Context) error {
	if async, ok := a.channel.(*notify.Async); ok {
		return async.Shutdown(ctx)
	}
	return a.channel.Close()
}
