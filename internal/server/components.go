package server

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-recorder/internal/clock/system"
	"github.com/JakeFAU/crawl-recorder/internal/config"
	"github.com/JakeFAU/crawl-recorder/internal/crawler"
	collyfetcher "github.com/JakeFAU/crawl-recorder/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/crawl-recorder/internal/fetcher/headless"
	"github.com/JakeFAU/crawl-recorder/internal/metrics"
	"github.com/JakeFAU/crawl-recorder/internal/notify"
	notifymemory "github.com/JakeFAU/crawl-recorder/internal/notify/memory"
	notifypg "github.com/JakeFAU/crawl-recorder/internal/notify/postgres"
	notifypubsub "github.com/JakeFAU/crawl-recorder/internal/notify/pubsub"
	notifyredis "github.com/JakeFAU/crawl-recorder/internal/notify/redis"
	"github.com/JakeFAU/crawl-recorder/internal/scraper/firecrawl"
	"github.com/JakeFAU/crawl-recorder/internal/storage"
	gcsstorage "github.com/JakeFAU/crawl-recorder/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crawl-recorder/internal/storage/local"
	"github.com/JakeFAU/crawl-recorder/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawl-recorder/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/crawl-recorder/internal/storage/sqlite"
)

// Closer releases a component during shutdown.
type Closer func(ctx context.Context) error

// OpenStore builds the configured record store, running migrations first
// when asked to.
func OpenStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.RecordStore, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		if cfg.Database.MigrateOnStart {
			if err := pgstore.Migrate(cfg.Database.DSN, logger); err != nil {
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}
		store, err := pgstore.NewRecordStore(ctx, pgstore.Config{
			DSN:             cfg.Database.DSN,
			Table:           cfg.Database.Table,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: time.Duration(cfg.Database.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		logger.Info("using postgres record store", zap.String("table", cfg.Database.Table))
		return store, nil
	case config.BackendSQLite:
		store, err := sqlitestore.Open(ctx, sqlitestore.Config{Path: cfg.SQLite.Path}, system.New())
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		logger.Info("using sqlite record store", zap.String("path", cfg.SQLite.Path))
		return store, nil
	default:
		logger.Warn("using in-memory record store; records are lost on exit")
		return memory.NewRecordStore(system.New()), nil
	}
}

// OpenChannel builds the configured notification channel. Network backends
// are wrapped in notify.Async so a slow broker never holds up a crawl.
func OpenChannel(ctx context.Context, cfg config.Config, logger *zap.Logger) (notify.Channel, error) {
	var inner notify.Channel
	switch cfg.Notify.Backend {
	case config.BackendPostgres:
		ch, err := notifypg.New(ctx, cfg.Database.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres notify init failed: %w", err)
		}
		inner = ch
	case config.BackendRedis:
		ch, err := notifyredis.New(notifyredis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("redis notify init failed: %w", err)
		}
		inner = ch
	case config.BackendPubSub:
		ch, err := notifypubsub.New(ctx, notifypubsub.Config{
			ProjectID:      cfg.PubSub.ProjectID,
			TopicID:        cfg.PubSub.TopicID,
			SubscriptionID: cfg.PubSub.SubscriptionID,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("pubsub notify init failed: %w", err)
		}
		inner = ch
	default:
		logger.Info("using in-memory notification broker")
		return notifymemory.NewBroker(
			notifymemory.WithLogger(logger),
			notifymemory.WithObserver(metrics.NotifyObserver{}),
		), nil
	}
	logger.Info("notification channel ready",
		zap.String("backend", cfg.Notify.Backend),
		zap.String("topic", cfg.Notify.Topic),
	)
	return notify.NewAsync(inner, notify.AsyncConfig{
		BufferSize:     cfg.Notify.BufferSize,
		PublishTimeout: time.Duration(cfg.Notify.PublishTimeoutSeconds) * time.Second,
		Logger:         logger,
		Observer:       metrics.NotifyObserver{},
	}), nil
}

// NewScraper builds the configured scraper backend. The returned Closer is
// never nil.
func NewScraper(cfg config.Config, logger *zap.Logger) (crawler.Scraper, Closer, error) {
	noop := func(context.Context) error { return nil }
	switch cfg.Scraper.Backend {
	case config.BackendColly:
		logger.Info("using colly scraper", zap.String("user_agent", cfg.Colly.UserAgent))
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Colly.UserAgent,
			RespectRobots: cfg.Colly.RespectRobots,
			Timeout:       time.Duration(cfg.Colly.TimeoutSeconds) * time.Second,
		}), noop, nil
	case config.BackendHeadless:
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Headless.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("headless scraper init failed: %w", err)
		}
		logger.Info("using headless scraper", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		return f, func(context.Context) error { f.Close(); return nil }, nil
	default:
		if cfg.Firecrawl.APIKey == "" {
			logger.Warn("firecrawl.api_key is empty; requests will be unauthenticated")
		}
		c, err := firecrawl.New(firecrawl.Config{
			APIURL:  cfg.Firecrawl.APIURL,
			APIKey:  cfg.Firecrawl.APIKey,
			Timeout: time.Duration(cfg.Firecrawl.TimeoutSeconds) * time.Second,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("firecrawl scraper init failed: %w", err)
		}
		logger.Info("using firecrawl scraper", zap.String("api_url", cfg.Firecrawl.APIURL))
		return c, noop, nil
	}
}

// OpenBlobStore builds the export destination. The returned Closer is never nil.
func OpenBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.BlobStore, Closer, error) {
	noop := func(context.Context) error { return nil }
	switch cfg.Export.Backend {
	case config.BackendGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Export.Bucket, Prefix: cfg.Export.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		logger.Info("exporting to gcs", zap.String("bucket", cfg.Export.Bucket))
		return store, func(context.Context) error { return client.Close() }, nil
	case config.BackendLocal:
		dir := filepath.Join(cfg.Export.Dir, cfg.Export.Prefix)
		store, err := localstorage.New(localstorage.Config{BaseDir: dir})
		if err != nil {
			return nil, nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		logger.Info("exporting to local directory", zap.String("dir", dir))
		return store, noop, nil
	default:
		logger.Info("exporting to memory")
		return memory.NewBlobStore(), noop, nil
	}
}
