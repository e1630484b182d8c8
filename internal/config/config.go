// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. CRAWLREC_SERVER_PORT.
const EnvPrefix = "CRAWLREC"

// Backend names.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendSQLite    = "sqlite"
	BackendRedis     = "redis"
	BackendPubSub    = "pubsub"
	BackendFirecrawl = "firecrawl"
	BackendColly     = "colly"
	BackendHeadless  = "headless"
	BackendLocal     = "local"
	BackendGCS       = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Firecrawl FirecrawlConfig `mapstructure:"firecrawl"`
	Colly     CollyConfig     `mapstructure:"colly"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Redis     RedisConfig     `mapstructure:"redis"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Export    ExportConfig    `mapstructure:"export"`
	Query     QueryConfig     `mapstructure:"query"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig enables the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	ProjectID   string `mapstructure:"project_id"`
}

// ScraperConfig picks the scraper backend: firecrawl, colly or headless.
type ScraperConfig struct {
	Backend string `mapstructure:"backend"`
}

// FirecrawlConfig configures the hosted scrape provider.
type FirecrawlConfig struct {
	APIURL         string `mapstructure:"api_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CollyConfig configures the local HTTP scraper.
type CollyConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless Chrome scraper.
type HeadlessConfig struct {
	UserAgent     string `mapstructure:"user_agent"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
}

// StoreConfig picks the record store backend: memory, postgres or sqlite.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	MigrateOnStart         bool   `mapstructure:"migrate_on_start"`
}

// SQLiteConfig points at the SQLite database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// NotifyConfig picks the notification backend and tunes delivery.
type NotifyConfig struct {
	Backend               string `mapstructure:"backend"`
	Topic                 string `mapstructure:"topic"`
	BufferSize            int    `mapstructure:"buffer_size"`
	PublishTimeoutSeconds int    `mapstructure:"publish_timeout_seconds"`
	LogEvents             bool   `mapstructure:"log_events"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// PubSubConfig names the Google Cloud Pub/Sub resources.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	TopicID        string `mapstructure:"topic_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// ExportConfig sets where record exports are written.
type ExportConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// QueryConfig bounds record listings.
type QueryConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// legacyEnv maps keys to the bare variable names existing deployments export.
var legacyEnv = map[string]string{
	"server.port":       "PORT",
	"database.dsn":      "DATABASE_URL",
	"firecrawl.api_url": "FIRECRAWL_API_URL",
	"firecrawl.api_key": "FIRECRAWL_API_KEY",
}

// LoadDotEnv loads variables from path into the process environment without
// overriding ones already set. An empty path reads ./.env; a missing file is
// not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.resolveBackends()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("logging.development", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "crawl-recorder")
	v.SetDefault("scraper.backend", BackendFirecrawl)
	v.SetDefault("firecrawl.api_url", "https://api.firecrawl.dev/v1/scrape")
	v.SetDefault("firecrawl.timeout_seconds", 0)
	v.SetDefault("colly.user_agent", "crawl-recorder/0.1")
	v.SetDefault("colly.respect_robots", true)
	v.SetDefault("colly.timeout_seconds", 15)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("store.backend", "")
	v.SetDefault("database.table", "crawled_pages")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)
	v.SetDefault("database.migrate_on_start", false)
	v.SetDefault("sqlite.path", "crawl-recorder.db")
	v.SetDefault("notify.backend", "")
	v.SetDefault("notify.topic", "page_crawled")
	v.SetDefault("notify.buffer_size", 1024)
	v.SetDefault("notify.publish_timeout_seconds", 5)
	v.SetDefault("notify.log_events", true)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.prefix", "crawlrec:")
	v.SetDefault("export.backend", BackendLocal)
	v.SetDefault("export.dir", "exports")
	v.SetDefault("export.prefix", "crawls")
	v.SetDefault("query.default_limit", 50)
	v.SetDefault("query.max_limit", 500)
}

// resolveBackends picks Postgres for both store and notifications when a
// database DSN is present and no backend was named, and memory otherwise.
func (c *Config) resolveBackends() {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
		if c.Database.DSN != "" {
			c.Store.Backend = BackendPostgres
		}
	}
	if c.Notify.Backend == "" {
		c.Notify.Backend = BackendMemory
		if c.Store.Backend == BackendPostgres {
			c.Notify.Backend = BackendPostgres
		}
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("server.request_timeout_seconds must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.validateScraper(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateNotify(); err != nil {
		return err
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	if c.Query.MaxLimit <= 0 {
		return fmt.Errorf("query.max_limit must be > 0")
	}
	if c.Query.DefaultLimit <= 0 || c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("query.default_limit must be between 1 and query.max_limit")
	}
	return nil
}

func (c Config) validateScraper() error {
	switch c.Scraper.Backend {
	case BackendFirecrawl:
		if c.Firecrawl.TimeoutSeconds < 0 {
			return fmt.Errorf("firecrawl.timeout_seconds must be >= 0")
		}
	case BackendColly:
		if c.Colly.TimeoutSeconds <= 0 {
			return fmt.Errorf("colly.timeout_seconds must be > 0")
		}
	case BackendHeadless:
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
		}
	default:
		return fmt.Errorf("scraper.backend %q is not one of firecrawl, colly, headless", c.Scraper.Backend)
	}
	return nil
}

func (c Config) validateStore() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres store")
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("store.backend %q is not one of memory, postgres, sqlite", c.Store.Backend)
	}
	return nil
}

func (c Config) validateNotify() error {
	if c.Notify.Topic == "" {
		return fmt.Errorf("notify.topic must be set")
	}
	switch c.Notify.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres notifications")
		}
	case BackendRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address is required for redis notifications")
		}
	case BackendPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.TopicID == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_id are required for pubsub notifications")
		}
	default:
		return fmt.Errorf("notify.backend %q is not one of memory, postgres, redis, pubsub", c.Notify.Backend)
	}
	return nil
}

func (c Config) validateExport() error {
	switch c.Export.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Export.Dir == "" {
			return fmt.Errorf("export.dir is required for local exports")
		}
	case BackendGCS:
		if c.Export.Bucket == "" {
			return fmt.Errorf("export.bucket is required for gcs exports")
		}
	default:
		return fmt.Errorf("export.backend %q is not one of memory, local, gcs", c.Export.Backend)
	}
	return nil
}

// RequestTimeout is the per-request HTTP budget; zero disables it.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
