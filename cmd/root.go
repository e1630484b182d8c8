// Package cmd defines the crawl-recorder CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-recorder/internal/api"
	"github.com/JakeFAU/crawl-recorder/internal/config"
	"github.com/JakeFAU/crawl-recorder/internal/export"
	"github.com/JakeFAU/crawl-recorder/internal/logging"
	"github.com/JakeFAU/crawl-recorder/internal/notify"
	"github.com/JakeFAU/crawl-recorder/internal/server"
)

type envKeyType string

const envKey envKeyType = "env"

// env is what PersistentPreRunE resolves for every subcommand.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// App is the slice of the assembled service the commands use. Tests swap in
// their own through newApp.
type App interface {
	Crawler() api.Crawler
	Pages() api.PageReader
	Channel() notify.Channel
	Exporter() Exporter
	Run(ctx context.Context) error
	Close(ctx context.Context) error
}

// Exporter writes a record export.
type Exporter interface {
	Run(ctx context.Context, opts export.Options) (export.Result, error)
}

type serverApp struct{ *server.App }

func (a serverApp) Crawler() api.Crawler { return a.Orchestrator() }
func (a serverApp) Pages() api.PageReader { return a.Query() }
func (a serverApp) Exporter() Exporter { return a.App.Exporter() }

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return serverApp{app}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile, envFile string
	cmd := &cobra.Command{
		Use:   "crawl-recorder",
		Short: "Scrape pages through a provider and keep a record of every attempt.",
		Long: `crawl-recorder calls an external scraper for a URL, times the call,
stores exactly one record per attempt and announces successful crawls on a
notification channel. It serves an HTTP API and offers the same operations
from the command line.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load first (default .env)")

	cmd.AddCommand(
		newServeCmd(),
		newCrawlCmd(),
		newPagesCmd(),
		newWatchCmd(),
		newExportCmd(),
		newMigrateCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not initialized")
	}
	return e, nil
}

// withApp builds the application, runs fn and closes the application afterwards.
func withApp(cmd *cobra.Command, fn func(App, *env) error) (err error) {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	app, err := newApp(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(e.cfg))
		defer cancel()
		if cerr := app.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(app, e)
}
