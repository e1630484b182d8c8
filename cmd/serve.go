package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-recorder/internal/config"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			app, err := newApp(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return err
			}
			// Run closes the app itself once the server has drained.
			return app.Run(cmd.Context())
		},
	}
}

func shutdownTimeout(cfg config.Config) time.Duration {
	if d := cfg.ShutdownTimeout(); d > 0 {
		return d
	}
	return 10 * time.Second
}
