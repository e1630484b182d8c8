package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	pgstore "github.com/JakeFAU/crawl-recorder/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or roll back) the Postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if e.cfg.Database.DSN == "" {
				return errors.New("database.dsn (or DATABASE_URL) is required")
			}
			logger := e.logger.Named("migrate")
			if down > 0 {
				return pgstore.Rollback(e.cfg.Database.DSN, down, logger)
			}
			return pgstore.Migrate(e.cfg.Database.DSN, logger)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead of applying")
	return cmd
}
