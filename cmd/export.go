package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-recorder/internal/export"
)

func newExportCmd() *cobra.Command {
	var opts export.Options
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write recent crawl records to the export store as JSON Lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(app App, _ *env) error {
				res, err := app.Exporter().Run(cmd.Context(), opts)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%d records)\n", res.URI, res.Records)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 1000, "maximum records to export, newest first")
	cmd.Flags().BoolVar(&opts.Full, "full", false, "include content and headers")
	return cmd
}
