package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newPagesCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "pages [id]",
		Short: "List recent crawl records, or show one by id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(app App, _ *env) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if len(args) == 1 {
					id, err := strconv.ParseInt(args[0], 10, 64)
					if err != nil {
						return fmt.Errorf("invalid page id %q", args[0])
					}
					rec, err := app.Pages().Get(cmd.Context(), id)
					if err != nil {
						return fmt.Errorf("get page %d: %w", id, err)
					}
					return enc.Encode(rec)
				}
				pages, err := app.Pages().ListRecent(cmd.Context(), limit, offset)
				if err != nil {
					return fmt.Errorf("list pages: %w", err)
				}
				return enc.Encode(pages)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records to list (0 uses the configured default)")
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip")
	return cmd
}
