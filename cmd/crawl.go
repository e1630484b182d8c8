package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
)

func newCrawlCmd() *cobra.Command {
	var withContent bool
	cmd := &cobra.Command{
		Use:   "crawl <url> [url...]",
		Short: "Crawl one or more URLs and print the stored records",
		Long: `Runs one crawl attempt per URL, in order. Every attempt is stored,
failed ones included. The command fails if any attempt failed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(app App, _ *env) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				failed := 0
				for _, url := range args {
					rec, err := app.Crawler().Crawl(cmd.Context(), url)
					var scrapeErr *crawler.ScrapeError
					switch {
					case err == nil:
					case errors.As(err, &scrapeErr):
						failed++
					default:
						return fmt.Errorf("crawl %s: %w", url, err)
					}
					if err := enc.Encode(printable(rec, withContent)); err != nil {
						return fmt.Errorf("write record: %w", err)
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d crawls failed", failed, len(args))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&withContent, "content", false, "include page content in the output")
	return cmd
}

// printable drops content unless asked for, leaving the summary plus headers.
func printable(rec crawler.Record, withContent bool) any {
	if withContent {
		return rec
	}
	return struct {
		crawler.Summary
		Headers json.RawMessage `json:"headers"`
	}{Summary: rec.Summary(), Headers: rec.Headers}
}
