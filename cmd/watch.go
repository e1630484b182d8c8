package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print crawl notifications as they are published",
		Long: `Subscribes to the notification channel and prints one JSON line per
notification until interrupted. Only notifications published after the
subscription starts are shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(app App, e *env) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				if topic == "" {
					topic = e.cfg.Notify.Topic
				}
				sub, err := app.Channel().Subscribe(ctx, topic)
				if err != nil {
					return fmt.Errorf("subscribe %s: %w", topic, err)
				}
				defer sub.Close()

				enc := json.NewEncoder(cmd.OutOrStdout())
				for {
					select {
					case <-ctx.Done():
						return nil
					case n, ok := <-sub.C():
						if !ok {
							return nil
						}
						if err := enc.Encode(n); err != nil {
							return fmt.Errorf("write notification: %w", err)
						}
					}
				}
			})
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic to watch (default notify.topic)")
	return cmd
}
