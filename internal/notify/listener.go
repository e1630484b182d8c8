package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Listen subscribes to topic and calls handle for each notification until ctx
// is done or the subscription ends.
func Listen(ctx context.Context, ch Channel, topic string, handle func(Notification)) error {
	sub, err := ch.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-sub.C():
			if !ok {
				return nil
			}
			handle(n)
		}
	}
}

// LogNotifications logs every notification on topic at info level.
func LogNotifications(ctx context.Context, ch Channel, topic string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("notify_listener")
	logger.Info("listening for crawl notifications", zap.String("topic", topic))
	return Listen(ctx, ch, topic, func(n Notification) {
		logger.Info("page crawled",
			zap.String("topic", topic),
			zap.String("url", n.URL),
			zap.Int("status_code", n.StatusCode),
			zap.Time("crawled_at", n.CrawledAt),
		)
	})
}
