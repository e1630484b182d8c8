// Package redis implements the notification channel over Redis pub/sub.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-recorder/internal/notify"
)

// Config holds Redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int
	// Prefix is prepended to topics to form Redis channel names.
	Prefix string
}

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// Channel publishes and subscribes through Redis PUBLISH/SUBSCRIBE.
type Channel struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
	owned  bool

	mu     sync.Mutex
	closed bool
	subs   map[*notify.Subscription]struct{}
	wg     sync.WaitGroup
}

// New dials Redis and verifies the connection.
func New(cfg Config, logger *zap.Logger) (*Channel, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	ch := NewWithClient(client, cfg.Prefix, logger)
	ch.owned = true
	return ch, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client *redis.Client, prefix string, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		client: client,
		prefix: prefix,
		logger: logger.Named("notify_redis"),
		subs:   make(map[*notify.Subscription]struct{}),
	}
}

func (c *Channel) channelName(topic string) string {
	return c.prefix + topic
}

// Publish sends n to the Redis channel for topic.
func (c *Channel) Publish(ctx context.Context, topic string, n notify.Notification) error {
	if err := notify.ValidateTopic(topic); err != nil {
		return err
	}
	payload, err := notify.Encode(n)
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, c.channelName(topic), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a Redis subscription on topic and waits for confirmation.
func (c *Channel) Subscribe(ctx context.Context, topic string) (*notify.Subscription, error) {
	if err := notify.ValidateTopic(topic); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, notify.ErrClosed
	}
	c.mu.Unlock()

	ps := c.client.Subscribe(ctx, c.channelName(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan notify.Notification)
	sub := notify.NewSubscription(topic, out, cancel)

	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.subs, sub)
			c.mu.Unlock()
		}()
		c.receive(subCtx, ps, out)
	}()
	return sub, nil
}

func (c *Channel) receive(ctx context.Context, ps *redis.PubSub, out chan<- notify.Notification) {
	defer close(out)
	defer func() {
		if err := ps.Close(); err != nil {
			c.logger.Debug("close redis subscription", zap.Error(err))
		}
	}()
	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			n, err := notify.Decode([]byte(msg.Payload))
			if err != nil {
				c.logger.Warn("discarding malformed notification",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close ends all subscriptions and, when New created the client, closes it.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*notify.Subscription, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	c.wg.Wait()
	if c.owned {
		if err := c.client.Close(); err != nil {
			return fmt.Errorf("close redis client: %w", err)
		}
	}
	return nil
}
