// Package pubsub implements the notification channel over Google Cloud
// Pub/Sub. All topics share one Pub/Sub topic; the notification topic travels
// in the "topic" message attribute.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-recorder/internal/notify"
)

const topicAttribute = "topic"

// Config names the Pub/Sub resources.
type Config struct {
	ProjectID string
	TopicID   string
	// SubscriptionID is required only for Subscribe. Subscribers sharing one
	// subscription split the stream between them.
	SubscriptionID string
}

// Validate checks the publishing settings.
func (c Config) Validate() error {
	if c.ProjectID == "" {
		return errors.New("pubsub.project_id is required")
	}
	if c.TopicID == "" {
		return errors.New("pubsub.topic_id is required")
	}
	return nil
}

// Channel publishes to a Pub/Sub topic and receives from a subscription.
type Channel struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	cfg       Config
	logger    *zap.Logger
	owned     bool

	mu     sync.Mutex
	closed bool
	subs   map[*notify.Subscription]struct{}
	wg     sync.WaitGroup
}

// New creates a Pub/Sub client for cfg.ProjectID.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	ch, err := NewWithClient(client, cfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	ch.owned = true
	return ch, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client *pubsub.Client, cfg Config, logger *zap.Logger) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		client:    client,
		publisher: client.Publisher(cfg.TopicID),
		cfg:       cfg,
		logger:    logger.Named("notify_pubsub"),
		subs:      make(map[*notify.Subscription]struct{}),
	}, nil
}

// Publish sends n and waits for the server to acknowledge it. The caller's
// trace context is carried in the message attributes.
func (c *Channel) Publish(ctx context.Context, topic string, n notify.Notification) error {
	if err := notify.ValidateTopic(topic); err != nil {
		return err
	}
	data, err := notify.Encode(n)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{topicAttribute: topic}}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	if _, err := c.publisher.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Subscribe receives from the configured subscription and forwards
// notifications whose topic attribute matches topic.
func (c *Channel) Subscribe(ctx context.Context, topic string) (*notify.Subscription, error) {
	if err := notify.ValidateTopic(topic); err != nil {
		return nil, err
	}
	if c.cfg.SubscriptionID == "" {
		return nil, errors.New("pubsub.subscription_id is required to subscribe")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, notify.ErrClosed
	}
	c.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan notify.Notification)
	sub := notify.NewSubscription(topic, out, cancel)

	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	receiver := c.client.Subscriber(c.cfg.SubscriptionID)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(out)
		defer func() {
			c.mu.Lock()
			delete(c.subs, sub)
			c.mu.Unlock()
		}()
		err := receiver.Receive(subCtx, func(_ context.Context, msg *pubsub.Message) {
			c.handle(subCtx, topic, msg, out)
		})
		if err != nil && subCtx.Err() == nil {
			c.logger.Warn("pubsub receive stopped", zap.String("subscription", c.cfg.SubscriptionID), zap.Error(err))
		}
	}()
	return sub, nil
}

func (c *Channel) handle(ctx context.Context, topic string, msg *pubsub.Message, out chan<- notify.Notification) {
	if msg.Attributes[topicAttribute] != topic {
		msg.Ack()
		return
	}
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, &pubsubCarrier{attrs: msg.Attributes})
	n, err := notify.Decode(msg.Data)
	if err != nil {
		c.logger.Warn("discarding malformed notification", zap.String("message_id", msg.ID), zap.Error(err))
		msg.Ack()
		return
	}
	if sc := trace.SpanContextFromContext(msgCtx); sc.IsValid() {
		c.logger.Debug("received notification", zap.String("trace_id", sc.TraceID().String()), zap.String("url", n.URL))
	}
	select {
	case out <- n:
		msg.Ack()
	case <-ctx.Done():
		msg.Nack()
	}
}

// Close ends subscriptions, flushes the publisher and, when New created the
// client, closes it.
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
	c.publisher.Stop()
	if c.owned {
		if err := c.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
