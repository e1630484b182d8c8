// Package memory provides the in-process notification broker.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-recorder/internal/notify"
)

const defaultClientBuffer = 64

// Broker fans notifications out to in-process subscribers. Each subscriber
// has its own buffered channel; a subscriber that falls behind misses
// notifications rather than stalling the publisher.
type Broker struct {
	mu       sync.RWMutex
	topics   map[string]map[string]chan notify.Notification
	buffer   int
	closed   bool
	done     chan struct{}
	logger   *zap.Logger
	observer notify.Observer
	dropped  atomic.Int64
	watching atomic.Int64
}

// Option configures a Broker.
type Option func(*Broker)

// WithBuffer sets the per-subscriber buffer size.
func WithBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the broker logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger.Named("notify_memory")
		}
	}
}

// WithObserver reports publish outcomes, typically to metrics.
func WithObserver(o notify.Observer) Option {
	return func(b *Broker) {
		b.observer = o
	}
}

// NewBroker returns an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		topics: make(map[string]map[string]chan notify.Notification),
		buffer: defaultClientBuffer,
		done:   make(chan struct{}),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers n to every current subscriber of topic without blocking.
// A publish with no subscribers still counts as published.
func (b *Broker) Publish(_ context.Context, topic string, n notify.Notification) error {
	if err := notify.ValidateTopic(topic); err != nil {
		b.observe(topic, notify.Observer.NotificationFailed)
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.observe(topic, notify.Observer.NotificationFailed)
		return notify.ErrClosed
	}
	for id, ch := range b.topics[topic] {
		select {
		case ch <- n:
		default:
			b.dropped.Add(1)
			b.observe(topic, notify.Observer.NotificationDropped)
			b.logger.Debug("subscriber buffer full, dropping notification",
				zap.String("subscriber_id", id),
				zap.String("topic", topic),
			)
		}
	}
	b.observe(topic, notify.Observer.NotificationPublished)
	return nil
}

func (b *Broker) observe(topic string, event func(notify.Observer, string)) {
	if b.observer != nil {
		event(b.observer, topic)
	}
}

// Subscribe registers a new subscriber on topic.
func (b *Broker) Subscribe(ctx context.Context, topic string) (*notify.Subscription, error) {
	if err := notify.ValidateTopic(topic); err != nil {
		return nil, err
	}
	ch := make(chan notify.Notification, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, notify.ErrClosed
	}
	subs := b.topics[topic]
	if subs == nil {
		subs = make(map[string]chan notify.Notification)
		b.topics[topic] = subs
	}
	stop := make(chan struct{})
	var sub *notify.Subscription
	sub = notify.NewSubscription(topic, ch, func() {
		close(stop)
		b.remove(topic, sub.ID())
	})
	subs[sub.ID()] = ch
	b.watching.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.watching.Add(-1)
		select {
		case <-ctx.Done():
			sub.Close()
		case <-stop:
		case <-b.done:
		}
	}()
	return sub, nil
}

func (b *Broker) remove(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
	close(ch)
}

// Subscribers reports the number of live subscribers on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// Close ends every subscription. Later calls to Publish and Subscribe fail.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	for topic, subs := range b.topics {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.topics, topic)
	}
	return nil
}
