package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Observer receives publish outcomes. Implementations must be safe for
// concurrent use.
type Observer interface {
	NotificationPublished(topic string)
	NotificationDropped(topic string)
	NotificationFailed(topic string)
}

// AsyncConfig controls buffering for Async.
//   - BufferSize: queued notifications before drops begin (default 1024).
//   - PublishTimeout: per-publish timeout on the wrapped channel (default 5s).
//   - Logger: optional structured logger used for warnings.
//   - Observer: optional publish outcome hook.
type AsyncConfig struct {
	BufferSize     int
	PublishTimeout time.Duration
	Logger         *zap.Logger
	Observer       Observer
}

const (
	defaultAsyncBuffer    = 1024
	defaultPublishTimeout = 5 * time.Second
	dropLogInterval       = 5 * time.Second
)

type envelope struct {
	topic string
	n     Notification
}

// Async wraps a Channel so Publish never blocks the caller. Notifications are
// queued and forwarded by one background goroutine; when the queue is full
// they are dropped and a rate-limited warning is logged.
type Async struct {
	inner       Channel
	cfg         AsyncConfig
	queue       chan envelope
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *zap.Logger
	dropLimiter rateLimiter
	dropped     atomic.Int64
	closed      atomic.Bool
	closeOnce   sync.Once
}

// NewAsync starts the forwarding goroutine around inner.
func NewAsync(inner Channel, cfg AsyncConfig) *Async {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultAsyncBuffer
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Async{
		inner:       inner,
		cfg:         cfg,
		queue:       make(chan envelope, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger.Named("notify_async"),
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	go a.run()
	return a
}

// Publish enqueues n. It returns ErrClosed after Close and nil otherwise,
// including when the notification is dropped.
func (a *Async) Publish(_ context.Context, topic string, n Notification) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	select {
	case a.queue <- envelope{topic: topic, n: n}:
	default:
		a.observeDrop(topic)
		a.dropped.Add(1)
		if a.dropLimiter.Allow(time.Now()) {
			count := a.dropped.Swap(0)
			a.logger.Warn("notifications dropped due to backpressure", zap.Int64("dropped", count))
		}
	}
	return nil
}

// Subscribe delegates to the wrapped channel.
func (a *Async) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	return a.inner.Subscribe(ctx, topic)
}

// Close drains queued notifications, then closes the wrapped channel.
func (a *Async) Close() error {
	return a.Shutdown(context.Background())
}

// Shutdown is Close bounded by ctx.
func (a *Async) Shutdown(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		close(a.stopCh)
	})
	select {
	case <-a.doneCh:
	case <-ctx.Done():
		return fmt.Errorf("notify async close wait: %w", ctx.Err())
	}
	if err := a.inner.Close(); err != nil {
		return fmt.Errorf("close notification channel: %w", err)
	}
	return nil
}

func (a *Async) run() {
	defer close(a.doneCh)
	for {
		select {
		case env := <-a.queue:
			a.forward(env)
		case <-a.stopCh:
			for {
				select {
				case env := <-a.queue:
					a.forward(env)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) forward(env envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.PublishTimeout)
	defer cancel()
	if err := a.inner.Publish(ctx, env.topic, env.n); err != nil {
		a.logger.Warn("notification publish failed",
			zap.String("topic", env.topic),
			zap.String("url", env.n.URL),
			zap.Error(err),
		)
		if a.cfg.Observer != nil {
			a.cfg.Observer.NotificationFailed(env.topic)
		}
		return
	}
	if a.cfg.Observer != nil {
		a.cfg.Observer.NotificationPublished(env.topic)
	}
}

func (a *Async) observeDrop(topic string) {
	if a.cfg.Observer != nil {
		a.cfg.Observer.NotificationDropped(topic)
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
