// Package postgres implements the notification channel over Postgres
// NOTIFY/LISTEN. Each subscription holds its own dedicated connection.
package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-recorder/internal/notify"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ListenConn is the subset of *pgx.Conn a subscription needs.
type ListenConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens a dedicated listening connection.
type Dialer func(ctx context.Context) (ListenConn, error)

// Channel publishes with pg_notify and subscribes with LISTEN.
type Channel struct {
	pool    execer
	closeFn func()
	dial    Dialer
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
	subs   map[*notify.Subscription]struct{}
	wg     sync.WaitGroup
}

// New connects a publishing pool to dsn and dials listeners on demand.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Channel, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required for postgres notifications")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create notify pool: %w", err)
	}
	dial := func(ctx context.Context) (ListenConn, error) {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect listener: %w", err)
		}
		return conn, nil
	}
	ch := NewWithPool(pool, dial, logger)
	ch.closeFn = pool.Close
	return ch, nil
}

// NewWithPool builds a Channel from an existing pool and dialer.
func NewWithPool(pool execer, dial Dialer, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		pool:   pool,
		dial:   dial,
		logger: logger.Named("notify_postgres"),
		subs:   make(map[*notify.Subscription]struct{}),
	}
}

// Publish sends n as a NOTIFY payload on topic.
func (c *Channel) Publish(ctx context.Context, topic string, n notify.Notification) error {
	if err := notify.ValidateTopic(topic); err != nil {
		return err
	}
	payload, err := notify.Encode(n)
	if err != nil {
		return err
	}
	if _, err := c.pool.Exec(ctx, "SELECT pg_notify($1, $2)", topic, string(payload)); err != nil {
		return fmt.Errorf("pg_notify %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a dedicated connection and LISTENs on topic.
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

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{topic}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan notify.Notification)
	sub := notify.NewSubscription(topic, out, cancel)

	// Close may have run while dialing; registration and wg.Add happen under
	// the same lock Close takes before waiting.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		if err := conn.Close(context.Background()); err != nil {
			c.logger.Debug("close listener connection", zap.Error(err))
		}
		return nil, notify.ErrClosed
	}
	c.subs[sub] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.subs, sub)
			c.mu.Unlock()
		}()
		c.receive(subCtx, conn, sub, out)
	}()
	return sub, nil
}

func (c *Channel) receive(ctx context.Context, conn ListenConn, sub *notify.Subscription, out chan<- notify.Notification) {
	defer close(out)
	defer func() {
		if err := conn.Close(context.Background()); err != nil {
			c.logger.Debug("close listener connection", zap.Error(err))
		}
	}()
	for {
		msg, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("listener stopped",
					zap.String("topic", sub.Topic()),
					zap.String("subscription_id", sub.ID()),
					zap.Error(err),
				)
			}
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

// Close ends all subscriptions and releases the publishing pool.
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
	if c.closeFn != nil {
		c.closeFn()
	}
	return nil
}
