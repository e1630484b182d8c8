// Package notify defines the crawl notification channel: a topic-keyed,
// best-effort broadcast of completed crawls. Delivery reaches subscribers
// active at publish time only; there is no replay and no durability.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
)

// Notification is the payload broadcast after a successful crawl.
type Notification = crawler.Notification

// ErrClosed is returned by channels after Close.
var ErrClosed = errors.New("notification channel closed")

// Channel publishes and subscribes to crawl notifications.
type Channel interface {
	// Publish broadcasts n on topic. Publishing with no subscribers is a no-op.
	Publish(ctx context.Context, topic string, n Notification) error
	// Subscribe opens a live stream of notifications on topic. The stream ends
	// when ctx is done or the subscription is closed.
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Close() error
}

// Subscription is a live stream of notifications for one topic.
type Subscription struct {
	id    string
	topic string
	ch    <-chan Notification

	closeOnce sync.Once
	closeFn   func()
}

// NewSubscription wraps ch. closeFn runs at most once and must cause ch to be
// closed eventually.
func NewSubscription(topic string, ch <-chan Notification, closeFn func()) *Subscription {
	return &Subscription{
		id:      uuid.NewString(),
		topic:   topic,
		ch:      ch,
		closeFn: closeFn,
	}
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string { return s.id }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// C returns the notification stream. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Notification { return s.ch }

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
}

// Encode serializes a notification for network backends.
func Encode(n Notification) ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	return data, nil
}

// Decode parses a payload produced by Encode.
func Decode(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	return n, nil
}

// ValidateTopic rejects empty topics.
func ValidateTopic(topic string) error {
	if topic == "" {
		return errors.New("notification topic is required")
	}
	return nil
}
