// Package system provides real clock implementations.
package system

import (
	"sync"
	"time"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
)

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Monotonic wraps a clock so successive readings never go backwards, even when
// the wall clock is stepped. Stores use it to stamp crawled_at.
type Monotonic struct {
	mu    sync.Mutex
	inner crawler.Clock
	last  time.Time
}

// NewMonotonic wraps inner; a nil inner uses the system clock.
func NewMonotonic(inner crawler.Clock) *Monotonic {
	if inner == nil {
		inner = New()
	}
	return &Monotonic{inner: inner}
}

// Now returns max(inner.Now(), previous reading).
func (m *Monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.inner.Now()
	if now.Before(m.last) {
		return m.last
	}
	m.last = now
	return now
}
