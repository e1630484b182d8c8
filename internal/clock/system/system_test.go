// Package system exercises the real-time clock adapter.
package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	requireNotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockNowMonotonic checks successive timestamps are non-decreasing.
func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	if second.Before(first) {
		t.Fatalf("expected second call %v to be >= first %v", second, first)
	}
}

func requireNotNil(t *testing.T, v any) {
	t.Helper()
	if v == nil {
		t.Fatal("expected value to be non-nil")
	}
}

type steppedClock struct {
	times []time.Time
	idx   int
}

func (s *steppedClock) Now() time.Time {
	t := s.times[s.idx]
	if s.idx < len(s.times)-1 {
		s.idx++
	}
	return t
}

// TestMonotonicNeverGoesBackwards steps the wall clock back and checks the reading holds.
func TestMonotonicNeverGoesBackwards(t *testing.T) {
	t.Parallel()

	base := time.Unix(1700000000, 0).UTC()
	inner := &steppedClock{times: []time.Time{
		base,
		base.Add(-time.Minute),
		base.Add(time.Second),
	}}
	clk := NewMonotonic(inner)

	first := clk.Now()
	second := clk.Now()
	third := clk.Now()

	if !first.Equal(base) {
		t.Fatalf("expected first reading %v, got %v", base, first)
	}
	if !second.Equal(base) {
		t.Fatalf("expected stepped-back reading to hold at %v, got %v", base, second)
	}
	if !third.Equal(base.Add(time.Second)) {
		t.Fatalf("expected clock to resume at %v, got %v", base.Add(time.Second), third)
	}
}

// TestNewMonotonicDefaultsToSystemClock checks the nil fallback.
func TestNewMonotonicDefaultsToSystemClock(t *testing.T) {
	t.Parallel()

	clk := NewMonotonic(nil)
	if clk.Now().IsZero() {
		t.Fatal("expected a non-zero reading from the system clock")
	}
}
