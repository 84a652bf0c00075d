package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMessageLimiter_BurstAndRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	l := NewMessageLimiter(clk, 5)

	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("message %d of initial burst refused", i)
		}
	}
	if l.Allow() {
		t.Fatalf("expected limiter to be exhausted")
	}

	clk.Advance(200 * time.Millisecond) // one token at 5/s.
	if !l.Allow() {
		t.Fatalf("expected refill after time advance")
	}
	if l.Allow() {
		t.Fatalf("expected only one token refilled")
	}
	if got := l.Dropped(); got != 2 {
		t.Fatalf("dropped=%d, want 2", got)
	}
}

func TestMessageLimiter_DoesNotExceedBurst(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	l := NewMessageLimiter(clk, 2)

	clk.Advance(time.Minute)
	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow() {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("allowed=%d after idle, want burst of 2", allowed)
	}
}

func TestMessageLimiter_NonPositiveIsUnlimited(t *testing.T) {
	l := NewMessageLimiter(nil, 0)
	for i := 0; i < 1000; i++ {
		if !l.Allow() {
			t.Fatalf("unlimited limiter refused message %d", i)
		}
	}
}
