// Package ratelimit bounds how fast a single signaling connection may send.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// MessageLimiter is a per-connection token bucket allowing perSecond messages
// per second with a burst of the same size.
//
// Time is taken from the provided Clock rather than the limiter's own, which
// keeps tests deterministic.
type MessageLimiter struct {
	clock Clock
	lim   *rate.Limiter

	mu      sync.Mutex
	dropped uint64
}

func NewMessageLimiter(clock Clock, perSecond int) *MessageLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	limit := rate.Limit(perSecond)
	burst := perSecond
	if perSecond <= 0 {
		limit, burst = rate.Inf, 0
	}
	return &MessageLimiter{clock: clock, lim: rate.NewLimiter(limit, burst)}
}

// Allow consumes one token, reporting false when the connection is over its
// budget.
func (l *MessageLimiter) Allow() bool {
	if l.lim.AllowN(l.clock.Now(), 1) {
		return true
	}
	l.mu.Lock()
	l.dropped++
	l.mu.Unlock()
	return false
}

// Dropped returns how many calls to Allow were refused.
func (l *MessageLimiter) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}
