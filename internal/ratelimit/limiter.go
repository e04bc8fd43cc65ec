// Package ratelimit implements a token-bucket limiter tuned per
// external source. Tokens refill in whole intervals: after each full
// interval elapses, floor(elapsedIntervals × tokensPerInterval) tokens
// are added, capped at the bucket maximum. State lives only in memory
// and resets on restart.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token-bucket rate limiter. One instance per quota:
// connectors must not share a limiter unless they share a quota.
type Limiter struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time

	tokensPerInterval int
	interval          time.Duration
	maxTokens         int

	now func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithMaxTokens caps the bucket above tokensPerInterval (burst size).
func WithMaxTokens(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxTokens = n
		}
	}
}

// WithClock substitutes the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter that grants tokensPerInterval tokens per
// interval. The bucket starts full at maxTokens, which defaults to
// tokensPerInterval.
func New(tokensPerInterval int, interval time.Duration, opts ...Option) *Limiter {
	if tokensPerInterval <= 0 {
		tokensPerInterval = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	l := &Limiter{
		tokensPerInterval: tokensPerInterval,
		interval:          interval,
		maxTokens:         tokensPerInterval,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.tokens = l.maxTokens
	l.lastRefill = l.now()
	return l
}

// refillLocked adds tokens for every whole interval elapsed since the
// last refill. Caller must hold l.mu.
func (l *Limiter) refillLocked() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill)
	if elapsed < l.interval {
		return
	}
	intervals := float64(elapsed) / float64(l.interval)
	add := int(intervals * float64(l.tokensPerInterval))
	l.tokens = min(l.tokens+add, l.maxTokens)
	l.lastRefill = now
}

// TryConsume refills lazily, then consumes n tokens if available.
// Refill and decrement happen in one critical section.
func (l *Limiter) TryConsume(n int) bool {
	if n <= 0 {
		n = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	if l.tokens >= n {
		l.tokens -= n
		return true
	}
	return false
}

// Consume blocks until n tokens can be consumed or the context is
// canceled. Each wake-up recomputes the shortfall, since concurrent
// callers may have drained the bucket meanwhile. No fairness guarantee
// beyond best-effort wakeup order.
func (l *Limiter) Consume(ctx context.Context, n int) error {
	if n <= 0 {
		n = 1
	}
	for {
		if l.TryConsume(n) {
			return nil
		}

		l.mu.Lock()
		l.refillLocked()
		needed := n - l.tokens
		l.mu.Unlock()
		if needed <= 0 {
			continue
		}

		intervals := (needed + l.tokensPerInterval - 1) / l.tokensPerInterval
		wait := time.Duration(intervals) * l.interval

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tokens reports the currently available token count after a lazy
// refill. Intended for logging and tests.
func (l *Limiter) Tokens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return l.tokens
}

// Reset refills the bucket to its maximum.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = l.maxTokens
	l.lastRefill = l.now()
}
