// Package ratelimit enforces a process-wide minimum spacing between
// inference API calls.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter serializes access to the inference endpoint. With a burst of one
// and a rate of one call per interval, each waiter sleeps only until its
// own reserved slot regardless of how many goroutines are queued.
type Limiter struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// New creates a limiter that allows one call per interval. The safety
// margin is added on top of the interval to absorb clock skew between this
// process and the endpoint's own limiter.
func New(minInterval, safetyMargin time.Duration) *Limiter {
	interval := minInterval + safetyMargin
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Limiter{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

// Wait blocks until the caller may issue a call, or until the context is
// cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Allow reports whether a call may proceed right now without blocking.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Interval returns the effective spacing between calls.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
