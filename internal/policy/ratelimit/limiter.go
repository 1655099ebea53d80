// Package ratelimit enforces a fixed cooldown between subject attempts.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/progress-crawler/internal/harvest"
)

// DelayObserver receives how long each Acquire blocked.
type DelayObserver interface {
	ObserveThrottleDelay(time.Duration)
}

// Config holds the cooldown configuration.
type Config struct {
	// Interval is the minimum gap between the end of one attempt and the
	// start of the next. Zero disables throttling.
	Interval time.Duration
}

// Limiter implements harvest.Throttle with a single-token bucket that is
// emptied at the end of every attempt, so the next token arrives one full
// Interval after Release regardless of how long the attempt took.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	limiter  *rate.Limiter
	observer DelayObserver
}

var _ harvest.Throttle = (*Limiter)(nil)

// New creates a Limiter. observer may be nil.
func New(cfg Config, observer DelayObserver) *Limiter {
	return &Limiter{
		interval: cfg.Interval,
		limiter:  newBucket(cfg.Interval),
		observer: observer,
	}
}

func newBucket(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Acquire blocks until the cooldown since the last Release has elapsed.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	limiter := l.limiter
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}
	if l.observer != nil {
		l.observer.ObserveThrottleDelay(time.Since(start))
	}
	return nil
}

// Release marks the end of an attempt and restarts the cooldown.
func (l *Limiter) Release() {
	if l.interval <= 0 {
		return
	}
	bucket := newBucket(l.interval)
	bucket.AllowN(time.Now(), 1)

	l.mu.Lock()
	l.limiter = bucket
	l.mu.Unlock()
}

// Interval returns the configured cooldown.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
