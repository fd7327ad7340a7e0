package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"montage/internal/config"
	"montage/internal/services"
)

// Limiter wraps a token bucket with a bounded acquire.
type Limiter struct {
	name    string
	bucket  *rate.Limiter
	timeout time.Duration
}

// NewLimiter builds a token bucket for one rate class.
func NewLimiter(name string, class config.RateClass) *Limiter {
	capacity := class.Capacity
	if capacity <= 0 {
		capacity = 1
	}
	refill := class.RefillPerSec
	if refill <= 0 {
		refill = 1
	}
	timeout := time.Duration(class.AcquireTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Limiter{
		name:    name,
		bucket:  rate.NewLimiter(rate.Limit(refill), capacity),
		timeout: timeout,
	}
}

// Acquire blocks until a token is available or the acquire timeout
// elapses. Timing out yields a throttled error; callers treat it like
// any other retryable failure.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.AcquireN(ctx, 1)
}

// AcquireN blocks until n tokens are available or the acquire timeout
// elapses. Requests larger than the bucket capacity fail immediately.
func (l *Limiter) AcquireN(ctx context.Context, n int) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.bucket.WaitN(waitCtx, n); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return services.Wrap(services.ErrThrottled, "", "acquire",
				fmt.Sprintf("rate class %s: %d token(s) not available within %s", l.name, n, l.timeout), nil)
		}
		return err
	}
	return nil
}

// Allow reports whether a token is immediately available, consuming it
// when so.
func (l *Limiter) Allow() bool {
	return l.bucket.Allow()
}

// Tokens returns the current token count, useful for diagnostics.
func (l *Limiter) Tokens() float64 {
	return l.bucket.Tokens()
}

// LimiterSet holds one shared token bucket per configured rate class.
type LimiterSet struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	classes  map[string]config.RateClass
}

// NewLimiterSet builds limiters for every configured rate class.
func NewLimiterSet(classes map[string]config.RateClass) *LimiterSet {
	set := &LimiterSet{
		limiters: make(map[string]*Limiter, len(classes)),
		classes:  classes,
	}
	for name, class := range classes {
		set.limiters[name] = NewLimiter(name, class)
	}
	return set
}

// For returns the limiter for the named class. Unknown classes get a
// permissive default bucket so a misconfigured service degrades rather
// than deadlocks.
func (s *LimiterSet) For(name string) *Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limiter, ok := s.limiters[name]; ok {
		return limiter
	}
	limiter := NewLimiter(name, config.RateClass{Capacity: 10, RefillPerSec: 10})
	s.limiters[name] = limiter
	return limiter
}
