package resilience

import (
	"context"
	"math/rand"
	"time"

	"montage/internal/config"
	"montage/internal/services"
)

// Policy configures retry behavior with exponential backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
}

// defaultJitter spreads delays over +/-20% when jitter is enabled.
const defaultJitter = 0.2

// PolicyFromConfig converts configured retry settings into a Policy.
func PolicyFromConfig(cfg config.Retry) Policy {
	policy := Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   time.Duration(cfg.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.MaxDelayMS) * time.Millisecond,
		Multiplier:  cfg.Multiplier,
	}
	if cfg.Jitter {
		policy.Jitter = defaultJitter
	}
	return policy
}

// Attempt describes one finished try, reported to the observer.
type Attempt struct {
	Operation string
	Number    int
	Err       error
	Latency   time.Duration
	NextDelay time.Duration
}

// AttemptObserver receives a report after every attempt.
type AttemptObserver func(Attempt)

// Result contains the outcome of a retried operation.
type Result struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

// RetryableFunc is the unit of work handed to Do. The attempt number
// starts at 1.
type RetryableFunc func(ctx context.Context, attempt int) error

// Do executes fn with exponential backoff. Only transient and throttled
// errors consume the retry budget; everything else returns immediately.
func (p Policy) Do(ctx context.Context, operation string, observer AttemptObserver, fn RetryableFunc) (Result, error) {
	start := time.Now()
	result := Result{}

	delay := p.BaseDelay

	for attempt := 1; attempt <= p.maxAttempts(); attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result, err
		}

		attemptStart := time.Now()
		err := fn(ctx, attempt)
		latency := time.Since(attemptStart)

		if err == nil {
			if observer != nil {
				observer(Attempt{Operation: operation, Number: attempt, Latency: latency})
			}
			result.TotalDuration = time.Since(start)
			return result, nil
		}

		result.LastError = err
		retryable := services.IsRetryable(err) && attempt < p.maxAttempts()

		var wait time.Duration
		if retryable {
			wait = applyJitter(delay, p.Jitter)
		}
		if observer != nil {
			observer(Attempt{Operation: operation, Number: attempt, Err: err, Latency: latency, NextDelay: wait})
		}
		if !retryable {
			result.TotalDuration = time.Since(start)
			return result, err
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result, ctx.Err()
		case <-time.After(wait):
		}

		delay = nextDelay(delay, p.Multiplier, p.MaxDelay)
	}

	result.TotalDuration = time.Since(start)
	return result, result.LastError
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 1
}

// applyJitter spreads a base delay over [base*(1-jitter), base*(1+jitter)].
func applyJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	offset := (rand.Float64()*2 - 1) * jitter
	return time.Duration(float64(base) * (1.0 + offset))
}

func nextDelay(current time.Duration, multiplier float64, max time.Duration) time.Duration {
	if multiplier < 1.0 {
		multiplier = 2.0
	}
	next := time.Duration(float64(current) * multiplier)
	if max > 0 && next > max {
		return max
	}
	return next
}
