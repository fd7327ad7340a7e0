package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"montage/internal/config"
	"montage/internal/resilience"
	"montage/internal/services"
)

func TestLimiterAllowsBurstUpToCapacity(t *testing.T) {
	limiter := resilience.NewLimiter("llm", config.RateClass{
		Capacity:     2,
		RefillPerSec: 0.001,
	})

	if !limiter.Allow() {
		t.Fatal("expected first token")
	}
	if !limiter.Allow() {
		t.Fatal("expected second token")
	}
	if limiter.Allow() {
		t.Fatal("expected bucket exhausted after capacity tokens")
	}
}

func TestLimiterRefillGrantsToken(t *testing.T) {
	limiter := resilience.NewLimiter("media", config.RateClass{
		Capacity:       1,
		RefillPerSec:   50,
		AcquireTimeout: 5,
	})

	if !limiter.Allow() {
		t.Fatal("expected initial token")
	}

	start := time.Now()
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after refill: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("refill took too long: %s", elapsed)
	}
}

func TestLimiterAcquireTimeoutIsThrottled(t *testing.T) {
	limiter := resilience.NewLimiter("llm", config.RateClass{
		Capacity:       1,
		RefillPerSec:   0.001,
		AcquireTimeout: 1,
	})

	if !limiter.Allow() {
		t.Fatal("expected initial token")
	}

	err := limiter.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected acquire to time out")
	}
	if kind := services.Classify(err); kind != services.KindThrottled {
		t.Fatalf("expected throttled error, got kind %s (%v)", kind, err)
	}
}

func TestLimiterAcquireHonorsCancellation(t *testing.T) {
	limiter := resilience.NewLimiter("llm", config.RateClass{
		Capacity:       1,
		RefillPerSec:   0.001,
		AcquireTimeout: 30,
	})

	if !limiter.Allow() {
		t.Fatal("expected initial token")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := limiter.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestLimiterAcquireNTakesMultipleTokens(t *testing.T) {
	limiter := resilience.NewLimiter("media", config.RateClass{
		Capacity:       3,
		RefillPerSec:   0.001,
		AcquireTimeout: 5,
	})

	if err := limiter.AcquireN(context.Background(), 3); err != nil {
		t.Fatalf("acquire within capacity: %v", err)
	}
	if limiter.Allow() {
		t.Fatal("expected bucket drained after AcquireN")
	}

	err := limiter.AcquireN(context.Background(), 4)
	if err == nil {
		t.Fatal("expected request above capacity to fail")
	}
}

func TestLimiterSetSharesBucketsPerClass(t *testing.T) {
	set := resilience.NewLimiterSet(map[string]config.RateClass{
		"llm": {Capacity: 3, RefillPerSec: 1},
	})

	if set.For("llm") != set.For("llm") {
		t.Fatal("expected the same limiter for repeated lookups")
	}

	fallback := set.For("unconfigured")
	if fallback == nil {
		t.Fatal("expected a default limiter for unknown classes")
	}
	if fallback != set.For("unconfigured") {
		t.Fatal("expected the default limiter to be memoized")
	}
}
