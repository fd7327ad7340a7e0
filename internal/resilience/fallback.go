package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"montage/internal/services"
)

// Invoker performs one call against a single collaborator endpoint.
type Invoker func(ctx context.Context) (json.RawMessage, error)

// Target is one entry of an ordered fallback chain. Acquire, when set,
// runs before each attempt as a local admission step (rate limiting);
// its failures are retried but never recorded against the target's
// breaker, which tracks collaborator-side outcomes only.
type Target struct {
	Name    string
	Acquire func(ctx context.Context) error
	Invoke  Invoker
}

// Chain tries an ordered list of collaborators, applying the retry
// policy and a per-target circuit breaker to each before falling back
// to the next.
type Chain struct {
	policy   Policy
	breakers *BreakerSet
	observer AttemptObserver
}

// NewChain builds a fallback chain sharing a breaker registry.
func NewChain(policy Policy, breakers *BreakerSet, observer AttemptObserver) *Chain {
	return &Chain{policy: policy, breakers: breakers, observer: observer}
}

// Execute runs the targets in order and returns the first successful
// payload along with the name of the target that produced it. A target
// whose breaker is open is skipped without consuming its retry budget.
// When every target is exhausted the attempt errors are aggregated.
func (c *Chain) Execute(ctx context.Context, operation string, targets []Target) (json.RawMessage, string, error) {
	if len(targets) == 0 {
		return nil, "", services.Wrap(services.ErrFatal, "", operation, "no targets configured", nil)
	}

	var attemptErrs []error

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		breaker := c.breakers.For(target.Name)
		if !breaker.Allow() {
			attemptErrs = append(attemptErrs, services.Wrap(services.ErrUnavailable, "", operation,
				fmt.Sprintf("%s: circuit open", target.Name), nil))
			continue
		}

		var payload json.RawMessage
		_, err := c.policy.Do(ctx, operation+"/"+target.Name, c.observer, func(ctx context.Context, attempt int) error {
			if attempt > 1 && !breaker.Allow() {
				return services.Wrap(services.ErrUnavailable, "", operation,
					fmt.Sprintf("%s: circuit opened mid-retry", target.Name), nil)
			}
			if target.Acquire != nil {
				if acquireErr := target.Acquire(ctx); acquireErr != nil {
					return acquireErr
				}
			}
			out, invokeErr := target.Invoke(ctx)
			breaker.Observe(invokeErr)
			if invokeErr != nil {
				return invokeErr
			}
			payload = out
			return nil
		})
		if err == nil {
			return payload, target.Name, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, "", err
		}
		attemptErrs = append(attemptErrs, fmt.Errorf("%s: %w", target.Name, err))
		if services.Classify(err) == services.KindValidation {
			// Bad input fails the same way against every endpoint.
			break
		}
	}

	return nil, "", errors.Join(attemptErrs...)
}
