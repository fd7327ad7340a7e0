// Package resilience provides the fault tolerance primitives shared by
// every stage collaborator: per-dependency circuit breakers, a retry
// executor with exponential backoff and jitter, token bucket rate
// limiting, and ordered fallback chains.
//
// The pieces compose in a fixed order. A stage acquires a rate limit
// token, then the fallback chain consults the target's breaker, then the
// retry executor drives individual attempts. Only transient and
// throttled errors consume retry budget; validation errors and open
// breakers short-circuit so bad input and known-down dependencies never
// burn time in backoff loops.
package resilience
