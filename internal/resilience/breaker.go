package resilience

import (
	"sync"
	"time"

	"montage/internal/config"
	"montage/internal/services"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed allows requests through normally.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects all requests until the cooldown elapses.
	BreakerOpen

	// BreakerHalfOpen admits a single probe to test recovery.
	BreakerHalfOpen
)

// String returns the wire name for the breaker state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// StateObserver is notified when a breaker changes state.
type StateObserver func(name string, from, to BreakerState)

// BreakerStats is a point-in-time snapshot of one breaker.
type BreakerStats struct {
	Name                string
	State               BreakerState
	ConsecutiveFailures int
	LastFailureTime     time.Time
	LastStateChange     time.Time
}

// Breaker implements the circuit breaker pattern for one dependency.
// Validation errors and rejections by an already-open breaker never
// count toward the failure threshold; use Observe to classify outcomes.
type Breaker struct {
	name     string
	cfg      config.Breaker
	observer StateObserver

	mu                  sync.RWMutex
	state               BreakerState
	consecutiveFailures int
	probeInFlight       bool
	probeClaimed        time.Time
	lastFailureTime     time.Time
	lastStateChange     time.Time
}

// NewBreaker creates a closed breaker for the named dependency.
func NewBreaker(name string, cfg config.Breaker, observer StateObserver) *Breaker {
	return &Breaker{
		name:            name,
		cfg:             cfg,
		observer:        observer,
		state:           BreakerClosed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a request may proceed. When the cooldown has
// elapsed on an open breaker the call transitions it to half_open and
// claims the single probe slot.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case BreakerClosed:
		return true

	case BreakerOpen:
		if now.Sub(b.lastFailureTime) >= b.cooldown() {
			b.transitionTo(BreakerHalfOpen, now)
			b.claimProbe(now)
			return true
		}
		return false

	case BreakerHalfOpen:
		// A claimant that never reports back (context cancelled before
		// the call went out) must not wedge the slot; the claim expires
		// after one cooldown.
		if !b.probeInFlight || now.Sub(b.probeClaimed) >= b.cooldown() {
			b.claimProbe(now)
			return true
		}
		return false

	default:
		return false
	}
}

// claimProbe takes the single half_open probe slot. Must be called with
// lock held.
func (b *Breaker) claimProbe(now time.Time) {
	b.probeInFlight = true
	b.probeClaimed = now
}

// Observe records the outcome of an allowed request. A nil error is a
// success; errors that do not count toward the breaker release the
// half_open probe without moving the state.
func (b *Breaker) Observe(err error) {
	if err == nil {
		b.recordSuccess()
		return
	}
	if services.CountsTowardBreaker(err) {
		b.recordFailure()
		return
	}

	b.mu.Lock()
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.consecutiveFailures = 0
	case BreakerHalfOpen:
		b.transitionTo(BreakerClosed, time.Now())
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.lastFailureTime = now

	switch b.state {
	case BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.threshold() {
			b.transitionTo(BreakerOpen, now)
		}
	case BreakerHalfOpen:
		b.transitionTo(BreakerOpen, now)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() BreakerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BreakerStats{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureTime:     b.lastFailureTime,
		LastStateChange:     b.lastStateChange,
	}
}

// Reset returns the breaker to closed. Intended for tests and manual
// intervention.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(BreakerClosed, time.Now())
}

// transitionTo changes the breaker state. Must be called with lock held.
func (b *Breaker) transitionTo(newState BreakerState, now time.Time) {
	if b.state == newState {
		return
	}
	from := b.state
	b.state = newState
	b.lastStateChange = now
	b.probeInFlight = false
	if newState == BreakerClosed {
		b.consecutiveFailures = 0
	}
	if b.observer != nil {
		b.observer(b.name, from, newState)
	}
}

func (b *Breaker) threshold() int {
	if b.cfg.FailureThreshold > 0 {
		return b.cfg.FailureThreshold
	}
	return 5
}

func (b *Breaker) cooldown() time.Duration {
	if b.cfg.CooldownSeconds > 0 {
		return time.Duration(b.cfg.CooldownSeconds) * time.Second
	}
	return 60 * time.Second
}

// BreakerSet manages one breaker per named dependency.
type BreakerSet struct {
	cfg      config.Breaker
	observer StateObserver

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerSet creates an empty registry sharing one configuration.
func NewBreakerSet(cfg config.Breaker, observer StateObserver) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg,
		observer: observer,
		breakers: make(map[string]*Breaker),
	}
}

// SetObserver installs the transition observer used for breakers created
// after this call. Call before any traffic flows.
func (s *BreakerSet) SetObserver(observer StateObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = observer
	for _, breaker := range s.breakers {
		breaker.observer = observer
	}
}

// For returns the breaker for the named dependency, creating it on first use.
func (s *BreakerSet) For(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if breaker, ok := s.breakers[name]; ok {
		return breaker
	}
	breaker := NewBreaker(name, s.cfg, s.observer)
	s.breakers[name] = breaker
	return breaker
}

// Snapshot returns stats for every registered breaker keyed by name.
func (s *BreakerSet) Snapshot() map[string]BreakerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]BreakerStats, len(s.breakers))
	for name, breaker := range s.breakers {
		out[name] = breaker.Stats()
	}
	return out
}
