package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"montage/internal/config"
	"montage/internal/health"
	"montage/internal/jobs"
	"montage/internal/logging"
	"montage/internal/resilience"
	"montage/internal/stage"
)

// Manager coordinates job processing using registered stage handlers.
type Manager struct {
	cfg          *config.Config
	store        *jobs.Store
	logger       *slog.Logger
	pollInterval time.Duration

	handlers map[jobs.Stage]stage.Handler
	tracker  *Tracker

	heartbeat *HeartbeatMonitor
	breakers  *resilience.BreakerSet
	limiters  *resilience.LimiterSet
	monitor   *health.Monitor
	workers   *semaphore.Weighted

	mu      sync.RWMutex
	running bool
	cancel  func()
	wg      sync.WaitGroup
	lastErr error
}

// NewManager constructs a pipeline manager. Stage handlers still need
// to be registered before Start.
func NewManager(cfg *config.Config, store *jobs.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	maxWorkers := cfg.Pipeline.MaxConcurrentJobs
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	breakers := resilience.NewBreakerSet(cfg.Breaker, nil)
	m := &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logger.With(logging.String("component", "pipeline")),
		pollInterval: time.Duration(cfg.Pipeline.QueuePollInterval) * time.Second,
		handlers:     make(map[jobs.Stage]stage.Handler),
		tracker:      NewTracker(cfg.Pipeline),
		breakers:     breakers,
		limiters:     resilience.NewLimiterSet(cfg.RateLimit),
		monitor:      health.NewMonitor(breakers),
		workers:      semaphore.NewWeighted(int64(maxWorkers)),
	}
	m.heartbeat = NewHeartbeatMonitor(
		store,
		logger,
		m.tracker,
		time.Duration(cfg.Pipeline.HeartbeatInterval)*time.Second,
		time.Duration(cfg.Pipeline.HeartbeatTimeout)*time.Second,
	)
	m.breakers.SetObserver(m.onBreakerTransition)
	return m
}

// Register installs a handler for the named stage.
func (m *Manager) Register(s jobs.Stage, handler stage.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[s] = handler
}

// Monitor exposes the health monitor for API wiring.
func (m *Manager) Monitor() *health.Monitor {
	return m.monitor
}

// Breakers exposes the shared breaker registry.
func (m *Manager) Breakers() *resilience.BreakerSet {
	return m.breakers
}

// Limiters exposes the shared rate limiter registry.
func (m *Manager) Limiters() *resilience.LimiterSet {
	return m.limiters
}

// Tracker exposes the progress tracker for status reporting.
func (m *Manager) Tracker() *Tracker {
	return m.tracker
}

// Running reports whether the manager is processing jobs.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// LastError returns the most recent processing error, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}

func (m *Manager) onBreakerTransition(name string, from, to resilience.BreakerState) {
	m.logger.Warn("circuit breaker state changed",
		logging.String(logging.FieldDependency, name),
		logging.String("from", from.String()),
		logging.String("to", to.String()),
		logging.String(logging.FieldEventType, "breaker_transition"),
	)

	switch to {
	case resilience.BreakerOpen:
		m.monitor.SetDetail(name, "circuit opened after repeated failures")
	case resilience.BreakerHalfOpen:
		m.monitor.SetDetail(name, "probing for recovery")
	case resilience.BreakerClosed:
		m.monitor.SetDetail(name, "recovered")
	}
}
