package pipeline

import (
	"context"

	"montage/internal/health"
	"montage/internal/jobs"
	"montage/internal/logging"
	"montage/internal/stage"
)

// StatusSummary represents lightweight pipeline diagnostics.
type StatusSummary struct {
	Running      bool
	LastError    string
	QueueStats   map[jobs.Status]int
	StageHealth  map[string]stage.Health
	Dependencies health.Report
}

// Status returns the latest pipeline information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	handlers := make(map[jobs.Stage]stage.Handler, len(m.handlers))
	for key, handler := range m.handlers {
		handlers[key] = handler
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read job stats", logging.Error(err))
	}

	stageHealth := make(map[string]stage.Health, len(handlers))
	for key, handler := range handlers {
		stageHealth[string(key)] = handler.HealthCheck(ctx)
	}

	summary := StatusSummary{
		Running:      running,
		QueueStats:   stats,
		StageHealth:  stageHealth,
		Dependencies: m.monitor.Snapshot(),
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	return summary
}
