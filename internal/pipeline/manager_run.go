package pipeline

import (
	"context"
	"errors"
	"time"

	"montage/internal/logging"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("pipeline already running")
	}
	if len(m.handlers) == 0 {
		m.mu.Unlock()
		return errors.New("pipeline stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.runPoller(runCtx)
	return nil
}

// Stop terminates background processing and waits for in-flight jobs.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runPoller(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.heartbeat.ReclaimStaleJobs(ctx, m.logger); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("reclaim stale jobs failed; orphaned jobs may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check jobs database access"),
			)
		}

		if err := m.workers.Acquire(ctx, 1); err != nil {
			return
		}

		job, err := m.store.NextQueued(ctx)
		if err != nil {
			m.workers.Release(1)
			m.handleClaimError(ctx, err)
			continue
		}
		if job == nil {
			m.workers.Release(1)
			m.waitForJobOrShutdown(ctx)
			continue
		}

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer m.workers.Release(1)
			m.processJob(ctx, job)
		}()
	}
}

func (m *Manager) handleClaimError(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	m.setLastError(err)
	m.logger.Error("failed to claim next job",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_claim_failed"),
		logging.String(logging.FieldErrorHint, "check jobs database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(m.cfg.Pipeline.ErrorRetryInterval) * time.Second):
	}
}

func (m *Manager) waitForJobOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}
