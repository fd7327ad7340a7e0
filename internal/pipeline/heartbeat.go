package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"montage/internal/jobs"
	"montage/internal/logging"
)

// HeartbeatMonitor manages job heartbeats, stale job reclamation, and
// time-interpolated in-stage progress.
type HeartbeatMonitor struct {
	store             *jobs.Store
	logger            *slog.Logger
	tracker           *Tracker
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *jobs.Store, logger *slog.Logger, tracker *Tracker, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:             store,
		logger:            logger,
		tracker:           tracker,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
	}
}

// ReclaimStaleJobs fails processing jobs whose heartbeats expired,
// typically the leftovers of a crashed worker.
func (h *HeartbeatMonitor) ReclaimStaleJobs(ctx context.Context, logger *slog.Logger) error {
	if h.heartbeatTimeout <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-h.heartbeatTimeout)
	reclaimed, err := h.store.ReclaimStaleProcessing(ctx, cutoff)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		logger.Info("reclaimed stale jobs", logging.Int64("count", reclaimed))
	}
	return nil
}

// StartLoop runs a heartbeat updater for a specific job until context
// cancellation.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID string) {
	defer wg.Done()
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String("component", "pipeline-heartbeat")))

	var stage jobs.Stage
	stageStart := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Info("daemon shutting down, heartbeat update cancelled")
				} else {
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
				continue
			}
			h.advanceStageProgress(ctx, logger, jobID, &stage, &stageStart)
		}
	}
}

// advanceStageProgress interpolates in-stage progress from elapsed time
// against the configured stage duration so status reads move between
// stage boundaries. Interpolation stops short of the stage's full
// weight; only a finished stage earns it.
func (h *HeartbeatMonitor) advanceStageProgress(ctx context.Context, logger *slog.Logger, jobID string, current *jobs.Stage, started *time.Time) {
	if h.tracker == nil {
		return
	}
	job, err := h.store.GetByID(ctx, jobID)
	if err != nil || job == nil || job.Status != jobs.StatusProcessing {
		return
	}

	now := time.Now()
	if job.CurrentStage != *current {
		*current = job.CurrentStage
		*started = now
		return
	}
	expected := h.tracker.durations[job.CurrentStage]
	if expected <= 0 {
		return
	}
	inStage := float64(now.Sub(*started)) / float64(expected)
	if inStage > 0.9 {
		inStage = 0.9
	}
	progress := h.tracker.Fraction(job.CurrentStage, inStage)
	if err := h.store.AdvanceProgress(ctx, jobID, progress); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("progress update failed", logging.Error(err))
	}
}
