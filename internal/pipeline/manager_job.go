package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"montage/internal/jobs"
	"montage/internal/logging"
	"montage/internal/services"
)

func (m *Manager) processJob(ctx context.Context, job *jobs.Job) {
	jobCtx := services.WithRequestID(services.WithJobID(ctx, job.ID), uuid.NewString())
	if deadline := m.cfg.Pipeline.JobDeadline; deadline > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, time.Duration(deadline)*time.Second)
		defer cancel()
	}
	logger := logging.WithContext(jobCtx, m.logger)

	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)
	defer func() {
		hbCancel()
		hbWG.Wait()
	}()

	jobStart := time.Now()
	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("current_stage", string(job.CurrentStage)),
	)

	for job.CurrentStage != jobs.StageCompleted {
		if m.checkCancelled(jobCtx, logger, job) {
			return
		}

		current := job.CurrentStage
		if err := m.runStage(jobCtx, logger, job, current); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				// Shutdown: leave the job in processing so the stale
				// reclaimer or a restart picks it back up.
				logger.Debug("job interrupted by shutdown", logging.String(logging.FieldStage, string(current)))
				return
			}
			m.failJob(ctx, logger, job, current, err)
			return
		}
	}

	job.SetCompleted()
	if err := m.store.Update(ctx, job); err != nil {
		m.setLastError(fmt.Errorf("persist job completion: %w", err))
		logger.Error("failed to persist job completion", logging.Error(err))
		return
	}
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("output_path", job.OutputPath),
		logging.Duration("job_duration", time.Since(jobStart)),
	)
}

func (m *Manager) runStage(ctx context.Context, logger *slog.Logger, job *jobs.Job, current jobs.Stage) error {
	m.mu.RLock()
	handler := m.handlers[current]
	m.mu.RUnlock()
	if handler == nil {
		return services.Wrap(services.ErrFatal, string(current), "dispatch", "no handler registered", nil)
	}

	stageCtx := services.WithStage(ctx, string(current))
	stageLogger := logging.WithContext(stageCtx, m.logger)
	stageStart := time.Now()
	stageLogger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	if err := handler.Prepare(stageCtx, job); err != nil {
		return err
	}

	if err := handler.Execute(stageCtx, job); err != nil {
		return err
	}

	// A cancel that arrived mid-stage lets the attempt finish but its
	// output is discarded; the caller persists the cancelled state.
	if flagged, err := m.store.CancelRequested(ctx, job.ID); err == nil && flagged {
		job.DiscardResult(current)
		stageLogger.Info("stage result discarded after cancellation",
			logging.String(logging.FieldEventType, "stage_discarded"))
		return nil
	}

	job.SetProgress(m.tracker.After(current))
	next, ok := current.Next()
	if !ok {
		return services.Wrap(services.ErrFatal, string(current), "advance", "stage outside pipeline order", nil)
	}
	job.AdvanceStage(next)

	if err := m.store.Update(ctx, job); err != nil {
		return fmt.Errorf("persist stage result: %w", err)
	}
	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_stage", string(next)),
		logging.Float64("progress", job.Progress),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	return nil
}

// checkCancelled honors cooperative cancellation at stage boundaries.
func (m *Manager) checkCancelled(ctx context.Context, logger *slog.Logger, job *jobs.Job) bool {
	flagged, err := m.store.CancelRequested(ctx, job.ID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warn("cancel flag check failed", logging.Error(err))
		}
		return false
	}
	if !flagged {
		return false
	}

	job.SetCancelled()
	// Persist with the parent context so shutdown does not lose the state.
	if err := m.store.Update(context.WithoutCancel(ctx), job); err != nil {
		m.setLastError(fmt.Errorf("persist job cancellation: %w", err))
		logger.Error("failed to persist job cancellation", logging.Error(err))
		return true
	}
	logger.Info("job cancelled",
		logging.String(logging.FieldEventType, "job_cancelled"),
		logging.String("at_stage", string(job.CurrentStage)),
	)
	return true
}

func (m *Manager) failJob(ctx context.Context, logger *slog.Logger, job *jobs.Job, at jobs.Stage, cause error) {
	kind := services.Classify(cause)
	message := services.Message(cause)
	if errors.Is(cause, context.DeadlineExceeded) {
		kind = services.KindFatal
		message = "job deadline exceeded"
	}

	job.SetFailed(string(kind), message, at)
	if err := m.store.Update(context.WithoutCancel(ctx), job); err != nil {
		m.setLastError(fmt.Errorf("persist job failure: %w", err))
		logger.Error("failed to persist job failure", logging.Error(err))
		return
	}
	m.setLastError(cause)
	logger.Error("job failed",
		logging.String(logging.FieldEventType, "job_failed"),
		logging.String(logging.FieldStage, string(at)),
		logging.String("error_kind", string(kind)),
		logging.Error(cause),
	)
}
