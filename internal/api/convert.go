package api

import (
	"slices"
	"time"

	"montage/internal/health"
	"montage/internal/jobs"
	"montage/internal/pipeline"
	"montage/internal/stage"
)

// FromJob converts a stored job to its API representation. The tracker
// is optional; without one no completion estimate is emitted.
func FromJob(job *jobs.Job, tracker *pipeline.Tracker) JobView {
	if job == nil {
		return JobView{}
	}

	view := JobView{
		ID:              job.ID,
		Prompt:          job.Prompt,
		DurationSeconds: job.DurationSeconds,
		Style:           job.Style,
		Quality:         job.Quality,
		Voice:           job.Voice,
		Status:          string(job.Status),
		CurrentStage:    string(job.CurrentStage),
		Progress:        job.Progress,
		OutputPath:      job.OutputPath,
		CreatedAt:       FormatTime(job.CreatedAt),
		UpdatedAt:       FormatTime(job.UpdatedAt),
	}
	if job.Error != nil {
		view.Error = &JobError{Kind: job.Error.Kind, Message: job.Error.Message, Stage: job.Error.Stage}
	}
	if len(job.RetryCounts) > 0 {
		counts := make(map[string]int, len(job.RetryCounts))
		for k, v := range job.RetryCounts {
			counts[k] = v
		}
		view.RetryCounts = counts
	}
	if len(job.StageResults) > 0 {
		view.StageResults = job.StageResults
	}
	if job.StartedAt != nil {
		view.StartedAt = FormatTime(*job.StartedAt)
	}
	if job.CompletedAt != nil {
		view.CompletedAt = FormatTime(*job.CompletedAt)
	}
	if tracker != nil && job.Status == jobs.StatusProcessing {
		view.EstimatedCompletion = FormatTime(tracker.EstimatedCompletion(job.CurrentStage, time.Now().UTC()))
	}
	return view
}

// FromJobs converts a slice of stored jobs into API DTOs.
func FromJobs(list []*jobs.Job, tracker *pipeline.Tracker) []JobView {
	if len(list) == 0 {
		return nil
	}
	out := make([]JobView, 0, len(list))
	for _, job := range list {
		out = append(out, FromJob(job, tracker))
	}
	return out
}

// FromStatusSummary converts a pipeline status summary to API payload.
func FromStatusSummary(summary pipeline.StatusSummary) PipelineStatus {
	stats := make(map[string]int, len(summary.QueueStats))
	for status, count := range summary.QueueStats {
		stats[string(status)] = count
	}
	return PipelineStatus{
		Running:     summary.Running,
		LastError:   summary.LastError,
		QueueStats:  stats,
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
}

// StageHealthSlice converts a stage health map into a deterministic slice.
func StageHealthSlice(healthMap map[string]stage.Health) []StageHealth {
	if len(healthMap) == 0 {
		return nil
	}
	names := make([]string, 0, len(healthMap))
	for name := range healthMap {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := healthMap[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FromDependencies converts monitor dependency records into API DTOs.
func FromDependencies(deps []health.Dependency) []DependencyView {
	if len(deps) == 0 {
		return nil
	}
	out := make([]DependencyView, 0, len(deps))
	for _, dep := range deps {
		out = append(out, DependencyView{
			Name:                dep.Name,
			Status:              string(dep.Status),
			Critical:            dep.Critical,
			BreakerState:        dep.BreakerState,
			ConsecutiveFailures: dep.ConsecutiveFailures,
			LastFailure:         FormatTime(dep.LastFailure),
			Detail:              dep.Detail,
		})
	}
	return out
}

// FromDatabaseHealth converts a store health probe into the API shape.
func FromDatabaseHealth(db jobs.DatabaseHealth) DatabaseStatus {
	return DatabaseStatus{
		Path:      db.DBPath,
		Exists:    db.DatabaseExists,
		Readable:  db.DatabaseReadable,
		JobsTable: db.TableExists,
		Error:     db.Error,
	}
}

// FromHealthSummary converts store job counts into the API shape.
func FromHealthSummary(summary jobs.HealthSummary) JobCounts {
	return JobCounts{
		Total:      summary.Total,
		Queued:     summary.Queued,
		Processing: summary.Processing,
		Completed:  summary.Completed,
		Failed:     summary.Failed,
		Cancelled:  summary.Cancelled,
	}
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
