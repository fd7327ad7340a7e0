package api

import (
	"context"
	"time"

	"montage/internal/health"
	"montage/internal/jobs"
	"montage/internal/pipeline"
)

// JobStore abstracts job persistence interactions needed by the API.
type JobStore interface {
	Create(ctx context.Context, job *jobs.Job) error
	GetByID(ctx context.Context, id string) (*jobs.Job, error)
	List(ctx context.Context, opts jobs.ListOptions) ([]*jobs.Job, error)
	RequestCancel(ctx context.Context, id string) (*jobs.Job, error)
	Health(ctx context.Context) (jobs.HealthSummary, error)
	CheckHealth(ctx context.Context) (jobs.DatabaseHealth, error)
}

var _ JobStore = (*jobs.Store)(nil)

// Pipeline reports runtime state for status and health output.
type Pipeline interface {
	Status(ctx context.Context) pipeline.StatusSummary
	Tracker() *pipeline.Tracker
}

// Service exposes the job operations behind the HTTP and CLI surfaces.
type Service struct {
	store JobStore
	pipe  Pipeline
}

// NewService constructs a Service around the store and pipeline.
func NewService(store JobStore, pipe Pipeline) *Service {
	if store == nil {
		return nil
	}
	return &Service{store: store, pipe: pipe}
}

func (s *Service) tracker() *pipeline.Tracker {
	if s.pipe == nil {
		return nil
	}
	return s.pipe.Tracker()
}

// Submit validates a request, persists the new job, and returns its view.
func (s *Service) Submit(ctx context.Context, req jobs.Request) (JobView, error) {
	if err := req.Validate(); err != nil {
		return JobView{}, err
	}
	job := jobs.NewJob(req)
	if err := s.store.Create(ctx, job); err != nil {
		return JobView{}, err
	}
	return FromJob(job, s.tracker()), nil
}

// Describe fetches a single job. A missing job returns nil.
func (s *Service) Describe(ctx context.Context, id string) (*JobView, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	view := FromJob(job, s.tracker())
	return &view, nil
}

// List returns jobs filtered by status with limit/offset pagination.
func (s *Service) List(ctx context.Context, opts jobs.ListOptions) (JobListResponse, error) {
	list, err := s.store.List(ctx, opts)
	if err != nil {
		return JobListResponse{}, err
	}
	views := FromJobs(list, s.tracker())
	return JobListResponse{Jobs: views, Count: len(views)}, nil
}

// Cancel requests cancellation of a job. Queued jobs cancel at once;
// processing jobs are flagged and stop at the next stage boundary.
func (s *Service) Cancel(ctx context.Context, id string) (CancelResult, error) {
	job, err := s.store.RequestCancel(ctx, id)
	if err != nil {
		return CancelResult{}, err
	}
	if job == nil {
		prior, err := s.store.GetByID(ctx, id)
		if err != nil {
			return CancelResult{}, err
		}
		if prior == nil {
			return CancelResult{ID: id, Outcome: CancelNotFound}, nil
		}
		return CancelResult{ID: id, Outcome: CancelAlreadyFinished, Status: string(prior.Status)}, nil
	}
	outcome := CancelAccepted
	if job.Status == jobs.StatusCancelled {
		outcome = CancelImmediate
	}
	return CancelResult{ID: id, Outcome: outcome, Status: string(job.Status)}, nil
}

// Health aggregates pipeline, dependency, and storage health into one
// report. Unreadable storage is unhealthy regardless of dependency
// state; a stopped pipeline degrades an otherwise healthy service.
func (s *Service) Health(ctx context.Context) (HealthResponse, error) {
	var summary pipeline.StatusSummary
	var report health.Report
	if s.pipe != nil {
		summary = s.pipe.Status(ctx)
		report = summary.Dependencies
	}

	counts, err := s.store.Health(ctx)
	if err != nil {
		return HealthResponse{}, err
	}
	db, dbErr := s.store.CheckHealth(ctx)
	if dbErr != nil && db.Error == "" {
		db.Error = dbErr.Error()
	}

	status := report.Status
	if status == "" {
		status = health.StatusHealthy
	}
	if !summary.Running {
		status = worseStatus(status, health.StatusDegraded)
	}
	if dbErr != nil || !db.DatabaseReadable || db.Error != "" {
		status = health.StatusUnhealthy
	}

	return HealthResponse{
		Status:       string(status),
		Pipeline:     FromStatusSummary(summary),
		Dependencies: FromDependencies(report.Dependencies),
		Database:     FromDatabaseHealth(db),
		Jobs:         FromHealthSummary(counts),
		GeneratedAt:  FormatTime(time.Now().UTC()),
	}, nil
}

func worseStatus(a, b health.Status) health.Status {
	rank := map[health.Status]int{health.StatusHealthy: 0, health.StatusDegraded: 1, health.StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
