package stage

import (
	"context"

	"montage/internal/jobs"
)

// Handler describes the contract the pipeline manager needs from each stage.
// Prepare validates that the job carries the inputs the stage depends on,
// Execute performs the work and records its result on the job, and
// HealthCheck reports readiness without touching collaborators.
type Handler interface {
	Prepare(context.Context, *jobs.Job) error
	Execute(context.Context, *jobs.Job) error
	HealthCheck(context.Context) Health
}