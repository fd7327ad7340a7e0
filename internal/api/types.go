package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobView describes a job in a transport-friendly format.
type JobView struct {
	ID                  string                     `json:"id"`
	Prompt              string                     `json:"prompt"`
	DurationSeconds     int                        `json:"durationSeconds"`
	Style               string                     `json:"style"`
	Quality             string                     `json:"quality"`
	Voice               string                     `json:"voice"`
	Status              string                     `json:"status"`
	CurrentStage        string                     `json:"currentStage"`
	Progress            float64                    `json:"progress"`
	Error               *JobError                  `json:"error,omitempty"`
	RetryCounts         map[string]int             `json:"retryCounts,omitempty"`
	OutputPath          string                     `json:"outputPath,omitempty"`
	CreatedAt           string                     `json:"createdAt,omitempty"`
	UpdatedAt           string                     `json:"updatedAt,omitempty"`
	StartedAt           string                     `json:"startedAt,omitempty"`
	CompletedAt         string                     `json:"completedAt,omitempty"`
	EstimatedCompletion string                     `json:"estimatedCompletion,omitempty"`
	StageResults        map[string]json.RawMessage `json:"stageResults,omitempty"`
}

// JobError carries the terminal failure record for a job.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job JobView `json:"job"`
}

// JobListResponse wraps a collection of jobs for API responses.
type JobListResponse struct {
	Jobs  []JobView `json:"jobs"`
	Count int       `json:"count"`
}

// CancelOutcome classifies the result of a cancel request.
type CancelOutcome string

const (
	CancelAccepted        CancelOutcome = "cancel_requested"
	CancelImmediate       CancelOutcome = "cancelled"
	CancelNotFound        CancelOutcome = "not_found"
	CancelAlreadyFinished CancelOutcome = "already_finished"
)

// CancelResult reports how a cancel request was resolved.
type CancelResult struct {
	ID      string        `json:"id"`
	Outcome CancelOutcome `json:"outcome"`
	Status  string        `json:"status,omitempty"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyView captures availability of an external collaborator.
type DependencyView struct {
	Name                string `json:"name"`
	Status              string `json:"status"`
	Critical            bool   `json:"critical"`
	BreakerState        string `json:"breakerState"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	LastFailure         string `json:"lastFailure,omitempty"`
	Detail              string `json:"detail,omitempty"`
}

// PipelineStatus summarizes pipeline execution state.
type PipelineStatus struct {
	Running     bool           `json:"running"`
	LastError   string         `json:"lastError,omitempty"`
	QueueStats  map[string]int `json:"queueStats"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// DatabaseStatus reports job store availability.
type DatabaseStatus struct {
	Path      string `json:"path"`
	Exists    bool   `json:"exists"`
	Readable  bool   `json:"readable"`
	JobsTable bool   `json:"jobsTable"`
	Error     string `json:"error,omitempty"`
}

// JobCounts aggregates job totals for health output.
type JobCounts struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// HealthResponse aggregates service health for API consumers.
type HealthResponse struct {
	Status       string           `json:"status"`
	Pipeline     PipelineStatus   `json:"pipeline"`
	Dependencies []DependencyView `json:"dependencies"`
	Database     DatabaseStatus   `json:"database"`
	Jobs         JobCounts        `json:"jobs"`
	GeneratedAt  string           `json:"generatedAt"`
}
