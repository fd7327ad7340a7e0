package jobs

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle of a generation job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Stage identifies one ordered step of the generation pipeline.
type Stage string

const (
	StageInitializing    Stage = "initializing"
	StageResearching     Stage = "researching"
	StageScripting       Stage = "scripting"
	StageAssetSourcing   Stage = "asset_sourcing"
	StageAudioGeneration Stage = "audio_generation"
	StageVideoAssembly   Stage = "video_assembly"
	StageFinalizing      Stage = "finalizing"
	StageCompleted       Stage = "completed"
)

var allStatuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var stageOrder = []Stage{
	StageInitializing,
	StageResearching,
	StageScripting,
	StageAssetSourcing,
	StageAudioGeneration,
	StageVideoAssembly,
	StageFinalizing,
}

var stageIndex = func() map[Stage]int {
	idx := make(map[Stage]int, len(stageOrder))
	for i, stage := range stageOrder {
		idx[stage] = i
	}
	return idx
}()

// StaleReclaimReason is the error message set when in-flight jobs are failed
// after their heartbeat expires.
const StaleReclaimReason = "job reclaimed after heartbeat expired"

// ErrorInfo is the structured failure record carried by failed jobs.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// Job represents one generation request persisted in SQLite.
type Job struct {
	ID              string
	Prompt          string
	DurationSeconds int
	Style           string
	Quality         string
	Voice           string
	Status          Status
	CurrentStage    Stage
	StageResults    map[string]json.RawMessage
	Progress        float64
	Error           *ErrorInfo
	RetryCounts     map[string]int
	CancelRequested bool
	OutputPath      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LastHeartbeat   *time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// StageOrder returns the fixed, ordered stage sequence (terminal stage excluded).
func StageOrder() []Stage {
	cp := make([]Stage, len(stageOrder))
	copy(cp, stageOrder)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Index returns the position of a stage in the fixed order, or -1 for
// stages outside the sequence (completed).
func (s Stage) Index() int {
	if i, ok := stageIndex[s]; ok {
		return i
	}
	return -1
}

// Next returns the stage that follows s in the fixed order. The final
// pipeline stage advances to StageCompleted.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 {
		return "", false
	}
	if i == len(stageOrder)-1 {
		return StageCompleted, true
	}
	return stageOrder[i+1], true
}

// Label returns a human-friendly rendering of the stage name.
func (s Stage) Label() string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// IsTerminal reports whether the job reached a terminal status.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// SetProgress raises the derived progress figure. Progress never regresses
// for a non-failed job, so lower values are ignored.
func (j *Job) SetProgress(value float64) {
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}
	if value > j.Progress {
		j.Progress = value
	}
}

// AdvanceStage moves the job forward to the given stage. Backward moves are
// ignored; a stage may only be re-entered in place.
func (j *Job) AdvanceStage(stage Stage) {
	if stage == StageCompleted {
		j.CurrentStage = stage
		return
	}
	if stage.Index() >= j.CurrentStage.Index() {
		j.CurrentStage = stage
	}
}

// RecordAttempt increments the per-stage attempt counter.
func (j *Job) RecordAttempt(stage Stage) {
	if j.RetryCounts == nil {
		j.RetryCounts = make(map[string]int)
	}
	j.RetryCounts[string(stage)]++
}

// SetResult stores a stage output payload under the stage key.
func (j *Job) SetResult(stage Stage, payload json.RawMessage) {
	if j.StageResults == nil {
		j.StageResults = make(map[string]json.RawMessage)
	}
	j.StageResults[string(stage)] = payload
}

// DiscardResult drops a stage's recorded output. Used when the stage
// finished its attempt after cancellation was already requested.
func (j *Job) DiscardResult(stage Stage) {
	delete(j.StageResults, string(stage))
}

// SetFailed marks the job as failed with a structured error record.
func (j *Job) SetFailed(kind, message string, stage Stage) {
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.Error = &ErrorInfo{Kind: kind, Message: message, Stage: string(stage)}
	j.CompletedAt = &now
	j.LastHeartbeat = nil
}

// SetCancelled marks the job as cancelled.
func (j *Job) SetCancelled() {
	now := time.Now().UTC()
	j.Status = StatusCancelled
	j.CompletedAt = &now
	j.LastHeartbeat = nil
}

// SetCompleted marks the job as completed with full progress.
func (j *Job) SetCompleted() {
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.CurrentStage = StageCompleted
	j.Progress = 1.0
	j.CompletedAt = &now
	j.LastHeartbeat = nil
}
