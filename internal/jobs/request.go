package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"montage/internal/services"
)

const (
	minPromptLength = 10
	maxPromptLength = 2000
	minDuration     = 10
	maxDuration     = 600
)

var allowedQualities = map[string]struct{}{
	"draft":    {},
	"standard": {},
	"high":     {},
}

// Request carries the parameters of a job submission.
type Request struct {
	Prompt          string `json:"prompt"`
	DurationSeconds int    `json:"duration_seconds"`
	Style           string `json:"style,omitempty"`
	Quality         string `json:"quality,omitempty"`
	Voice           string `json:"voice,omitempty"`
}

// Validate normalizes the request in place and reports the first
// constraint violation as a validation error.
func (r *Request) Validate() error {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if length := len([]rune(r.Prompt)); length < minPromptLength || length > maxPromptLength {
		return services.Wrap(services.ErrValidation, "", "validate",
			fmt.Sprintf("prompt must be between %d and %d characters, got %d", minPromptLength, maxPromptLength, length), nil)
	}
	if r.DurationSeconds == 0 {
		r.DurationSeconds = 60
	}
	if r.DurationSeconds < minDuration || r.DurationSeconds > maxDuration {
		return services.Wrap(services.ErrValidation, "", "validate",
			fmt.Sprintf("duration must be between %d and %d seconds, got %d", minDuration, maxDuration, r.DurationSeconds), nil)
	}
	if r.Style == "" {
		r.Style = "documentary"
	}
	if r.Quality == "" {
		r.Quality = "standard"
	}
	r.Quality = strings.ToLower(r.Quality)
	if _, ok := allowedQualities[r.Quality]; !ok {
		return services.Wrap(services.ErrValidation, "", "validate",
			fmt.Sprintf("quality must be one of draft, standard, high; got %q", r.Quality), nil)
	}
	if r.Voice == "" {
		r.Voice = "narrator"
	}
	return nil
}

// NewJob builds a queued job from a validated request.
func NewJob(req Request) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:              uuid.NewString(),
		Prompt:          req.Prompt,
		DurationSeconds: req.DurationSeconds,
		Style:           req.Style,
		Quality:         req.Quality,
		Voice:           req.Voice,
		Status:          StatusQueued,
		CurrentStage:    StageInitializing,
		StageResults:    make(map[string]json.RawMessage),
		RetryCounts:     make(map[string]int),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
