package pipeline

import (
	"time"

	"montage/internal/config"
	"montage/internal/jobs"
)

// Tracker converts stage position into an overall progress fraction
// using the configured per-stage weights. Weights are normalized over
// the stage order so arbitrary configured values still sum to one.
type Tracker struct {
	weights   map[jobs.Stage]float64
	durations map[jobs.Stage]time.Duration
}

// NewTracker builds a tracker from pipeline configuration. A stage with
// no configured weight contributes nothing to progress but still runs.
func NewTracker(cfg config.Pipeline) *Tracker {
	order := jobs.StageOrder()
	total := 0.0
	for _, stage := range order {
		total += cfg.StageWeights[string(stage)]
	}

	weights := make(map[jobs.Stage]float64, len(order))
	for _, stage := range order {
		if total > 0 {
			weights[stage] = cfg.StageWeights[string(stage)] / total
		} else {
			weights[stage] = 1.0 / float64(len(order))
		}
	}

	durations := make(map[jobs.Stage]time.Duration, len(order))
	for _, stage := range order {
		durations[stage] = time.Duration(cfg.StageDurations[string(stage)]) * time.Second
	}

	return &Tracker{weights: weights, durations: durations}
}

// Before returns the cumulative weight of all stages preceding the given one.
func (t *Tracker) Before(stage jobs.Stage) float64 {
	if stage == jobs.StageCompleted {
		return 1.0
	}
	sum := 0.0
	for _, s := range jobs.StageOrder() {
		if s == stage {
			break
		}
		sum += t.weights[s]
	}
	return sum
}

// After returns the cumulative weight through the given stage.
func (t *Tracker) After(stage jobs.Stage) float64 {
	if stage == jobs.StageCompleted {
		return 1.0
	}
	return t.Before(stage) + t.weights[stage]
}

// Fraction maps an in-stage fraction (0..1) to overall progress.
func (t *Tracker) Fraction(stage jobs.Stage, inStage float64) float64 {
	if inStage < 0 {
		inStage = 0
	}
	if inStage > 1 {
		inStage = 1
	}
	return t.Before(stage) + t.weights[stage]*inStage
}

// EstimatedCompletion projects a completion time from the configured
// stage duration estimates, counting the current stage as not started.
func (t *Tracker) EstimatedCompletion(stage jobs.Stage, now time.Time) time.Time {
	if stage == jobs.StageCompleted {
		return now
	}
	remaining := time.Duration(0)
	seen := false
	for _, s := range jobs.StageOrder() {
		if s == stage {
			seen = true
		}
		if seen {
			remaining += t.durations[s]
		}
	}
	return now.Add(remaining)
}
