package pipeline_test

import (
	"math"
	"testing"
	"time"

	"montage/internal/config"
	"montage/internal/jobs"
	"montage/internal/pipeline"
)

func TestTrackerNormalizesWeights(t *testing.T) {
	tracker := pipeline.NewTracker(config.Pipeline{
		StageWeights: map[string]float64{
			"initializing":     1,
			"researching":      3,
			"scripting":        4,
			"asset_sourcing":   5,
			"audio_generation": 3,
			"video_assembly":   3,
			"finalizing":       1,
		},
	})
	if got := tracker.After(jobs.StageFinalizing); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("expected cumulative weight 1.0, got %f", got)
	}
	if got := tracker.Before(jobs.StageInitializing); got != 0 {
		t.Fatalf("expected zero progress before first stage, got %f", got)
	}
}

func TestTrackerHandlesMissingWeights(t *testing.T) {
	tracker := pipeline.NewTracker(config.Pipeline{})
	if got := tracker.After(jobs.StageFinalizing); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("expected equal weights to sum to 1.0, got %f", got)
	}
}

func TestTrackerFractionMonotone(t *testing.T) {
	tracker := pipeline.NewTracker(config.Default().Pipeline)

	last := -1.0
	for _, stage := range jobs.StageOrder() {
		for _, inStage := range []float64{0, 0.5, 1} {
			got := tracker.Fraction(stage, inStage)
			if got < last {
				t.Fatalf("progress regressed at %s/%f: %f < %f", stage, inStage, got, last)
			}
			last = got
		}
	}
	if math.Abs(last-1.0) > 1e-9 {
		t.Fatalf("expected final fraction 1.0, got %f", last)
	}
}

func TestTrackerFractionClampsInput(t *testing.T) {
	tracker := pipeline.NewTracker(config.Default().Pipeline)
	low := tracker.Fraction(jobs.StageScripting, -1)
	high := tracker.Fraction(jobs.StageScripting, 2)
	if low != tracker.Before(jobs.StageScripting) {
		t.Fatalf("expected clamp to stage start, got %f", low)
	}
	if high != tracker.After(jobs.StageScripting) {
		t.Fatalf("expected clamp to stage end, got %f", high)
	}
}

func TestEstimatedCompletionSumsRemainingStages(t *testing.T) {
	tracker := pipeline.NewTracker(config.Pipeline{
		StageDurations: map[string]int{
			"video_assembly": 90,
			"finalizing":     10,
		},
	})
	now := time.Now()
	eta := tracker.EstimatedCompletion(jobs.StageVideoAssembly, now)
	if got := eta.Sub(now); got != 100*time.Second {
		t.Fatalf("expected 100s remaining, got %s", got)
	}
	if got := tracker.EstimatedCompletion(jobs.StageCompleted, now); !got.Equal(now) {
		t.Fatalf("expected no remaining time for completed, got %s", got)
	}
}
