package pipeline_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"montage/internal/config"
	"montage/internal/jobs"
	"montage/internal/logging"
	"montage/internal/pipeline"
	"montage/internal/services"
	"montage/internal/stage"
	"montage/internal/testsupport"
)

type fakeHandler struct {
	key     jobs.Stage
	calls   atomic.Int64
	execute func(ctx context.Context, job *jobs.Job) error
}

func (f *fakeHandler) Prepare(ctx context.Context, job *jobs.Job) error { return nil }

func (f *fakeHandler) Execute(ctx context.Context, job *jobs.Job) error {
	f.calls.Add(1)
	if f.execute != nil {
		return f.execute(ctx, job)
	}
	job.SetResult(f.key, json.RawMessage(`{"done":true}`))
	return nil
}

func (f *fakeHandler) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy(string(f.key))
}

func newTestManager(t *testing.T, cfg *config.Config, store *jobs.Store) (*pipeline.Manager, map[jobs.Stage]*fakeHandler) {
	t.Helper()
	manager := pipeline.NewManager(cfg, store, logging.NewNop())

	handlers := make(map[jobs.Stage]*fakeHandler)
	for _, key := range jobs.StageOrder() {
		handler := &fakeHandler{key: key}
		handlers[key] = handler
		manager.Register(key, handler)
	}
	return manager, handlers
}

func startManager(t *testing.T, manager *pipeline.Manager) {
	t.Helper()
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(manager.Stop)
}

func waitForTerminal(t *testing.T, store *jobs.Store, id string, timeout time.Duration) *jobs.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if job != nil && job.IsTerminal() {
			return job
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal status within %s", id, timeout)
	return nil
}

func TestManagerProcessesJobThroughAllStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager, handlers := newTestManager(t, cfg, store)
	startManager(t, manager)

	job := testsupport.NewJob(t, store, "A short film about deep sea bioluminescence")
	final := waitForTerminal(t, store, job.ID, 10*time.Second)

	if final.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s (error=%#v)", final.Status, final.Error)
	}
	if final.Progress != 1.0 {
		t.Fatalf("expected full progress, got %f", final.Progress)
	}
	if final.CurrentStage != jobs.StageCompleted {
		t.Fatalf("expected completed stage, got %s", final.CurrentStage)
	}
	for _, key := range jobs.StageOrder() {
		if handlers[key].calls.Load() != 1 {
			t.Fatalf("expected stage %s executed once, got %d", key, handlers[key].calls.Load())
		}
		if _, ok := final.StageResults[string(key)]; !ok {
			t.Fatalf("expected result recorded for stage %s", key)
		}
	}
	if final.CompletedAt == nil {
		t.Fatal("expected completed_at set")
	}
}

func TestManagerFailsJobOnFatalError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager, handlers := newTestManager(t, cfg, store)
	handlers[jobs.StageScripting].execute = func(ctx context.Context, job *jobs.Job) error {
		return services.Wrap(services.ErrFatal, string(jobs.StageScripting), "invoke", "model rejected request", nil)
	}
	startManager(t, manager)

	job := testsupport.NewJob(t, store, "A documentary segment on glacier formation")
	final := waitForTerminal(t, store, job.ID, 10*time.Second)

	if final.Status != jobs.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.Error == nil || final.Error.Kind != "fatal" || final.Error.Stage != string(jobs.StageScripting) {
		t.Fatalf("unexpected error record: %#v", final.Error)
	}
	if handlers[jobs.StageAssetSourcing].calls.Load() != 0 {
		t.Fatal("expected downstream stages skipped after failure")
	}
	if final.Progress >= 1.0 {
		t.Fatalf("expected partial progress on failure, got %f", final.Progress)
	}
}

func TestManagerHonorsCancelAtStageBoundary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager, handlers := newTestManager(t, cfg, store)
	handlers[jobs.StageAssetSourcing].execute = func(ctx context.Context, job *jobs.Job) error {
		// Cancel arrives while the stage is mid-flight.
		if _, err := store.RequestCancel(ctx, job.ID); err != nil {
			return err
		}
		job.SetResult(jobs.StageAssetSourcing, json.RawMessage(`{"done":true}`))
		return nil
	}
	startManager(t, manager)

	job := testsupport.NewJob(t, store, "A travel montage across coastal towns")
	final := waitForTerminal(t, store, job.ID, 10*time.Second)

	if final.Status != jobs.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", final.Status)
	}
	if handlers[jobs.StageAudioGeneration].calls.Load() != 0 {
		t.Fatal("expected no audio work after cancellation at asset sourcing")
	}
	if _, ok := final.StageResults[string(jobs.StageAudioGeneration)]; ok {
		t.Fatal("expected no audio result after cancellation")
	}
	// The in-flight attempt finishes but its output is discarded.
	if _, ok := final.StageResults[string(jobs.StageAssetSourcing)]; ok {
		t.Fatal("expected the mid-flight stage result to be discarded")
	}
	if final.CurrentStage != jobs.StageAssetSourcing {
		t.Fatalf("expected job to stop at asset sourcing, got %s", final.CurrentStage)
	}
}

func TestManagerInterpolatesProgressDuringLongStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager, handlers := newTestManager(t, cfg, store)

	release := make(chan struct{})
	handlers[jobs.StageAssetSourcing].execute = func(ctx context.Context, job *jobs.Job) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		job.SetResult(jobs.StageAssetSourcing, json.RawMessage(`{"done":true}`))
		return nil
	}
	startManager(t, manager)

	tracker := manager.Tracker()
	boundary := tracker.Before(jobs.StageAssetSourcing)
	job := testsupport.NewJob(t, store, "A slow pan across a harbor at dawn")

	deadline := time.Now().Add(15 * time.Second)
	for {
		got, err := store.GetByID(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if got != nil && got.CurrentStage == jobs.StageAssetSourcing && got.Progress > boundary+1e-9 {
			if got.Progress >= tracker.After(jobs.StageAssetSourcing) {
				t.Fatalf("expected partial credit inside the stage, got %f", got.Progress)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("progress never moved past the stage boundary while in flight")
		}
		time.Sleep(100 * time.Millisecond)
	}
	close(release)

	final := waitForTerminal(t, store, job.ID, 10*time.Second)
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.Progress != 1.0 {
		t.Fatalf("expected full progress, got %f", final.Progress)
	}
}

func TestManagerProcessesConcurrentJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxConcurrentJobs(4))
	store := testsupport.MustOpenStore(t, cfg)
	manager, _ := newTestManager(t, cfg, store)
	startManager(t, manager)

	const jobCount = 12
	ids := make([]string, 0, jobCount)
	for i := 0; i < jobCount; i++ {
		job := testsupport.NewJob(t, store, fmt.Sprintf("Concurrent prompt %d with enough length", i))
		ids = append(ids, job.ID)
	}
	// Cancel every third job while the batch is in flight.
	for i := 0; i < jobCount; i += 3 {
		if _, err := store.RequestCancel(context.Background(), ids[i]); err != nil {
			t.Fatalf("RequestCancel failed: %v", err)
		}
	}

	completed, cancelled := 0, 0
	for _, id := range ids {
		final := waitForTerminal(t, store, id, 30*time.Second)
		switch final.Status {
		case jobs.StatusCompleted:
			completed++
		case jobs.StatusCancelled:
			cancelled++
		default:
			t.Fatalf("job %s ended %s: %#v", id, final.Status, final.Error)
		}
	}
	if completed+cancelled != jobCount {
		t.Fatalf("expected %d terminal jobs, got %d completed %d cancelled", jobCount, completed, cancelled)
	}
	if cancelled == 0 {
		t.Fatal("expected at least one cancellation to land")
	}
}

func TestManagerStartRequiresHandlers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := pipeline.NewManager(cfg, store, logging.NewNop())

	if err := manager.Start(context.Background()); err == nil {
		manager.Stop()
		t.Fatal("expected error when no stages registered")
	}
}

func TestManagerStatusReportsStageHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager, _ := newTestManager(t, cfg, store)

	summary := manager.Status(context.Background())
	if summary.Running {
		t.Fatal("expected not running before Start")
	}
	if len(summary.StageHealth) != len(jobs.StageOrder()) {
		t.Fatalf("expected health for every stage, got %d", len(summary.StageHealth))
	}
	for name, record := range summary.StageHealth {
		if !record.Ready {
			t.Fatalf("expected stage %s ready, got %#v", name, record)
		}
	}
}
