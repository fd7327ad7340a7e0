package jobs_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"montage/internal/jobs"
	"montage/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "A short film about deep sea bioluminescence")
	if job.ID == "" {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != jobs.StatusQueued {
		t.Fatalf("expected queued status, got %s", job.Status)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.Prompt != job.Prompt {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
	if fetched.CurrentStage != jobs.StageInitializing {
		t.Fatalf("expected initializing stage, got %s", fetched.CurrentStage)
	}
}

func TestGetByIDMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	fetched, err := store.GetByID(context.Background(), "no-such-job")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched != nil {
		t.Fatalf("expected nil for missing job, got %#v", fetched)
	}
}

func TestUpdateRoundTripsStageResults(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "A documentary segment on glacier formation")

	job.Status = jobs.StatusProcessing
	job.AdvanceStage(jobs.StageResearching)
	job.SetResult(jobs.StageResearching, json.RawMessage(`{"facts":["ice flows downhill"]}`))
	job.RecordAttempt(jobs.StageResearching)
	job.SetProgress(0.12)
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.CurrentStage != jobs.StageResearching {
		t.Fatalf("expected researching stage, got %s", fetched.CurrentStage)
	}
	if _, ok := fetched.StageResults[string(jobs.StageResearching)]; !ok {
		t.Fatalf("expected stage result to persist, got %#v", fetched.StageResults)
	}
	if fetched.RetryCounts[string(jobs.StageResearching)] != 1 {
		t.Fatalf("expected one recorded attempt, got %#v", fetched.RetryCounts)
	}
	if fetched.Progress != 0.12 {
		t.Fatalf("expected progress 0.12, got %f", fetched.Progress)
	}
}

func TestNextQueuedClaimsOldestExactlyOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		job := testsupport.NewJob(t, store, fmt.Sprintf("Prompt number %d with enough length", i))
		ids = append(ids, job.ID)
	}

	first, err := store.NextQueued(ctx)
	if err != nil {
		t.Fatalf("NextQueued failed: %v", err)
	}
	if first == nil || first.ID != ids[0] {
		t.Fatalf("expected oldest job %s, got %#v", ids[0], first)
	}
	if first.Status != jobs.StatusProcessing {
		t.Fatalf("expected claimed job to be processing, got %s", first.Status)
	}
	if first.StartedAt == nil || first.LastHeartbeat == nil {
		t.Fatal("expected started_at and heartbeat set on claim")
	}

	second, err := store.NextQueued(ctx)
	if err != nil {
		t.Fatalf("NextQueued failed: %v", err)
	}
	if second == nil || second.ID == first.ID {
		t.Fatalf("expected the next job, got %#v", second)
	}
}

func TestNextQueuedEmptyReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job, err := store.NextQueued(context.Background())
	if err != nil {
		t.Fatalf("NextQueued failed: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil on empty queue, got %#v", job)
	}
}

func TestAdvanceProgressNeverRegresses(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	queued := testsupport.NewJob(t, store, "A documentary about glass blowing")
	if err := store.AdvanceProgress(ctx, queued.ID, 0.3); err != nil {
		t.Fatalf("AdvanceProgress failed: %v", err)
	}
	fetched, err := store.GetByID(ctx, queued.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Progress != 0 {
		t.Fatalf("expected queued job untouched, got %f", fetched.Progress)
	}

	claimed, err := store.NextQueued(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("NextQueued failed: %v", err)
	}
	if err := store.AdvanceProgress(ctx, claimed.ID, 0.4); err != nil {
		t.Fatalf("AdvanceProgress failed: %v", err)
	}
	if err := store.AdvanceProgress(ctx, claimed.ID, 0.2); err != nil {
		t.Fatalf("AdvanceProgress failed: %v", err)
	}
	fetched, err = store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Progress != 0.4 {
		t.Fatalf("expected progress held at 0.4, got %f", fetched.Progress)
	}

	// A full Update with a stale lower figure must not walk it back.
	fetched.Progress = 0.1
	if err := store.Update(ctx, fetched); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	fetched, err = store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Progress != 0.4 {
		t.Fatalf("expected update to keep 0.4, got %f", fetched.Progress)
	}
}

func TestRequestCancelQueuedJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "A travel montage across coastal towns")

	cancelled, err := store.RequestCancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if cancelled == nil || cancelled.Status != jobs.StatusCancelled {
		t.Fatalf("expected cancelled status, got %#v", cancelled)
	}
	if cancelled.CompletedAt == nil {
		t.Fatal("expected completed_at set on cancellation")
	}
}

func TestRequestCancelProcessingSetsFlag(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewJob(t, store, "A highlight reel of vintage arcade machines")
	claimed, err := store.NextQueued(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("NextQueued failed: %v %#v", err, claimed)
	}

	flagged, err := store.RequestCancel(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if flagged == nil || flagged.Status != jobs.StatusProcessing {
		t.Fatalf("expected processing status with flag, got %#v", flagged)
	}
	if !flagged.CancelRequested {
		t.Fatal("expected cancel flag raised")
	}

	raised, err := store.CancelRequested(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("CancelRequested failed: %v", err)
	}
	if !raised {
		t.Fatal("expected CancelRequested to report the flag")
	}
}

func TestRequestCancelTerminalJobReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "An explainer on how tides are predicted")
	job.SetCompleted()
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	result, err := store.RequestCancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil for terminal job, got %#v", result)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Status != jobs.StatusCompleted {
		t.Fatalf("expected terminal status untouched, got %s", fetched.Status)
	}
}

func TestListFiltersAndPages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		job := testsupport.NewJob(t, store, fmt.Sprintf("Listing prompt %d with enough length", i))
		if i%2 == 0 {
			job.SetCompleted()
			if err := store.Update(ctx, job); err != nil {
				t.Fatalf("Update failed: %v", err)
			}
		}
	}

	completed, err := store.List(ctx, jobs.ListOptions{Statuses: []jobs.Status{jobs.StatusCompleted}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(completed) != 3 {
		t.Fatalf("expected 3 completed jobs, got %d", len(completed))
	}

	paged, err := store.List(ctx, jobs.ListOptions{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(paged) != 2 {
		t.Fatalf("expected page of 2 jobs, got %d", len(paged))
	}

	all, err := store.List(ctx, jobs.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 jobs, got %d", len(all))
	}
}

func TestReclaimStaleProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewJob(t, store, "A montage of storm chasers at work")
	claimed, err := store.NextQueued(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("NextQueued failed: %v %#v", err, claimed)
	}

	count, err := store.ReclaimStaleProcessing(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", count)
	}

	fetched, err := store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Status != jobs.StatusFailed {
		t.Fatalf("expected failed status after reclaim, got %s", fetched.Status)
	}
	if fetched.Error == nil || fetched.Error.Kind != "transient" {
		t.Fatalf("expected transient error record, got %#v", fetched.Error)
	}
	if fetched.LastHeartbeat != nil {
		t.Fatal("expected heartbeat cleared after reclaim")
	}
}

func TestReclaimSkipsFreshHeartbeats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewJob(t, store, "A short on urban rooftop beekeeping")
	claimed, err := store.NextQueued(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("NextQueued failed: %v %#v", err, claimed)
	}
	if err := store.UpdateHeartbeat(ctx, claimed.ID); err != nil {
		t.Fatalf("UpdateHeartbeat failed: %v", err)
	}

	count, err := store.ReclaimStaleProcessing(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no reclaimed jobs, got %d", count)
	}
}

func TestDeleteTerminalBefore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	old := testsupport.NewJob(t, store, "A piece on the history of lighthouses")
	old.SetCompleted()
	past := time.Now().UTC().Add(-48 * time.Hour)
	old.CompletedAt = &past
	if err := store.Update(ctx, old); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	recent := testsupport.NewJob(t, store, "A feature on night markets in Taipei")
	recent.SetCompleted()
	if err := store.Update(ctx, recent); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	count, err := store.DeleteTerminalBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteTerminalBefore failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 deleted job, got %d", count)
	}

	kept, err := store.GetByID(ctx, recent.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if kept == nil {
		t.Fatal("expected recent job retained")
	}
}

func TestHealthCountsByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewJob(t, store, "A profile of a master violin maker")
	failed := testsupport.NewJob(t, store, "A montage of autumn in the Rockies")
	failed.SetFailed("fatal", "render pipeline exploded", jobs.StageVideoAssembly)
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Queued != 1 || health.Failed != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}
