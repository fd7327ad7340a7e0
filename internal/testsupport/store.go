package testsupport

import (
	"context"
	"testing"

	"montage/internal/config"
	"montage/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a queued job for tests using the provided store.
func NewJob(t testing.TB, store *jobs.Store, prompt string) *jobs.Job {
	t.Helper()

	req := jobs.Request{Prompt: prompt}
	if err := req.Validate(); err != nil {
		t.Fatalf("request.Validate: %v", err)
	}
	job := jobs.NewJob(req)
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}
