package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"montage/internal/daemon"
	"montage/internal/jobs"
	"montage/internal/logging"
	"montage/internal/pipeline"
	"montage/internal/stage"
	"montage/internal/testsupport"
)

type noopHandler struct{}

func (noopHandler) Prepare(context.Context, *jobs.Job) error { return nil }
func (noopHandler) Execute(context.Context, *jobs.Job) error { return nil }
func (noopHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("noop")
}

type cliTestEnv struct {
	store      *jobs.Store
	daemon     *daemon.Daemon
	addr       string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\noutput_dir = %q\napi_bind = %q\n",
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Paths.OutputDir,
		cfg.Paths.APIBind,
	)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	store := testsupport.MustOpenStore(t, cfg)
	manager := pipeline.NewManager(cfg, store, logging.NewNop())
	for _, s := range jobs.StageOrder() {
		manager.Register(s, noopHandler{})
	}

	d, err := daemon.New(cfg, store, logging.NewNop(), manager)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Stop()
	})

	return &cliTestEnv{
		store:      store,
		daemon:     d,
		addr:       d.APIAddr(),
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, addr, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--addr", addr}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func waitForStatus(t *testing.T, env *cliTestEnv, id string, want jobs.Status) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := env.store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job != nil && job.Status == want {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", id, want)
}

func TestCLIJobLifecycle(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"submit", "A short documentary about tidal power turbines"}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(out, "queued") {
		t.Fatalf("unexpected submit output: %q", out)
	}
	fields := strings.Fields(out)
	if len(fields) < 2 {
		t.Fatalf("could not extract job id from %q", out)
	}
	id := fields[1]

	waitForStatus(t, env, id, jobs.StatusCompleted)

	out, _, err = runCLI(t, []string{"status", id}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "completed") || !strings.Contains(out, "100%") {
		t.Fatalf("unexpected status output: %q", out)
	}

	out, _, err = runCLI(t, []string{"list"}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, shortID(id)) {
		t.Fatalf("list output missing job: %q", out)
	}

	out, _, err = runCLI(t, []string{"cancel", id}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !strings.Contains(out, "already finished") {
		t.Fatalf("unexpected cancel output: %q", out)
	}
}

func TestCLISubmitRejectsShortPrompt(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"submit", "too short"}, env.addr, env.configPath)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "prompt") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCLIStatusUnknownJob(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"status", "no-such-id"}, env.addr, env.configPath)
	if err == nil {
		t.Fatal("expected error for unknown job")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCLIHealth(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"health"}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out, "Overall") || !strings.Contains(out, "Pipeline") {
		t.Fatalf("unexpected health output: %q", out)
	}
	if !strings.Contains(out, "running") {
		t.Fatalf("expected running pipeline in output: %q", out)
	}
}

func TestCLIConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	cmd := newRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(stdout.String(), "Wrote sample configuration") {
		t.Fatalf("unexpected output: %q", stdout.String())
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config created: %v", err)
	}
}
