package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"montage/internal/config"
	"montage/internal/jobs"
	"montage/internal/services"
	"montage/internal/stage"
)

// initStage turns a validated request into the generation plan the
// collaborator stages work from. It runs locally.
type initStage struct{}

func newInitStage() *initStage {
	return &initStage{}
}

func (s *initStage) Prepare(ctx context.Context, job *jobs.Job) error {
	if job.Prompt == "" {
		return services.Wrap(services.ErrValidation, string(jobs.StageInitializing), "prepare", "job carries no prompt", nil)
	}
	return nil
}

func (s *initStage) Execute(ctx context.Context, job *jobs.Job) error {
	sceneCount := job.DurationSeconds / 10
	if sceneCount < 1 {
		sceneCount = 1
	}
	plan := map[string]any{
		"prompt":           job.Prompt,
		"duration_seconds": job.DurationSeconds,
		"style":            job.Style,
		"quality":          job.Quality,
		"voice":            job.Voice,
		"target_scenes":    sceneCount,
	}
	return stage.EncodeResult(job, jobs.StageInitializing, plan)
}

func (s *initStage) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy(string(jobs.StageInitializing))
}

// finalizeStage moves the assembled video into the output directory and
// records the final result. It runs locally.
type finalizeStage struct {
	cfg *config.Config
}

func newFinalizeStage(cfg *config.Config) *finalizeStage {
	return &finalizeStage{cfg: cfg}
}

func (s *finalizeStage) Prepare(ctx context.Context, job *jobs.Job) error {
	var assembly stage.AssemblyResult
	return stage.DecodeResult(job, jobs.StageVideoAssembly, &assembly)
}

func (s *finalizeStage) Execute(ctx context.Context, job *jobs.Job) error {
	var assembly stage.AssemblyResult
	if err := stage.DecodeResult(job, jobs.StageVideoAssembly, &assembly); err != nil {
		return err
	}

	outputPath := assembly.VideoFile
	var size int64
	if info, err := os.Stat(assembly.VideoFile); err == nil && !info.IsDir() {
		// The assembled file landed locally; move it into the library.
		target := filepath.Join(s.cfg.Paths.OutputDir, job.ID+filepath.Ext(assembly.VideoFile))
		if err := os.MkdirAll(s.cfg.Paths.OutputDir, 0o755); err != nil {
			return services.Wrap(services.ErrTransient, string(jobs.StageFinalizing), "mkdir",
				fmt.Sprintf("create output dir %s", s.cfg.Paths.OutputDir), err)
		}
		if err := os.Rename(assembly.VideoFile, target); err != nil {
			return services.Wrap(services.ErrTransient, string(jobs.StageFinalizing), "move",
				fmt.Sprintf("move %s to %s", assembly.VideoFile, target), err)
		}
		outputPath = target
		size = info.Size()
	}

	job.OutputPath = outputPath
	return stage.EncodeResult(job, jobs.StageFinalizing, stage.FinalResult{
		VideoFile:       outputPath,
		DurationSeconds: assembly.DurationSeconds,
		SizeBytes:       size,
	})
}

func (s *finalizeStage) HealthCheck(ctx context.Context) stage.Health {
	if s.cfg.Paths.OutputDir == "" {
		return stage.Unhealthy(string(jobs.StageFinalizing), "output directory not configured")
	}
	return stage.Healthy(string(jobs.StageFinalizing))
}
