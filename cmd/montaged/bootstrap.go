package main

import (
	"log/slog"

	"montage/internal/config"
	"montage/internal/jobs"
	"montage/internal/pipeline"
)

func buildPipeline(cfg *config.Config, store *jobs.Store, logger *slog.Logger) *pipeline.Manager {
	manager := pipeline.NewManager(cfg, store, logger)
	manager.RegisterDefaults()
	return manager
}
