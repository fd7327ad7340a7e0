package testsupport

import (
	"path/filepath"
	"testing"

	"montage/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Pipeline.QueuePollInterval = 1
	cfg.Pipeline.HeartbeatInterval = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithMaxConcurrentJobs overrides the worker bound on the test config.
func WithMaxConcurrentJobs(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.MaxConcurrentJobs = n
	}
}

// WithRetry overrides the retry settings on the test config.
func WithRetry(retry config.Retry) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Retry = retry
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
