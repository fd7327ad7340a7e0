package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	OutputDir string `toml:"output_dir"`
	APIBind   string `toml:"api_bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Pipeline contains configuration for job scheduling and progress tracking.
type Pipeline struct {
	MaxConcurrentJobs  int `toml:"max_concurrent_jobs"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	// JobDeadline bounds a whole job in seconds. Zero disables the deadline.
	JobDeadline     int `toml:"job_deadline"`
	RetentionDays   int `toml:"retention_days"`
	CleanupInterval int `toml:"cleanup_interval"`
	// StageWeights maps stage names to their share of overall progress.
	// Values are normalized at load time when they do not sum to 1.0.
	StageWeights map[string]float64 `toml:"stage_weights"`
	// StageDurations maps stage names to expected durations in seconds,
	// used only for estimated-completion reporting.
	StageDurations map[string]int `toml:"stage_durations"`
}

// Retry contains the backoff policy applied to collaborator calls.
type Retry struct {
	MaxAttempts int     `toml:"max_attempts"`
	BaseDelayMS int     `toml:"base_delay_ms"`
	MaxDelayMS  int     `toml:"max_delay_ms"`
	Multiplier  float64 `toml:"multiplier"`
	Jitter      bool    `toml:"jitter"`
}

// Breaker contains circuit breaker thresholds shared by all dependencies.
type Breaker struct {
	FailureThreshold int `toml:"failure_threshold"`
	CooldownSeconds  int `toml:"cooldown_seconds"`
}

// RateClass describes one token bucket shared by a collaborator class.
type RateClass struct {
	Capacity       int     `toml:"capacity"`
	RefillPerSec   float64 `toml:"refill_per_sec"`
	AcquireTimeout int     `toml:"acquire_timeout"`
}

// Service contains connection settings for one stage collaborator.
type Service struct {
	Endpoint          string   `toml:"endpoint"`
	APIKey            string   `toml:"api_key"`
	Model             string   `toml:"model"`
	TimeoutSeconds    int      `toml:"timeout_seconds"`
	RateClass         string   `toml:"rate_class"`
	Critical          bool     `toml:"critical"`
	FallbackEndpoints []string `toml:"fallback_endpoints"`
}

// Config encapsulates all configuration values for montage.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Logging: log format and level
//   - Pipeline: concurrency, polling, deadlines, stage weights
//   - Retry: backoff policy for collaborator calls
//   - Breaker: circuit breaker thresholds
//   - RateLimit: token buckets keyed by collaborator class
//   - Services: per-stage collaborator endpoints and fallbacks
type Config struct {
	Paths     Paths                `toml:"paths"`
	Logging   Logging              `toml:"logging"`
	Pipeline  Pipeline             `toml:"pipeline"`
	Retry     Retry                `toml:"retry"`
	Breaker   Breaker              `toml:"breaker"`
	RateLimit map[string]RateClass `toml:"ratelimit"`
	Services  map[string]Service   `toml:"services"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/montage/config.toml")
}

// SampleConfig returns the embedded sample configuration document.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes the embedded sample configuration to path.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("montage.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// OutputDir is created on a best-effort basis so the daemon can run when
// external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.OutputDir) != "" {
		_ = os.MkdirAll(c.Paths.OutputDir, 0o755)
	}
	return nil
}

// ServiceFor returns the collaborator settings for a stage name, falling back
// to zero values when the stage has no dedicated section.
func (c *Config) ServiceFor(stage string) Service {
	if c == nil || c.Services == nil {
		return Service{}
	}
	return c.Services[stage]
}

// ExpandPath resolves ~ prefixes and returns an absolute, cleaned path.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
