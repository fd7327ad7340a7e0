package config

const (
	defaultDataDir            = "~/.local/share/montage/data"
	defaultLogDir             = "~/.local/share/montage/logs"
	defaultOutputDir          = "~/montage/output"
	defaultAPIBind            = "127.0.0.1:7823"
	defaultLogFormat          = ""
	defaultLogLevel           = "info"
	defaultMaxConcurrentJobs  = 4
	defaultQueuePollInterval  = 2
	defaultErrorRetryInterval = 5
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultJobDeadline        = 1800
	defaultRetentionDays      = 7
	defaultCleanupInterval    = 3600
	defaultRetryMaxAttempts   = 3
	defaultRetryBaseDelayMS   = 1000
	defaultRetryMaxDelayMS    = 30000
	defaultRetryMultiplier    = 2.0
	defaultBreakerThreshold   = 5
	defaultBreakerCooldown    = 60
	defaultAcquireTimeout     = 30
	defaultServiceTimeout     = 120
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			OutputDir: defaultOutputDir,
			APIBind:   defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Pipeline: Pipeline{
			MaxConcurrentJobs:  defaultMaxConcurrentJobs,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			JobDeadline:        defaultJobDeadline,
			RetentionDays:      defaultRetentionDays,
			CleanupInterval:    defaultCleanupInterval,
			StageWeights: map[string]float64{
				"initializing":     0.05,
				"researching":      0.15,
				"scripting":        0.20,
				"asset_sourcing":   0.25,
				"audio_generation": 0.15,
				"video_assembly":   0.15,
				"finalizing":       0.05,
			},
			StageDurations: map[string]int{
				"initializing":     5,
				"researching":      30,
				"scripting":        45,
				"asset_sourcing":   60,
				"audio_generation": 40,
				"video_assembly":   90,
				"finalizing":       10,
			},
		},
		Retry: Retry{
			MaxAttempts: defaultRetryMaxAttempts,
			BaseDelayMS: defaultRetryBaseDelayMS,
			MaxDelayMS:  defaultRetryMaxDelayMS,
			Multiplier:  defaultRetryMultiplier,
			Jitter:      true,
		},
		Breaker: Breaker{
			FailureThreshold: defaultBreakerThreshold,
			CooldownSeconds:  defaultBreakerCooldown,
		},
		RateLimit: map[string]RateClass{
			"llm": {
				Capacity:       5,
				RefillPerSec:   1,
				AcquireTimeout: defaultAcquireTimeout,
			},
			"media": {
				Capacity:       2,
				RefillPerSec:   0.5,
				AcquireTimeout: defaultAcquireTimeout,
			},
		},
		Services: map[string]Service{
			"researching":      {RateClass: "llm", Critical: true, TimeoutSeconds: defaultServiceTimeout},
			"scripting":        {RateClass: "llm", Critical: true, TimeoutSeconds: defaultServiceTimeout},
			"asset_sourcing":   {RateClass: "media", Critical: true, TimeoutSeconds: defaultServiceTimeout},
			"audio_generation": {RateClass: "media", Critical: false, TimeoutSeconds: defaultServiceTimeout},
			"video_assembly":   {RateClass: "media", Critical: true, TimeoutSeconds: defaultServiceTimeout},
		},
	}
}
