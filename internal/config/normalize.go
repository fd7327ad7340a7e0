package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizePipeline()
	c.normalizeRetry()
	c.normalizeBreaker()
	c.normalizeRateLimit()
	c.normalizeServices()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.MaxConcurrentJobs <= 0 {
		c.Pipeline.MaxConcurrentJobs = defaultMaxConcurrentJobs
	}
	if c.Pipeline.QueuePollInterval <= 0 {
		c.Pipeline.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Pipeline.ErrorRetryInterval <= 0 {
		c.Pipeline.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Pipeline.HeartbeatInterval <= 0 {
		c.Pipeline.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Pipeline.HeartbeatTimeout <= 0 {
		c.Pipeline.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if len(c.Pipeline.StageWeights) == 0 {
		c.Pipeline.StageWeights = Default().Pipeline.StageWeights
	}
	if len(c.Pipeline.StageDurations) == 0 {
		c.Pipeline.StageDurations = Default().Pipeline.StageDurations
	}
}

func (c *Config) normalizeRetry() {
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = defaultRetryMaxAttempts
	}
	if c.Retry.BaseDelayMS <= 0 {
		c.Retry.BaseDelayMS = defaultRetryBaseDelayMS
	}
	if c.Retry.MaxDelayMS <= 0 {
		c.Retry.MaxDelayMS = defaultRetryMaxDelayMS
	}
	if c.Retry.Multiplier < 1 {
		c.Retry.Multiplier = defaultRetryMultiplier
	}
}

func (c *Config) normalizeBreaker() {
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = defaultBreakerThreshold
	}
	if c.Breaker.CooldownSeconds <= 0 {
		c.Breaker.CooldownSeconds = defaultBreakerCooldown
	}
}

func (c *Config) normalizeRateLimit() {
	if len(c.RateLimit) == 0 {
		c.RateLimit = Default().RateLimit
		return
	}
	for name, class := range c.RateLimit {
		if class.Capacity <= 0 {
			class.Capacity = 1
		}
		if class.RefillPerSec <= 0 {
			class.RefillPerSec = 1
		}
		if class.AcquireTimeout <= 0 {
			class.AcquireTimeout = defaultAcquireTimeout
		}
		c.RateLimit[name] = class
	}
}

func (c *Config) normalizeServices() {
	if len(c.Services) == 0 {
		c.Services = Default().Services
		return
	}
	for name, svc := range c.Services {
		svc.Endpoint = strings.TrimSpace(svc.Endpoint)
		svc.Model = strings.TrimSpace(svc.Model)
		if svc.RateClass == "" {
			svc.RateClass = "llm"
		}
		if svc.TimeoutSeconds <= 0 {
			svc.TimeoutSeconds = defaultServiceTimeout
		}
		c.Services[name] = svc
	}
}
