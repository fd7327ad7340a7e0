package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateServices(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	for stage, weight := range c.Pipeline.StageWeights {
		if weight < 0 {
			return fmt.Errorf("pipeline.stage_weights[%s] must not be negative", stage)
		}
	}
	total := 0.0
	for _, weight := range c.Pipeline.StageWeights {
		total += weight
	}
	if total <= 0 {
		return errors.New("pipeline.stage_weights must contain at least one positive weight")
	}
	if c.Pipeline.JobDeadline < 0 {
		return errors.New("pipeline.job_deadline must not be negative")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return errors.New("retry.max_delay_ms must be at least retry.base_delay_ms")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	for name, class := range c.RateLimit {
		if class.Capacity <= 0 {
			return fmt.Errorf("ratelimit.%s.capacity must be positive", name)
		}
		if class.RefillPerSec <= 0 {
			return fmt.Errorf("ratelimit.%s.refill_per_sec must be positive", name)
		}
	}
	return nil
}

func (c *Config) validateServices() error {
	for name, svc := range c.Services {
		if svc.RateClass == "" {
			continue
		}
		if _, ok := c.RateLimit[svc.RateClass]; !ok {
			return fmt.Errorf("services.%s.rate_class %q has no matching [ratelimit.%s] section", name, svc.RateClass, svc.RateClass)
		}
	}
	return nil
}
