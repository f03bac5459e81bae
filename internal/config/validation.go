package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for values the service cannot run
// with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server shutdown timeout must be positive"))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis enabled without an address"))
	}

	if c.Gateway.SuccessRate < 0 || c.Gateway.SuccessRate > 1 {
		errs = append(errs, fmt.Errorf("gateway success rate %v out of [0, 1]", c.Gateway.SuccessRate))
	}
	if c.Gateway.ChargeTimeout <= 0 {
		errs = append(errs, errors.New("gateway charge timeout must be positive"))
	}

	for name, rc := range map[string]struct {
		maxRetries int
		multiplier float64
	}{
		"retry.payment":  {c.Retry.Payment.MaxRetries, c.Retry.Payment.Multiplier},
		"retry.critical": {c.Retry.Critical.MaxRetries, c.Retry.Critical.Multiplier},
	} {
		if rc.maxRetries < 0 {
			errs = append(errs, fmt.Errorf("%s max retries cannot be negative", name))
		}
		if rc.multiplier < 1 {
			errs = append(errs, fmt.Errorf("%s multiplier must be at least 1", name))
		}
	}

	if c.Workers.DispatchInterval <= 0 || c.Workers.DuePollInterval <= 0 {
		errs = append(errs, errors.New("worker intervals must be positive"))
	}
	if c.Workers.DispatchBatch <= 0 || c.Workers.DuePollBatch <= 0 {
		errs = append(errs, errors.New("worker batch sizes must be positive"))
	}

	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("idempotency TTL must be positive"))
	}

	return errors.Join(errs...)
}
