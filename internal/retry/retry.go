// Package retry implements exponential backoff with a cap and jitter.
// It covers two execution modes: in-band retry of a function, and
// deferred dispatch through a delay queue so scheduled retries do not
// occupy a worker while waiting.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config defines backoff behavior. Attempt numbers are zero-indexed in
// the delay formula: attempt 0 waits the base delay.
type Config struct {
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay" mapstructure:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay" mapstructure:"max_delay"`
	Multiplier float64       `json:"multiplier" mapstructure:"multiplier"`
	Jitter     bool          `json:"jitter" mapstructure:"jitter"`
}

// PaymentConfig is the backoff profile for failed payment attempts:
// roughly 60s, 360s and 2160s before jitter.
func PaymentConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Minute,
		MaxDelay:   24 * time.Hour,
		Multiplier: 6.0,
		Jitter:     true,
	}
}

// CriticalOperationConfig is the backoff profile for infrastructure
// operations that must eventually succeed.
func CriticalOperationConfig() Config {
	return Config{
		MaxRetries: 5,
		BaseDelay:  30 * time.Second,
		MaxDelay:   time.Hour,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Delay computes the backoff before retry number attempt (zero-indexed).
func (c Config) Delay(attempt int) time.Duration {
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt)))
	if delay > c.MaxDelay || delay < 0 {
		delay = c.MaxDelay
	}
	if c.Jitter {
		delay += time.Duration(rand.Float64() * 0.1 * float64(delay))
	}
	return delay
}

// NextTime returns the wall-clock instant for retry number attempt.
func (c Config) NextTime(attempt int) time.Time {
	return time.Now().UTC().Add(c.Delay(attempt))
}

// Schedule lists (attempt, delay) pairs for up to maxAttempts retries.
func (c Config) Schedule(maxAttempts int) []time.Duration {
	delays := make([]time.Duration, 0, maxAttempts)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		delays = append(delays, c.Delay(attempt))
	}
	return delays
}

// Scheduler executes operations with in-band backoff.
type Scheduler struct {
	config Config
}

// NewScheduler creates a scheduler with the given config.
func NewScheduler(config Config) *Scheduler {
	return &Scheduler{config: config}
}

// Do runs fn until it succeeds, the retry budget is exhausted or the
// context is cancelled. The last error is returned on exhaustion.
func (s *Scheduler) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.config.Delay(attempt - 1)):
			}
		}

		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
	}

	return lastErr
}
