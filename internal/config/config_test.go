package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadDefault()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "retry:delayed", cfg.Redis.QueueKey)
	assert.Equal(t, 0.70, cfg.Gateway.SuccessRate)
	assert.Equal(t, 10*time.Second, cfg.Gateway.ChargeTimeout)
	assert.Equal(t, 3, cfg.Retry.Payment.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Retry.Payment.BaseDelay)
	assert.Equal(t, 6.0, cfg.Retry.Payment.Multiplier)
	assert.Equal(t, 5, cfg.Retry.Critical.MaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leased.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
idempotency_ttl = "1h"

[server]
port = 9090

[database]
host = "db.internal"
database = "leased_prod"

[redis]
enabled = true
addr = "redis.internal:6379"

[logging]
level = "debug"

[gateway]
success_rate = 0.95
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "leased_prod", cfg.Database.Database)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 0.95, cfg.Gateway.SuccessRate)
	assert.Equal(t, time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, path, cfg.Path())

	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Retry.Payment.MaxRetries)
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LEASED_SERVER_PORT", "7070")
	t.Setenv("LEASED_DATABASE_HOST", "env-db")

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-db", cfg.Database.Host)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/leased.toml")
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"negative success rate", func(c *Config) { c.Gateway.SuccessRate = -0.1 }},
		{"success rate above one", func(c *Config) { c.Gateway.SuccessRate = 1.5 }},
		{"zero multiplier", func(c *Config) { c.Retry.Payment.Multiplier = 0 }},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
		{"zero idempotency ttl", func(c *Config) { c.IdempotencyTTL = 0 }},
		{"zero dispatch batch", func(c *Config) { c.Workers.DispatchBatch = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadDefault()
			require.NoError(t, err)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
