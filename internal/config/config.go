// Package config loads service configuration from defaults, an
// optional TOML file and LEASED_-prefixed environment variables, in
// that order of precedence.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/leasify/leased/internal/logging"
	"github.com/leasify/leased/internal/retry"
	"github.com/leasify/leased/internal/storage/relationaldb"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig        `toml:"server" mapstructure:"server"`
	Database relationaldb.Config `toml:"database" mapstructure:"database"`
	Redis    RedisConfig         `toml:"redis" mapstructure:"redis"`
	Logging  logging.Config      `toml:"logging" mapstructure:"logging"`
	Gateway  GatewayConfig       `toml:"gateway" mapstructure:"gateway"`
	Retry    RetryConfig         `toml:"retry" mapstructure:"retry"`
	Workers  WorkersConfig       `toml:"workers" mapstructure:"workers"`

	// IdempotencyTTL is how long create-lease idempotency keys live.
	IdempotencyTTL time.Duration `toml:"idempotency_ttl" mapstructure:"idempotency_ttl"`

	configPath string
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Host            string        `toml:"host" mapstructure:"host"`
	Port            int           `toml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `toml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// RedisConfig covers the event bus and the delayed-retry queue. With
// Enabled false the service runs on the in-process bus and queue.
type RedisConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Addr     string `toml:"addr" mapstructure:"addr"`
	Password string `toml:"password" mapstructure:"password"`
	DB       int    `toml:"db" mapstructure:"db"`
	QueueKey string `toml:"queue_key" mapstructure:"queue_key"`
}

// GatewayConfig tunes the simulated payment gateway.
type GatewayConfig struct {
	SuccessRate   float64       `toml:"success_rate" mapstructure:"success_rate"`
	ChargeTimeout time.Duration `toml:"charge_timeout" mapstructure:"charge_timeout"`
}

// RetryConfig carries the two backoff profiles.
type RetryConfig struct {
	Payment  retry.Config `toml:"payment" mapstructure:"payment"`
	Critical retry.Config `toml:"critical" mapstructure:"critical"`
}

// WorkersConfig tunes the background loops.
type WorkersConfig struct {
	DispatchInterval time.Duration `toml:"dispatch_interval" mapstructure:"dispatch_interval"`
	DispatchBatch    int           `toml:"dispatch_batch" mapstructure:"dispatch_batch"`
	DuePollInterval  time.Duration `toml:"due_poll_interval" mapstructure:"due_poll_interval"`
	DuePollBatch     int           `toml:"due_poll_batch" mapstructure:"due_poll_batch"`
}

// Path returns the config file the configuration was loaded from, if
// any.
func (c *Config) Path() string { return c.configPath }

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
