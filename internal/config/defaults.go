package config

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaults seeds viper with the built-in configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "leased")
	v.SetDefault("database.username", "leased")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 15*time.Minute)
	v.SetDefault("database.default_timeout", 30*time.Second)
	v.SetDefault("database.max_retries", 3)
	v.SetDefault("database.retry_delay", 100*time.Millisecond)
	v.SetDefault("database.retry_max_delay", 5*time.Second)
	v.SetDefault("database.sweep_interval", time.Hour)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.queue_key", "retry:delayed")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)

	v.SetDefault("gateway.success_rate", 0.70)
	v.SetDefault("gateway.charge_timeout", 10*time.Second)

	v.SetDefault("retry.payment.max_retries", 3)
	v.SetDefault("retry.payment.base_delay", time.Minute)
	v.SetDefault("retry.payment.max_delay", 24*time.Hour)
	v.SetDefault("retry.payment.multiplier", 6.0)
	v.SetDefault("retry.payment.jitter", true)

	v.SetDefault("retry.critical.max_retries", 5)
	v.SetDefault("retry.critical.base_delay", 30*time.Second)
	v.SetDefault("retry.critical.max_delay", time.Hour)
	v.SetDefault("retry.critical.multiplier", 2.0)
	v.SetDefault("retry.critical.jitter", true)

	v.SetDefault("workers.dispatch_interval", 5*time.Second)
	v.SetDefault("workers.dispatch_batch", 100)
	v.SetDefault("workers.due_poll_interval", time.Minute)
	v.SetDefault("workers.due_poll_batch", 100)

	v.SetDefault("idempotency_ttl", 24*time.Hour)
}
