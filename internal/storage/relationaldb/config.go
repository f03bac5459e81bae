package relationaldb

import (
	"fmt"
	"net/url"
	"time"
)

// Config contains database configuration settings
type Config struct {
	// Database connection settings
	ConnectionString string `json:"connection_string" mapstructure:"connection_string"`
	Host             string `json:"host" mapstructure:"host"`
	Port             int    `json:"port" mapstructure:"port"`
	Database         string `json:"database" mapstructure:"database"`
	Username         string `json:"username" mapstructure:"username"`
	Password         string `json:"password" mapstructure:"password"`
	SSLMode          string `json:"ssl_mode" mapstructure:"ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`

	// Transaction settings
	DefaultTimeout time.Duration `json:"default_timeout" mapstructure:"default_timeout"`

	// Retry settings for transient database failures
	MaxRetries    int           `json:"max_retries" mapstructure:"max_retries"`
	RetryDelay    time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
	RetryMaxDelay time.Duration `json:"retry_max_delay" mapstructure:"retry_max_delay"`

	// Idempotency sweep interval for the background GC
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
}

// NewConfig creates a new Config with sensible defaults
func NewConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		Database:        "leased",
		Username:        "leased",
		SSLMode:         "prefer",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 15,
		DefaultTimeout:  time.Second * 30,
		MaxRetries:      3,
		RetryDelay:      time.Millisecond * 100,
		RetryMaxDelay:   time.Second * 5,
		SweepInterval:   time.Hour,
	}
}

// Validate checks the configuration for common errors
func (c *Config) Validate() error {
	if c.ConnectionString == "" {
		if c.Host == "" {
			return ErrMissingHost
		}
		if c.Port <= 0 || c.Port > 65535 {
			return ErrInvalidPort
		}
		if c.Database == "" {
			return ErrMissingDatabase
		}
		if c.Username == "" {
			return ErrMissingUsername
		}
		switch c.SSLMode {
		case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
		default:
			return fmt.Errorf("invalid SSL mode: %s", c.SSLMode)
		}
	}

	if c.MaxOpenConns < 0 {
		return ErrInvalidMaxOpenConns
	}
	if c.MaxIdleConns < 0 {
		return ErrInvalidMaxIdleConns
	}
	if c.MaxIdleConns > c.MaxOpenConns && c.MaxOpenConns > 0 {
		return ErrMaxIdleExceedsMaxOpen
	}
	if c.DefaultTimeout <= 0 {
		return ErrInvalidTimeout
	}

	return nil
}

// BuildConnectionString builds a lib/pq DSN from the config
func (c *Config) BuildConnectionString() (string, error) {
	if c.ConnectionString != "" {
		return c.ConnectionString, nil
	}

	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	params.Set("connect_timeout", "30")
	params.Set("application_name", "leased")

	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: params.Encode(),
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	} else if c.Username != "" {
		u.User = url.User(c.Username)
	}

	return u.String(), nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a string representation of the config (password redacted)
func (c *Config) String() string {
	return fmt.Sprintf("Config{Host: %s, Port: %d, Database: %s, User: %s}",
		c.Host, c.Port, c.Database, c.Username)
}
