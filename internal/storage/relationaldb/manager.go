package relationaldb

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Logger interface for dependency injection
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// DefaultLogger provides a basic logger implementation
type DefaultLogger struct {
	logger *log.Logger
}

func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{logger: log.Default()}
}

func (l *DefaultLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Println(append([]interface{}{"[DEBUG]", msg}, fields...)...)
}

func (l *DefaultLogger) Info(msg string, fields ...interface{}) {
	l.logger.Println(append([]interface{}{"[INFO]", msg}, fields...)...)
}

func (l *DefaultLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Println(append([]interface{}{"[WARN]", msg}, fields...)...)
}

func (l *DefaultLogger) Error(msg string, fields ...interface{}) {
	l.logger.Println(append([]interface{}{"[ERROR]", msg}, fields...)...)
}

// Metrics interface for monitoring
type Metrics interface {
	IncrementCounter(name string, tags map[string]string)
	RecordDuration(name string, duration time.Duration, tags map[string]string)
	SetGauge(name string, value float64, tags map[string]string)
}

// NoOpMetrics provides a no-op metrics implementation
type NoOpMetrics struct{}

func (m *NoOpMetrics) IncrementCounter(name string, tags map[string]string)                        {}
func (m *NoOpMetrics) RecordDuration(name string, duration time.Duration, tags map[string]string) {}
func (m *NoOpMetrics) SetGauge(name string, value float64, tags map[string]string)                {}

// Manager provides lifecycle management and utilities for database
// operations: health checks, transient-failure retries and the
// idempotency-key garbage sweep.
type Manager struct {
	repoManager RepositoryManager
	config      *Config
	logger      Logger
	metrics     Metrics

	healthCheckInterval time.Duration
	healthCancel        context.CancelFunc
	healthWg            sync.WaitGroup

	sweepInterval time.Duration
	sweepCancel   context.CancelFunc
	sweepWg       sync.WaitGroup

	mu        sync.RWMutex
	connected bool
	lastError error
}

// ManagerOption defines functional options for Manager
type ManagerOption func(*Manager)

// WithLogger sets the logger for the manager
func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the metrics collector for the manager
func WithMetrics(metrics Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithHealthCheckInterval sets the health check interval
func WithHealthCheckInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) { m.healthCheckInterval = interval }
}

// WithSweepInterval sets the idempotency sweep interval
func WithSweepInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) { m.sweepInterval = interval }
}

// NewManager creates a new database manager
func NewManager(repoManager RepositoryManager, config *Config, options ...ManagerOption) *Manager {
	manager := &Manager{
		repoManager:         repoManager,
		config:              config,
		logger:              NewDefaultLogger(),
		metrics:             &NoOpMetrics{},
		healthCheckInterval: time.Minute,
		sweepInterval:       config.SweepInterval,
	}
	for _, option := range options {
		option(manager)
	}
	if manager.sweepInterval <= 0 {
		manager.sweepInterval = time.Hour
	}
	return manager
}

// Open opens the database connection and starts background services
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return nil
	}

	if err := m.repoManager.Open(ctx); err != nil {
		m.lastError = err
		m.logger.Error("Failed to open database connection", "error", err)
		m.metrics.IncrementCounter("db.connection.failed", nil)
		return err
	}

	if err := m.repoManager.System().Ping(ctx); err != nil {
		m.lastError = err
		m.logger.Error("Database health check failed", "error", err)
		return err
	}

	m.connected = true
	m.lastError = nil

	m.startHealthChecker()
	m.startSweeper()

	m.logger.Info("Database manager opened",
		"host", m.config.Host, "database", m.config.Database)
	m.metrics.IncrementCounter("db.connection.opened", nil)

	return nil
}

// Close closes the database connection and stops background services
func (m *Manager) Close(ctx context.Context) error {
	if !m.IsConnected() {
		return nil
	}

	// Stop the background loops before taking the write lock: the
	// health checker reads connection state through IsConnected and
	// would deadlock against a lock held across the Wait.
	m.stopHealthChecker()
	m.stopSweeper()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	if err := m.repoManager.Close(ctx); err != nil {
		m.logger.Error("Failed to close database connection", "error", err)
		return err
	}

	m.connected = false
	m.lastError = nil

	m.logger.Info("Database manager closed")
	return nil
}

// IsConnected returns whether the database is connected
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// LastError returns the last error encountered
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// HealthCheck performs a manual health check
func (m *Manager) HealthCheck(ctx context.Context) error {
	start := time.Now()
	defer func() {
		m.metrics.RecordDuration("db.health_check.duration", time.Since(start), nil)
	}()

	if !m.IsConnected() {
		return ErrDatabaseClosed
	}

	if err := m.repoManager.System().Ping(ctx); err != nil {
		m.mu.Lock()
		m.lastError = err
		m.mu.Unlock()

		m.logger.Error("Health check failed", "error", err)
		m.metrics.IncrementCounter("db.health_check.failed", nil)
		return err
	}

	return nil
}

// ExecuteWithRetry executes a function with retry logic for transient
// database failures.
func (m *Manager) ExecuteWithRetry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * m.config.RetryDelay
			if delay > m.config.RetryMaxDelay {
				delay = m.config.RetryMaxDelay
			}

			m.logger.Debug("Retrying operation",
				"attempt", attempt, "delay", delay, "last_error", lastErr)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		start := time.Now()
		err := operation()
		m.metrics.RecordDuration("db.operation.duration", time.Since(start),
			map[string]string{"attempt": fmt.Sprintf("%d", attempt)})

		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			break
		}
	}

	return lastErr
}

// ExecuteInTransaction executes a function within a transaction with
// retry logic.
func (m *Manager) ExecuteInTransaction(ctx context.Context, operation func(TransactionContext) error) error {
	return m.ExecuteWithRetry(ctx, func() error {
		return m.repoManager.WithTransaction(ctx, operation)
	})
}

// GetRepositoryManager returns the underlying repository manager
func (m *Manager) GetRepositoryManager() RepositoryManager {
	return m.repoManager
}

// GetConfig returns the configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}

func (m *Manager) startHealthChecker() {
	ctx, cancel := context.WithCancel(context.Background())
	m.healthCancel = cancel

	m.healthWg.Add(1)
	go func() {
		defer m.healthWg.Done()

		ticker := time.NewTicker(m.healthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, checkCancel := context.WithTimeout(ctx, time.Second*10)
				if err := m.HealthCheck(checkCtx); err != nil {
					m.logger.Error("Background health check failed", "error", err)
				}
				checkCancel()
			}
		}
	}()
}

func (m *Manager) stopHealthChecker() {
	if m.healthCancel != nil {
		m.healthCancel()
		m.healthWg.Wait()
	}
}

// startSweeper starts the idempotency-key garbage collector.
func (m *Manager) startSweeper() {
	ctx, cancel := context.WithCancel(context.Background())
	m.sweepCancel = cancel

	m.sweepWg.Add(1)
	go func() {
		defer m.sweepWg.Done()

		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepCtx, sweepCancel := context.WithTimeout(ctx, time.Minute)
				m.Sweep(sweepCtx)
				sweepCancel()
			}
		}
	}()
}

func (m *Manager) stopSweeper() {
	if m.sweepCancel != nil {
		m.sweepCancel()
		m.sweepWg.Wait()
	}
}

// Sweep deletes expired idempotency keys once.
func (m *Manager) Sweep(ctx context.Context) {
	deleted, err := m.repoManager.Idempotency().DeleteExpired(ctx)
	if err != nil {
		m.logger.Error("Idempotency sweep failed", "error", err)
		m.metrics.IncrementCounter("db.sweep.failed", nil)
		return
	}
	if deleted > 0 {
		m.logger.Info("Swept expired idempotency keys", "deleted", deleted)
	}
	m.metrics.SetGauge("db.sweep.deleted", float64(deleted), nil)
}
