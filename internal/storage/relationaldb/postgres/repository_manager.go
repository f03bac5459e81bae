package postgres

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/leasify/leased/internal/storage/relationaldb"
)

// RepositoryManager implements the RepositoryManager interface for PostgreSQL
type RepositoryManager struct {
	db     *sql.DB
	config *relationaldb.Config

	// Repository instances
	leaseRepo       *LeaseRepository
	paymentRepo     *PaymentRepository
	ledgerRepo      *LedgerRepository
	idempotencyRepo *IdempotencyRepository
	systemRepo      *SystemRepository
}

// NewRepositoryManager creates a new PostgreSQL repository manager
func NewRepositoryManager(config *relationaldb.Config) (*RepositoryManager, error) {
	if err := config.Validate(); err != nil {
		return nil, relationaldb.NewConfigurationError("new_repository_manager", "invalid configuration", err)
	}

	return &RepositoryManager{
		config: config,
	}, nil
}

func (rm *RepositoryManager) Open(ctx context.Context) error {
	connStr, err := rm.config.BuildConnectionString()
	if err != nil {
		return relationaldb.NewConfigurationError("open", "failed to build connection string", err)
	}

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return relationaldb.NewConnectionError("open", "failed to open database connection", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(rm.config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(rm.config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(rm.config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(rm.config.ConnMaxIdleTime)

	// Test connection
	ctxTimeout, cancel := context.WithTimeout(ctx, rm.config.DefaultTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctxTimeout); err != nil {
		sqlDB.Close()
		return relationaldb.NewConnectionError("open", "failed to ping database", err)
	}

	rm.db = sqlDB

	if err := rm.initSchema(ctx); err != nil {
		rm.db.Close()
		rm.db = nil
		return relationaldb.NewSchemaError("open", "failed to initialize schema", err)
	}

	// Initialize repository instances
	rm.leaseRepo = NewLeaseRepository(rm.db)
	rm.paymentRepo = NewPaymentRepository(rm.db)
	rm.ledgerRepo = NewLedgerRepository(rm.db)
	rm.idempotencyRepo = NewIdempotencyRepository(rm.db)
	rm.systemRepo = NewSystemRepository(rm.db)

	return nil
}

func (rm *RepositoryManager) Close(ctx context.Context) error {
	if rm.db == nil {
		return nil
	}

	err := rm.db.Close()
	rm.db = nil

	// Clear repository instances
	rm.leaseRepo = nil
	rm.paymentRepo = nil
	rm.ledgerRepo = nil
	rm.idempotencyRepo = nil
	rm.systemRepo = nil

	if err != nil {
		return relationaldb.NewConnectionError("close", "failed to close database connection", err)
	}

	return nil
}

func (rm *RepositoryManager) Lease() relationaldb.LeaseRepository {
	return rm.leaseRepo
}

func (rm *RepositoryManager) Payment() relationaldb.PaymentRepository {
	return rm.paymentRepo
}

func (rm *RepositoryManager) Ledger() relationaldb.LedgerRepository {
	return rm.ledgerRepo
}

func (rm *RepositoryManager) Idempotency() relationaldb.IdempotencyRepository {
	return rm.idempotencyRepo
}

func (rm *RepositoryManager) System() relationaldb.SystemRepository {
	return rm.systemRepo
}

func (rm *RepositoryManager) WithTransaction(ctx context.Context, fn func(relationaldb.TransactionContext) error) error {
	tx, err := rm.systemRepo.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			// Log the rollback error but return the original error
			return err
		}
		return err
	}

	return tx.Commit(ctx)
}

// initSchema creates the tables and indexes when they do not exist yet.
func (rm *RepositoryManager) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS leases (
			id UUID PRIMARY KEY,
			customer_id VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL,
			principal_amount NUMERIC(12,2) NOT NULL,
			term_months INTEGER NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS payment_schedule (
			id UUID PRIMARY KEY,
			lease_id UUID NOT NULL REFERENCES leases(id),
			installment_number INTEGER NOT NULL,
			due_date TIMESTAMP WITH TIME ZONE NOT NULL,
			amount NUMERIC(12,2) NOT NULL,
			status VARCHAR(20) NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_attempt_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			UNIQUE (lease_id, installment_number)
		)`,

		// The BIGSERIAL column allocates the global sequence number.
		`CREATE TABLE IF NOT EXISTS ledger (
			sequence_number BIGSERIAL PRIMARY KEY,
			lease_id UUID NOT NULL REFERENCES leases(id),
			event_type VARCHAR(50) NOT NULL,
			event_payload JSONB NOT NULL,
			amount NUMERIC(12,2),
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key VARCHAR(255) PRIMARY KEY,
			operation VARCHAR(100) NOT NULL,
			response_payload JSONB,
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_leases_customer_status ON leases(customer_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_schedule_lease_status ON payment_schedule(lease_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_schedule_due_status ON payment_schedule(due_date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_lease_seq ON ledger(lease_id, sequence_number)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_event_type_seq ON ledger(event_type, sequence_number)`,
		`CREATE INDEX IF NOT EXISTS idx_idempotency_expires ON idempotency_keys(expires_at)`,
	}

	for _, query := range queries {
		if _, err := rm.db.ExecContext(ctx, query); err != nil {
			return relationaldb.NewSchemaError("init_schema", "failed to execute schema query", err)
		}
	}

	return nil
}
