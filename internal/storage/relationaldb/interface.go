package relationaldb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/leasify/leased/internal/domain"
)

// CheckResult is the outcome of an idempotency check-and-insert.
type CheckResult int

const (
	// CheckNew means no live record existed; one was inserted and the
	// caller owns the operation.
	CheckNew CheckResult = iota
	// CheckInFlight means a live record exists but no response has been
	// cached yet: a previous attempt is running or died before commit.
	CheckInFlight
	// CheckReplayed means a live record exists with a cached response.
	CheckReplayed
)

func (r CheckResult) String() string {
	switch r {
	case CheckNew:
		return "new"
	case CheckInFlight:
		return "in_flight"
	case CheckReplayed:
		return "replayed"
	}
	return "unknown"
}

// LeaseRepository handles lease row operations.
type LeaseRepository interface {
	CreateLease(ctx context.Context, lease *domain.Lease) error
	GetLease(ctx context.Context, id uuid.UUID) (*domain.Lease, error)
	// GetLeaseForUpdate locks the lease row for the duration of the
	// enclosing transaction. Single-writer-per-lease serialization
	// hangs off this lock.
	GetLeaseForUpdate(ctx context.Context, id uuid.UUID) (*domain.Lease, error)
	GetLeasesByCustomer(ctx context.Context, customerID string, skip, limit int) ([]domain.Lease, error)
	GetLeasesByStatus(ctx context.Context, status domain.LeaseStatus, skip, limit int) ([]domain.Lease, error)
	GetLeasesByCustomerAndStatus(ctx context.Context, customerID string, status domain.LeaseStatus, skip, limit int) ([]domain.Lease, error)
	UpdateLeaseStatus(ctx context.Context, id uuid.UUID, status domain.LeaseStatus) error
	CountLeasesByStatus(ctx context.Context, status domain.LeaseStatus) (int64, error)
}

// PaymentUpdate carries the optional fields of a payment status update.
type PaymentUpdate struct {
	RetryCount    *int
	LastAttemptAt *time.Time
}

// PaymentRepository handles installment row operations.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetPaymentsByLease(ctx context.Context, leaseID uuid.UUID, skip, limit int) ([]domain.Payment, error)
	GetPaymentsByLeaseAndStatus(ctx context.Context, leaseID uuid.UUID, status domain.PaymentStatus, skip, limit int) ([]domain.Payment, error)
	// GetDuePayments returns payments in the given status due on or
	// before the cutoff, oldest due date first.
	GetDuePayments(ctx context.Context, dueBefore time.Time, status domain.PaymentStatus, skip, limit int) ([]domain.Payment, error)
	// GetNextPendingPayment returns the earliest-due PENDING payment for
	// a lease, or nil when none remain.
	GetNextPendingPayment(ctx context.Context, leaseID uuid.UUID) (*domain.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus, update PaymentUpdate) error
	CountPaymentsByLeaseAndStatus(ctx context.Context, leaseID uuid.UUID, status domain.PaymentStatus) (int64, error)
}

// LedgerRepository handles the append-only event log. Append allocates
// the next global sequence number. UpdateEntry and DeleteEntry exist only
// to fail: the immutability of the log is a contract of the type.
type LedgerRepository interface {
	Append(ctx context.Context, leaseID uuid.UUID, eventType domain.EventType, payload map[string]interface{}, amount *decimal.Decimal) (*domain.LedgerEntry, error)
	GetLeaseHistory(ctx context.Context, leaseID uuid.UUID, skip, limit int) ([]domain.LedgerEntry, error)
	GetByEventType(ctx context.Context, eventType domain.EventType, skip, limit int) ([]domain.LedgerEntry, error)
	GetLeaseHistoryByEventType(ctx context.Context, leaseID uuid.UUID, eventType domain.EventType, skip, limit int) ([]domain.LedgerEntry, error)
	GetAll(ctx context.Context, skip, limit int) ([]domain.LedgerEntry, error)
	CountForLease(ctx context.Context, leaseID uuid.UUID) (int64, error)
	CountByEventType(ctx context.Context, eventType domain.EventType) (int64, error)
	SumAmountForLease(ctx context.Context, leaseID uuid.UUID) (decimal.Decimal, error)
	// UpdateEntry always returns an immutable-ledger error.
	UpdateEntry(ctx context.Context, sequenceNumber int64, payload map[string]interface{}) error
	// DeleteEntry always returns an immutable-ledger error.
	DeleteEntry(ctx context.Context, sequenceNumber int64) error
}

// IdempotencyRepository handles dedup records with TTL semantics.
// Expired records are treated as absent and may be deleted eagerly.
type IdempotencyRepository interface {
	// CheckAndStore atomically checks for a live record under key and
	// inserts one when absent. The returned payload is non-nil only for
	// CheckReplayed.
	CheckAndStore(ctx context.Context, key, operation string, ttl time.Duration) (CheckResult, map[string]interface{}, error)
	// StoreResponse caches the committed operation response on an
	// existing record.
	StoreResponse(ctx context.Context, key string, payload map[string]interface{}) error
	GetKey(ctx context.Context, key string) (*domain.IdempotencyKey, error)
	DeleteKey(ctx context.Context, key string) (bool, error)
	// DeleteExpired removes all records past expiry; returns the count.
	DeleteExpired(ctx context.Context) (int64, error)
}

// SystemRepository handles connection-level operations.
type SystemRepository interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (TransactionContext, error)
}

// TransactionContext gives repository access bound to one database
// transaction. Row writes, ledger appends and idempotency cache writes
// that belong to one state change all go through the same context.
type TransactionContext interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	Lease() LeaseRepository
	Payment() PaymentRepository
	Ledger() LedgerRepository
	Idempotency() IdempotencyRepository
}

// RepositoryManager provides repository access and transaction
// management over one connection pool.
type RepositoryManager interface {
	Lease() LeaseRepository
	Payment() PaymentRepository
	Ledger() LedgerRepository
	Idempotency() IdempotencyRepository
	System() SystemRepository

	Open(ctx context.Context) error
	Close(ctx context.Context) error

	// WithTransaction runs fn inside a transaction, committing on nil
	// and rolling back on error or panic.
	WithTransaction(ctx context.Context, fn func(TransactionContext) error) error
}
