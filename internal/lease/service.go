// Package lease implements lease creation and the life-cycle
// coordinator that advances leases as payment outcomes accumulate.
package lease

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/leasify/leased/internal/domain"
	"github.com/leasify/leased/internal/eventbus"
	"github.com/leasify/leased/internal/ledger"
	"github.com/leasify/leased/internal/schedule"
	"github.com/leasify/leased/internal/storage/relationaldb"
)

// DefaultIdempotencyTTL is how long a create-lease idempotency key
// stays live.
const DefaultIdempotencyTTL = 24 * time.Hour

const createLeaseOperation = "CREATE_LEASE"

// CreateResult is the outcome of a lease creation.
type CreateResult struct {
	Lease    *domain.Lease
	Payments []domain.Payment
	// Replayed is true when the request was collapsed onto a previous
	// submission with the same idempotency key.
	Replayed bool
}

// Service owns lease lifecycle operations. All writes for one lease are
// serialized through the lease row lock.
type Service struct {
	repos          relationaldb.RepositoryManager
	publisher      eventbus.Publisher
	logger         eventbus.Logger
	idempotencyTTL time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger eventbus.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithIdempotencyTTL sets the create-lease idempotency TTL.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(s *Service) { s.idempotencyTTL = ttl }
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// NewService creates a lease service.
func NewService(repos relationaldb.RepositoryManager, publisher eventbus.Publisher, options ...Option) *Service {
	s := &Service{
		repos:          repos,
		publisher:      publisher,
		logger:         nopLogger{},
		idempotencyTTL: DefaultIdempotencyTTL,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// CreateLease creates a lease with its installment plan. The lease row,
// every payment row and the LEASE_CREATED ledger entry commit in one
// transaction; the idempotency key collapses duplicate submissions.
func (s *Service) CreateLease(ctx context.Context, customerID string, principal decimal.Decimal, termMonths int, idempotencyKey string) (*CreateResult, error) {
	if customerID == "" {
		return nil, domain.NewValidationError("create_lease", "customer id is required")
	}
	if idempotencyKey == "" {
		return nil, domain.NewValidationError("create_lease", "idempotency key is required")
	}
	if err := domain.ValidatePrincipalAndTerm(principal, termMonths); err != nil {
		return nil, err
	}

	check, cached, err := s.repos.Idempotency().CheckAndStore(ctx, idempotencyKey, createLeaseOperation, s.idempotencyTTL)
	if err != nil {
		return nil, err
	}

	switch check {
	case relationaldb.CheckReplayed:
		return s.replayCreate(ctx, idempotencyKey, cached)
	case relationaldb.CheckInFlight:
		return nil, domain.NewConflictError("create_lease",
			"operation with this idempotency key is in flight or previously failed")
	}

	lease := &domain.Lease{
		ID:              uuid.New(),
		CustomerID:      customerID,
		Status:          domain.LeasePending,
		PrincipalAmount: principal,
		TermMonths:      termMonths,
	}

	payments, err := schedule.Generate(lease.ID, principal, termMonths, time.Time{})
	if err != nil {
		return nil, err
	}

	err = s.repos.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		if err := tx.Lease().CreateLease(ctx, lease); err != nil {
			return err
		}
		for i := range payments {
			if err := tx.Payment().CreatePayment(ctx, &payments[i]); err != nil {
				return err
			}
		}
		_, err := ledger.NewPersister(tx.Ledger()).Persist(ctx, domain.NewLeaseCreated(lease))
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.repos.Idempotency().StoreResponse(ctx, idempotencyKey, map[string]interface{}{
		"lease_id": lease.ID.String(),
	}); err != nil {
		s.logger.Error("Failed to cache idempotency response",
			"lease_id", lease.ID, "error", err)
	}

	s.publish(ctx, domain.NewLeaseCreated(lease), domain.TopicLeaseEvents)

	s.logger.Info("Created lease",
		"lease_id", lease.ID, "customer_id", customerID,
		"principal", principal.StringFixed(2), "term_months", termMonths)

	return &CreateResult{Lease: lease, Payments: payments}, nil
}

// replayCreate reconstructs the original response from the cached
// payload.
func (s *Service) replayCreate(ctx context.Context, key string, cached map[string]interface{}) (*CreateResult, error) {
	raw, _ := cached["lease_id"].(string)
	leaseID, err := uuid.Parse(raw)
	if err != nil {
		return nil, domain.NewConflictError("create_lease", "cached response is unusable", err)
	}

	lease, err := s.repos.Lease().GetLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	payments, err := s.repos.Payment().GetPaymentsByLease(ctx, leaseID, 0, domain.MaxTermMonths)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Replayed lease creation", "lease_id", leaseID, "idempotency_key", key)
	return &CreateResult{Lease: lease, Payments: payments, Replayed: true}, nil
}

// GetLease returns a lease by ID.
func (s *Service) GetLease(ctx context.Context, id uuid.UUID) (*domain.Lease, error) {
	lease, err := s.repos.Lease().GetLease(ctx, id)
	if err != nil {
		if relationaldb.IsNotFound(err) {
			return nil, domain.NewNotFoundError("get_lease", "lease not found", err)
		}
		return nil, err
	}
	return lease, nil
}

// GetPayments returns a lease's payment plan.
func (s *Service) GetPayments(ctx context.Context, leaseID uuid.UUID, skip, limit int) ([]domain.Payment, error) {
	return s.repos.Payment().GetPaymentsByLease(ctx, leaseID, skip, limit)
}

// ListByCustomer returns a customer's leases, optionally filtered by
// status.
func (s *Service) ListByCustomer(ctx context.Context, customerID string, status domain.LeaseStatus, skip, limit int) ([]domain.Lease, error) {
	if status == "" {
		return s.repos.Lease().GetLeasesByCustomer(ctx, customerID, skip, limit)
	}
	if !status.Valid() {
		return nil, domain.NewValidationError("list_leases", "unknown lease status: "+string(status))
	}
	return s.repos.Lease().GetLeasesByCustomerAndStatus(ctx, customerID, status, skip, limit)
}

// UpdateStatus transitions a lease to the requested status under the
// state-machine guard.
func (s *Service) UpdateStatus(ctx context.Context, leaseID uuid.UUID, status domain.LeaseStatus) error {
	if !status.Valid() {
		return domain.NewValidationError("update_lease_status", "unknown lease status: "+string(status))
	}

	return s.repos.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		lease, err := tx.Lease().GetLeaseForUpdate(ctx, leaseID)
		if err != nil {
			if relationaldb.IsNotFound(err) {
				return domain.NewNotFoundError("update_lease_status", "lease not found", err)
			}
			return err
		}
		if err := domain.ValidateTransition(lease.Status, status); err != nil {
			return err
		}
		return tx.Lease().UpdateLeaseStatus(ctx, leaseID, status)
	})
}

// CheckAndActivate transitions PENDING to ACTIVE when at least one
// pending payment exists. Re-invocation on a non-PENDING lease is a
// no-op returning false.
func (s *Service) CheckAndActivate(ctx context.Context, leaseID uuid.UUID) (bool, error) {
	activated := false
	err := s.repos.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		lease, err := tx.Lease().GetLeaseForUpdate(ctx, leaseID)
		if err != nil {
			return err
		}
		if lease.Status != domain.LeasePending {
			return nil
		}

		next, err := tx.Payment().GetNextPendingPayment(ctx, leaseID)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		if err := tx.Lease().UpdateLeaseStatus(ctx, leaseID, domain.LeaseActive); err != nil {
			return err
		}
		activated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if activated {
		s.logger.Info("Activated lease", "lease_id", leaseID)
	}
	return activated, nil
}

// CheckAndComplete transitions ACTIVE to COMPLETED when no PENDING or
// FAILED payments remain, emitting LEASE_COMPLETED.
func (s *Service) CheckAndComplete(ctx context.Context, leaseID uuid.UUID) (bool, error) {
	var event *domain.LeaseCompletedEvent
	err := s.repos.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		lease, err := tx.Lease().GetLeaseForUpdate(ctx, leaseID)
		if err != nil {
			return err
		}
		if lease.Status != domain.LeaseActive {
			return nil
		}

		pending, err := tx.Payment().CountPaymentsByLeaseAndStatus(ctx, leaseID, domain.PaymentPending)
		if err != nil {
			return err
		}
		failed, err := tx.Payment().CountPaymentsByLeaseAndStatus(ctx, leaseID, domain.PaymentFailed)
		if err != nil {
			return err
		}
		if pending > 0 || failed > 0 {
			return nil
		}

		totalPaid, err := s.sumPaid(ctx, tx, leaseID)
		if err != nil {
			return err
		}

		if err := tx.Lease().UpdateLeaseStatus(ctx, leaseID, domain.LeaseCompleted); err != nil {
			return err
		}
		event = domain.NewLeaseCompleted(leaseID, lease.CustomerID, totalPaid)
		_, err = ledger.NewPersister(tx.Ledger()).Persist(ctx, event)
		return err
	})
	if err != nil {
		return false, err
	}
	if event == nil {
		return false, nil
	}

	s.publish(ctx, event, domain.TopicLeaseEvents)
	s.logger.Info("Completed lease", "lease_id", leaseID, "total_paid", event.TotalPaid.StringFixed(2))
	return true, nil
}

// CheckAndDefault transitions PENDING or ACTIVE to DEFAULTED when the
// failed-payment count reaches the attempt budget, emitting
// LEASE_DEFAULTED.
func (s *Service) CheckAndDefault(ctx context.Context, leaseID uuid.UUID) (bool, error) {
	var event *domain.LeaseDefaultedEvent
	err := s.repos.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		lease, err := tx.Lease().GetLeaseForUpdate(ctx, leaseID)
		if err != nil {
			return err
		}
		if lease.Status.IsTerminal() {
			return nil
		}

		failed, err := tx.Payment().CountPaymentsByLeaseAndStatus(ctx, leaseID, domain.PaymentFailed)
		if err != nil {
			return err
		}
		if failed < domain.MaxPaymentAttempts {
			return nil
		}

		if err := tx.Lease().UpdateLeaseStatus(ctx, leaseID, domain.LeaseDefaulted); err != nil {
			return err
		}
		event = domain.NewLeaseDefaulted(leaseID)
		_, err = ledger.NewPersister(tx.Ledger()).Persist(ctx, event)
		return err
	})
	if err != nil {
		return false, err
	}
	if event == nil {
		return false, nil
	}

	s.publish(ctx, event, domain.TopicLeaseEvents)
	s.logger.Warn("Defaulted lease", "lease_id", leaseID)
	return true, nil
}

func (s *Service) sumPaid(ctx context.Context, tx relationaldb.TransactionContext, leaseID uuid.UUID) (decimal.Decimal, error) {
	paid, err := tx.Payment().GetPaymentsByLeaseAndStatus(ctx, leaseID, domain.PaymentPaid, 0, domain.MaxTermMonths+1)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, payment := range paid {
		total = total.Add(payment.Amount)
	}
	return total, nil
}

// publish broadcasts a committed event. Publish failures are logged and
// swallowed: the ledger record already exists and consumers reconcile
// from it.
func (s *Service) publish(ctx context.Context, event domain.Event, topic string) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.Publish(ctx, event, topic); err != nil {
		s.logger.Error("Post-commit publish failed",
			"event_type", string(event.Type()), "topic", topic, "error", err)
	}
}
