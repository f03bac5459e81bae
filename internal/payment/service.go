package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/leasify/leased/internal/domain"
	"github.com/leasify/leased/internal/eventbus"
	"github.com/leasify/leased/internal/ledger"
	"github.com/leasify/leased/internal/retry"
	"github.com/leasify/leased/internal/schedule"
	"github.com/leasify/leased/internal/storage/relationaldb"
)

// TaskPaymentRetry is the delay-queue task kind for deferred payment
// attempts.
const TaskPaymentRetry = "payment_retry"

// DefaultChargeTimeout bounds a single gateway charge. A charge that
// outlives it counts as a failed attempt with a network-timeout reason.
const DefaultChargeTimeout = 10 * time.Second

// Lifecycle is the lease coordinator the executor notifies after
// outcomes land: completion after a success, default evaluation after
// the attempt budget is spent, activation when a plan is announced.
type Lifecycle interface {
	CheckAndActivate(ctx context.Context, leaseID uuid.UUID) (bool, error)
	CheckAndComplete(ctx context.Context, leaseID uuid.UUID) (bool, error)
	CheckAndDefault(ctx context.Context, leaseID uuid.UUID) (bool, error)
}

// AttemptResult is the outcome of one payment attempt.
type AttemptResult struct {
	Payment        *domain.Payment
	Outcome        Outcome
	TransactionID  string
	Reason         string
	AttemptNumber  int
	RetryScheduled bool
	NextRetryAt    *time.Time
}

// PayoffResult is the outcome of an early payoff.
type PayoffResult struct {
	Quote             schedule.PayoffQuote
	Payment           *domain.Payment
	TransactionID     string
	CancelledPayments int
}

// Service executes payment attempts against the gateway. Each outcome
// commits the installment row update and its ledger entry in one
// transaction, then notifies the bus and the lease coordinator.
type Service struct {
	repos         relationaldb.RepositoryManager
	gateway       Gateway
	lifecycle     Lifecycle
	publisher     eventbus.Publisher
	queue         retry.DelayQueue
	retryConfig   retry.Config
	chargeTimeout time.Duration
	logger        eventbus.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger eventbus.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithRetryConfig overrides the backoff profile for failed attempts.
func WithRetryConfig(config retry.Config) Option {
	return func(s *Service) { s.retryConfig = config }
}

// WithChargeTimeout overrides the per-charge gateway deadline.
func WithChargeTimeout(timeout time.Duration) Option {
	return func(s *Service) { s.chargeTimeout = timeout }
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// NewService creates a payment executor.
func NewService(repos relationaldb.RepositoryManager, gateway Gateway, lifecycle Lifecycle, publisher eventbus.Publisher, queue retry.DelayQueue, options ...Option) *Service {
	s := &Service{
		repos:         repos,
		gateway:       gateway,
		lifecycle:     lifecycle,
		publisher:     publisher,
		queue:         queue,
		retryConfig:   retry.PaymentConfig(),
		chargeTimeout: DefaultChargeTimeout,
		logger:        nopLogger{},
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Attempt runs attempt number attemptNumber for a payment. The
// PAYMENT_ATTEMPTED entry is appended before the charge; the outcome
// entry and the installment row update commit together afterwards. A
// failed attempt under the budget enqueues the next one on the delay
// queue; the third failure hands the lease to the default check.
func (s *Service) Attempt(ctx context.Context, paymentID uuid.UUID, attemptNumber int) (*AttemptResult, error) {
	payment, err := s.repos.Payment().GetPayment(ctx, paymentID)
	if err != nil {
		if relationaldb.IsNotFound(err) {
			return nil, domain.NewNotFoundError("attempt_payment", "payment not found", err)
		}
		return nil, err
	}

	switch payment.Status {
	case domain.PaymentPending, domain.PaymentFailed:
	default:
		return nil, domain.NewValidationError("attempt_payment",
			"payment is not attemptable in status "+string(payment.Status))
	}

	if attemptNumber < 1 {
		attemptNumber = payment.RetryCount + 1
	}
	if attemptNumber > domain.MaxPaymentAttempts {
		return nil, domain.NewPaymentExhaustedError("attempt_payment",
			"payment has spent its attempt budget")
	}

	leaseRow, err := s.repos.Lease().GetLease(ctx, payment.LeaseID)
	if err != nil {
		if relationaldb.IsNotFound(err) {
			return nil, domain.NewNotFoundError("attempt_payment", "lease not found", err)
		}
		return nil, err
	}

	attempted := domain.NewPaymentAttempted(payment.ID, payment.LeaseID, attemptNumber)
	if _, err := ledger.NewPersister(s.repos.Ledger()).Persist(ctx, attempted); err != nil {
		return nil, err
	}
	s.publish(ctx, attempted, domain.TopicPaymentEvents)

	result := s.charge(ctx, payment, leaseRow.CustomerID, attemptNumber)

	if result.Outcome.Succeeded() {
		if err := s.recordSuccess(ctx, payment, attemptNumber, result); err != nil {
			return nil, err
		}
	} else {
		if err := s.recordFailure(ctx, payment, attemptNumber, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// charge submits to the gateway under the charge deadline. Any
// transport error or timeout counts as a failed attempt.
func (s *Service) charge(ctx context.Context, payment *domain.Payment, customerID string, attemptNumber int) *AttemptResult {
	chargeCtx, cancel := context.WithTimeout(ctx, s.chargeTimeout)
	defer cancel()

	outcome, err := s.gateway.Charge(chargeCtx, ChargeRequest{
		PaymentID:     payment.ID,
		LeaseID:       payment.LeaseID,
		Amount:        payment.Amount,
		CustomerID:    customerID,
		AttemptNumber: attemptNumber,
	})
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "Network timeout"
		}
		return &AttemptResult{
			Payment:       payment,
			Outcome:       OutcomeFailure,
			Reason:        reason,
			AttemptNumber: attemptNumber,
		}
	}

	return &AttemptResult{
		Payment:       payment,
		Outcome:       outcome.Outcome,
		TransactionID: outcome.TransactionID,
		Reason:        outcome.Reason,
		AttemptNumber: attemptNumber,
	}
}

func (s *Service) recordSuccess(ctx context.Context, payment *domain.Payment, attemptNumber int, result *AttemptResult) error {
	now := time.Now().UTC()
	retries := attemptNumber - 1
	event := domain.NewPaymentSucceeded(payment.ID, payment.LeaseID, payment.Amount)

	err := s.repos.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		if err := tx.Payment().UpdatePaymentStatus(ctx, payment.ID, domain.PaymentPaid, relationaldb.PaymentUpdate{
			RetryCount:    &retries,
			LastAttemptAt: &now,
		}); err != nil {
			return err
		}
		entry, err := ledger.NewPersister(tx.Ledger()).Persist(ctx, event)
		if err != nil {
			return err
		}
		// The bus copy carries the sequence of its own ledger record.
		event.LedgerEntryID = entry.SequenceNumber
		return nil
	})
	if err != nil {
		return err
	}

	payment.Status = domain.PaymentPaid
	payment.RetryCount = retries
	payment.LastAttemptAt = &now

	s.publish(ctx, event, domain.TopicPaymentEvents)
	s.logger.Info("Payment succeeded",
		"payment_id", payment.ID, "lease_id", payment.LeaseID,
		"amount", payment.Amount.StringFixed(2), "attempt", attemptNumber,
		"transaction_id", result.TransactionID)

	if s.lifecycle != nil {
		if _, err := s.lifecycle.CheckAndComplete(ctx, payment.LeaseID); err != nil {
			s.logger.Error("Completion check failed", "lease_id", payment.LeaseID, "error", err)
		}
	}
	return nil
}

func (s *Service) recordFailure(ctx context.Context, payment *domain.Payment, attemptNumber int, result *AttemptResult) error {
	now := time.Now().UTC()

	var nextRetryAt *time.Time
	if attemptNumber < domain.MaxPaymentAttempts {
		next := s.retryConfig.NextTime(attemptNumber - 1)
		nextRetryAt = &next
	}
	event := domain.NewPaymentFailed(payment.ID, payment.LeaseID, result.Reason, attemptNumber, nextRetryAt)

	err := s.repos.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		if err := tx.Payment().UpdatePaymentStatus(ctx, payment.ID, domain.PaymentFailed, relationaldb.PaymentUpdate{
			RetryCount:    &attemptNumber,
			LastAttemptAt: &now,
		}); err != nil {
			return err
		}
		_, err := ledger.NewPersister(tx.Ledger()).Persist(ctx, event)
		return err
	})
	if err != nil {
		return err
	}

	payment.Status = domain.PaymentFailed
	payment.RetryCount = attemptNumber
	payment.LastAttemptAt = &now
	result.RetryScheduled = nextRetryAt != nil
	result.NextRetryAt = nextRetryAt

	s.publish(ctx, event, domain.TopicPaymentEvents)
	s.logger.Warn("Payment failed",
		"payment_id", payment.ID, "lease_id", payment.LeaseID,
		"attempt", attemptNumber, "reason", result.Reason,
		"retry_scheduled", result.RetryScheduled)

	if nextRetryAt != nil {
		if s.queue != nil {
			task := retry.NewTask(TaskPaymentRetry, map[string]interface{}{
				"payment_id":     payment.ID.String(),
				"lease_id":       payment.LeaseID.String(),
				"attempt_number": attemptNumber + 1,
			}, *nextRetryAt)
			if err := s.queue.Enqueue(ctx, task); err != nil {
				s.logger.Error("Failed to enqueue payment retry",
					"payment_id", payment.ID, "error", err)
			}
		}
		return nil
	}

	if s.lifecycle != nil {
		if _, err := s.lifecycle.CheckAndDefault(ctx, payment.LeaseID); err != nil {
			s.logger.Error("Default check failed", "lease_id", payment.LeaseID, "error", err)
		}
	}
	return nil
}

// ExecuteTask runs a delay-queue task. Unknown kinds and malformed
// payloads are errors; the dispatcher decides whether to dead-letter
// them.
func (s *Service) ExecuteTask(ctx context.Context, task retry.Task) error {
	if task.Kind != TaskPaymentRetry {
		return domain.NewValidationError("execute_task", "unknown task kind: "+task.Kind)
	}

	paymentID, err := uuid.Parse(cast.ToString(task.Payload["payment_id"]))
	if err != nil {
		return domain.NewValidationError("execute_task", "task has no usable payment id", err)
	}
	attemptNumber := cast.ToInt(task.Payload["attempt_number"])

	_, err = s.Attempt(ctx, paymentID, attemptNumber)
	return err
}

// ScheduleForLease announces a lease's plan: one PAYMENT_SCHEDULED
// ledger entry per installment, appended in a single transaction, then
// published. The lease is activated once the plan is out.
func (s *Service) ScheduleForLease(ctx context.Context, leaseID uuid.UUID) (int, error) {
	payments, err := s.repos.Payment().GetPaymentsByLease(ctx, leaseID, 0, domain.MaxTermMonths)
	if err != nil {
		return 0, err
	}
	if len(payments) == 0 {
		return 0, domain.NewNotFoundError("schedule_payments", "lease has no payment plan")
	}

	events := make([]*domain.PaymentScheduledEvent, 0, len(payments))
	for i := range payments {
		events = append(events, domain.NewPaymentScheduled(&payments[i]))
	}

	err = s.repos.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		persister := ledger.NewPersister(tx.Ledger())
		for _, event := range events {
			if _, err := persister.Persist(ctx, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, event := range events {
		s.publish(ctx, event, domain.TopicPaymentEvents)
	}

	if s.lifecycle != nil {
		if _, err := s.lifecycle.CheckAndActivate(ctx, leaseID); err != nil {
			s.logger.Error("Activation check failed", "lease_id", leaseID, "error", err)
		}
	}

	s.logger.Info("Scheduled payments", "lease_id", leaseID, "installments", len(events))
	return len(events), nil
}

// ProcessDue attempts every PENDING payment due on or before now, each
// at its next attempt number. Per-payment failures are logged and do
// not stop the sweep; the count of attempted payments is returned.
func (s *Service) ProcessDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.repos.Payment().GetDuePayments(ctx, now, domain.PaymentPending, 0, limit)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for i := range due {
		payment := &due[i]
		if _, err := s.Attempt(ctx, payment.ID, payment.RetryCount+1); err != nil {
			s.logger.Error("Due payment attempt failed",
				"payment_id", payment.ID, "lease_id", payment.LeaseID, "error", err)
			continue
		}
		attempted++
	}
	return attempted, nil
}

// ProcessEarlyPayoff settles a lease's remaining balance in one charge
// at a discount. On success the payoff installment, the cancellation of
// every open installment, the status walk to COMPLETED and both ledger
// entries commit together.
func (s *Service) ProcessEarlyPayoff(ctx context.Context, leaseID uuid.UUID) (*PayoffResult, error) {
	lease, err := s.repos.Lease().GetLease(ctx, leaseID)
	if err != nil {
		if relationaldb.IsNotFound(err) {
			return nil, domain.NewNotFoundError("early_payoff", "lease not found", err)
		}
		return nil, err
	}
	if lease.Status != domain.LeasePending && lease.Status != domain.LeaseActive {
		return nil, domain.NewInvalidTransitionError("early_payoff",
			"lease cannot be paid off in status "+string(lease.Status))
	}

	payments, err := s.repos.Payment().GetPaymentsByLease(ctx, leaseID, 0, domain.MaxTermMonths+1)
	if err != nil {
		return nil, err
	}

	remaining := schedule.RemainingBalance(payments)
	if !remaining.IsPositive() {
		return nil, domain.NewValidationError("early_payoff", "lease has no remaining balance")
	}
	quote := schedule.CalculatePayoff(remaining)

	now := time.Now().UTC()
	payoff := &domain.Payment{
		ID:      uuid.New(),
		LeaseID: leaseID,
		DueDate: now,
		Amount:  quote.PayoffAmount,
		Status:  domain.PaymentPending,
	}

	chargeCtx, cancel := context.WithTimeout(ctx, s.chargeTimeout)
	outcome, err := s.gateway.Charge(chargeCtx, ChargeRequest{
		PaymentID:     payoff.ID,
		LeaseID:       leaseID,
		Amount:        quote.PayoffAmount,
		CustomerID:    lease.CustomerID,
		AttemptNumber: 1,
	})
	cancel()
	if err != nil {
		return nil, domain.NewGatewayError("early_payoff", "payoff charge failed", err)
	}
	if !outcome.Outcome.Succeeded() {
		return nil, domain.NewGatewayError("early_payoff", "payoff charge declined: "+outcome.Reason)
	}

	var cancelled int
	totalPaid := quote.PayoffAmount
	succeededEvent := domain.NewPaymentSucceeded(payoff.ID, leaseID, quote.PayoffAmount)
	var completedEvent *domain.LeaseCompletedEvent

	err = s.repos.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		locked, err := tx.Lease().GetLeaseForUpdate(ctx, leaseID)
		if err != nil {
			return err
		}
		if locked.Status != domain.LeasePending && locked.Status != domain.LeaseActive {
			return domain.NewConflictError("early_payoff",
				"lease status changed during payoff to "+string(locked.Status))
		}

		// Re-read under the lease lock. A concurrent settlement between
		// the quote and this transaction invalidates the charged amount.
		payments, err = tx.Payment().GetPaymentsByLease(ctx, leaseID, 0, domain.MaxTermMonths+1)
		if err != nil {
			return err
		}
		if !schedule.RemainingBalance(payments).Equal(quote.RemainingBalance) {
			return domain.NewConflictError("early_payoff",
				"payment plan changed during payoff")
		}

		payoff.InstallmentNumber = len(payments) + 1
		if err := tx.Payment().CreatePayment(ctx, payoff); err != nil {
			return err
		}
		zero := 0
		if err := tx.Payment().UpdatePaymentStatus(ctx, payoff.ID, domain.PaymentPaid, relationaldb.PaymentUpdate{
			RetryCount:    &zero,
			LastAttemptAt: &now,
		}); err != nil {
			return err
		}

		for i := range payments {
			p := &payments[i]
			switch p.Status {
			case domain.PaymentPending, domain.PaymentFailed:
				if err := tx.Payment().UpdatePaymentStatus(ctx, p.ID, domain.PaymentCancelled, relationaldb.PaymentUpdate{}); err != nil {
					return err
				}
				cancelled++
			case domain.PaymentPaid:
				totalPaid = totalPaid.Add(p.Amount)
			}
		}

		if locked.Status == domain.LeasePending {
			if err := tx.Lease().UpdateLeaseStatus(ctx, leaseID, domain.LeaseActive); err != nil {
				return err
			}
		}
		if err := tx.Lease().UpdateLeaseStatus(ctx, leaseID, domain.LeaseCompleted); err != nil {
			return err
		}

		persister := ledger.NewPersister(tx.Ledger())
		entry, err := persister.Persist(ctx, succeededEvent)
		if err != nil {
			return err
		}
		succeededEvent.LedgerEntryID = entry.SequenceNumber
		completedEvent = domain.NewLeaseCompleted(leaseID, lease.CustomerID, totalPaid)
		_, err = persister.Persist(ctx, completedEvent)
		return err
	})
	if err != nil {
		return nil, err
	}

	payoff.Status = domain.PaymentPaid
	payoff.LastAttemptAt = &now

	s.publish(ctx, succeededEvent, domain.TopicPaymentEvents)
	s.publish(ctx, completedEvent, domain.TopicLeaseEvents)

	s.logger.Info("Processed early payoff",
		"lease_id", leaseID, "payoff_amount", quote.PayoffAmount.StringFixed(2),
		"discount", quote.DiscountAmount.StringFixed(2), "cancelled_payments", cancelled)

	return &PayoffResult{
		Quote:             quote,
		Payment:           payoff,
		TransactionID:     outcome.TransactionID,
		CancelledPayments: cancelled,
	}, nil
}

// Quote computes the early-payoff quote without charging.
func (s *Service) Quote(ctx context.Context, leaseID uuid.UUID) (*schedule.PayoffQuote, error) {
	lease, err := s.repos.Lease().GetLease(ctx, leaseID)
	if err != nil {
		if relationaldb.IsNotFound(err) {
			return nil, domain.NewNotFoundError("payoff_quote", "lease not found", err)
		}
		return nil, err
	}
	if lease.Status != domain.LeasePending && lease.Status != domain.LeaseActive {
		return nil, domain.NewInvalidTransitionError("payoff_quote",
			"lease cannot be paid off in status "+string(lease.Status))
	}

	payments, err := s.repos.Payment().GetPaymentsByLease(ctx, leaseID, 0, domain.MaxTermMonths+1)
	if err != nil {
		return nil, err
	}
	remaining := schedule.RemainingBalance(payments)
	if !remaining.IsPositive() {
		return nil, domain.NewValidationError("payoff_quote", "lease has no remaining balance")
	}

	quote := schedule.CalculatePayoff(remaining)
	return &quote, nil
}

func (s *Service) publish(ctx context.Context, event domain.Event, topic string) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.Publish(ctx, event, topic); err != nil {
		s.logger.Error("Post-commit publish failed",
			"event_type", string(event.Type()), "topic", topic, "error", err)
	}
}

// SumPaid totals the settled installments of a plan.
func SumPaid(payments []domain.Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		if p.Status == domain.PaymentPaid {
			total = total.Add(p.Amount)
		}
	}
	return total
}
