// Package memory provides an in-memory implementation of the repository
// interfaces. It backs unit tests and embedded runs where no PostgreSQL
// server is available. Transactions are serialized: Begin takes the
// store lock and holds it until Commit or Rollback, with Rollback
// restoring a snapshot taken at Begin.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/leasify/leased/internal/domain"
	"github.com/leasify/leased/internal/storage/relationaldb"
)

type store struct {
	mu sync.Mutex

	leases      map[uuid.UUID]*domain.Lease
	payments    map[uuid.UUID]*domain.Payment
	ledger      []domain.LedgerEntry
	nextSeq     int64
	idempotency map[string]*domain.IdempotencyKey
}

func newStore() *store {
	return &store{
		leases:      make(map[uuid.UUID]*domain.Lease),
		payments:    make(map[uuid.UUID]*domain.Payment),
		idempotency: make(map[string]*domain.IdempotencyKey),
		nextSeq:     1,
	}
}

func (s *store) snapshot() *store {
	snap := newStore()
	snap.nextSeq = s.nextSeq
	for id, lease := range s.leases {
		copied := *lease
		snap.leases[id] = &copied
	}
	for id, payment := range s.payments {
		copied := *payment
		snap.payments[id] = &copied
	}
	snap.ledger = append([]domain.LedgerEntry(nil), s.ledger...)
	for key, record := range s.idempotency {
		copied := *record
		snap.idempotency[key] = &copied
	}
	return snap
}

func (s *store) restore(snap *store) {
	s.leases = snap.leases
	s.payments = snap.payments
	s.ledger = snap.ledger
	s.nextSeq = snap.nextSeq
	s.idempotency = snap.idempotency
}

// RepositoryManager is an in-memory implementation of
// relationaldb.RepositoryManager.
type RepositoryManager struct {
	store *store

	leaseRepo       *LeaseRepository
	paymentRepo     *PaymentRepository
	ledgerRepo      *LedgerRepository
	idempotencyRepo *IdempotencyRepository
	systemRepo      *SystemRepository
}

// NewRepositoryManager creates a new in-memory repository manager
func NewRepositoryManager() *RepositoryManager {
	s := newStore()
	return &RepositoryManager{
		store:           s,
		leaseRepo:       &LeaseRepository{store: s, locked: false},
		paymentRepo:     &PaymentRepository{store: s, locked: false},
		ledgerRepo:      &LedgerRepository{store: s, locked: false},
		idempotencyRepo: &IdempotencyRepository{store: s, locked: false},
		systemRepo:      &SystemRepository{store: s},
	}
}

func (rm *RepositoryManager) Open(ctx context.Context) error  { return nil }
func (rm *RepositoryManager) Close(ctx context.Context) error { return nil }

func (rm *RepositoryManager) Lease() relationaldb.LeaseRepository             { return rm.leaseRepo }
func (rm *RepositoryManager) Payment() relationaldb.PaymentRepository         { return rm.paymentRepo }
func (rm *RepositoryManager) Ledger() relationaldb.LedgerRepository           { return rm.ledgerRepo }
func (rm *RepositoryManager) Idempotency() relationaldb.IdempotencyRepository { return rm.idempotencyRepo }
func (rm *RepositoryManager) System() relationaldb.SystemRepository           { return rm.systemRepo }

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
		tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

// SystemRepository implements connection-level operations in memory
type SystemRepository struct {
	store *store
}

func (r *SystemRepository) Ping(ctx context.Context) error { return nil }

func (r *SystemRepository) Begin(ctx context.Context) (relationaldb.TransactionContext, error) {
	r.store.mu.Lock()
	return &TransactionContext{
		store:       r.store,
		snap:        r.store.snapshot(),
		lease:       &LeaseRepository{store: r.store, locked: true},
		payment:     &PaymentRepository{store: r.store, locked: true},
		ledger:      &LedgerRepository{store: r.store, locked: true},
		idempotency: &IdempotencyRepository{store: r.store, locked: true},
	}, nil
}

// TransactionContext holds the store lock from Begin until Commit or
// Rollback. Rollback restores the snapshot taken at Begin.
type TransactionContext struct {
	store  *store
	snap   *store
	closed bool

	lease       *LeaseRepository
	payment     *PaymentRepository
	ledger      *LedgerRepository
	idempotency *IdempotencyRepository
}

func (t *TransactionContext) Commit(ctx context.Context) error {
	if t.closed {
		return relationaldb.NewTransactionError("commit", "transaction already closed", relationaldb.ErrTransactionClosed)
	}
	t.closed = true
	t.store.mu.Unlock()
	return nil
}

func (t *TransactionContext) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.store.restore(t.snap)
	t.store.mu.Unlock()
	return nil
}

func (t *TransactionContext) Lease() relationaldb.LeaseRepository             { return t.lease }
func (t *TransactionContext) Payment() relationaldb.PaymentRepository         { return t.payment }
func (t *TransactionContext) Ledger() relationaldb.LedgerRepository           { return t.ledger }
func (t *TransactionContext) Idempotency() relationaldb.IdempotencyRepository { return t.idempotency }

// LeaseRepository implements the LeaseRepository interface in memory.
// locked repositories run inside a transaction that already holds the
// store lock.
type LeaseRepository struct {
	store  *store
	locked bool
}

func (r *LeaseRepository) lock() func() {
	if r.locked {
		return func() {}
	}
	r.store.mu.Lock()
	return r.store.mu.Unlock
}

func (r *LeaseRepository) CreateLease(ctx context.Context, lease *domain.Lease) error {
	defer r.lock()()

	if lease.ID == uuid.Nil {
		lease.ID = uuid.New()
	}
	if _, exists := r.store.leases[lease.ID]; exists {
		return relationaldb.NewConstraintError("create_lease", "lease already exists", nil)
	}

	now := time.Now().UTC()
	if lease.CreatedAt.IsZero() {
		lease.CreatedAt = now
	}
	lease.UpdatedAt = now

	copied := *lease
	r.store.leases[lease.ID] = &copied
	return nil
}

func (r *LeaseRepository) GetLease(ctx context.Context, id uuid.UUID) (*domain.Lease, error) {
	defer r.lock()()

	lease, ok := r.store.leases[id]
	if !ok {
		return nil, relationaldb.NewDataError("get_lease", "lease not found", relationaldb.ErrLeaseNotFound)
	}
	copied := *lease
	return &copied, nil
}

// GetLeaseForUpdate behaves like GetLease: the transaction already
// serializes writers in this backend.
func (r *LeaseRepository) GetLeaseForUpdate(ctx context.Context, id uuid.UUID) (*domain.Lease, error) {
	defer r.lock()()

	lease, ok := r.store.leases[id]
	if !ok {
		return nil, relationaldb.NewDataError("get_lease_for_update", "lease not found", relationaldb.ErrLeaseNotFound)
	}
	copied := *lease
	return &copied, nil
}

func (r *LeaseRepository) selectLeases(match func(*domain.Lease) bool, skip, limit int) []domain.Lease {
	var leases []domain.Lease
	for _, lease := range r.store.leases {
		if match(lease) {
			leases = append(leases, *lease)
		}
	}
	sort.Slice(leases, func(i, j int) bool {
		return leases[i].CreatedAt.Before(leases[j].CreatedAt)
	})
	return paginate(leases, skip, limit)
}

func (r *LeaseRepository) GetLeasesByCustomer(ctx context.Context, customerID string, skip, limit int) ([]domain.Lease, error) {
	defer r.lock()()
	return r.selectLeases(func(l *domain.Lease) bool {
		return l.CustomerID == customerID
	}, skip, limit), nil
}

func (r *LeaseRepository) GetLeasesByStatus(ctx context.Context, status domain.LeaseStatus, skip, limit int) ([]domain.Lease, error) {
	defer r.lock()()
	return r.selectLeases(func(l *domain.Lease) bool {
		return l.Status == status
	}, skip, limit), nil
}

func (r *LeaseRepository) GetLeasesByCustomerAndStatus(ctx context.Context, customerID string, status domain.LeaseStatus, skip, limit int) ([]domain.Lease, error) {
	defer r.lock()()
	return r.selectLeases(func(l *domain.Lease) bool {
		return l.CustomerID == customerID && l.Status == status
	}, skip, limit), nil
}

func (r *LeaseRepository) UpdateLeaseStatus(ctx context.Context, id uuid.UUID, status domain.LeaseStatus) error {
	defer r.lock()()

	lease, ok := r.store.leases[id]
	if !ok {
		return relationaldb.NewDataError("update_lease_status", "lease not found", relationaldb.ErrLeaseNotFound)
	}
	lease.Status = status
	lease.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *LeaseRepository) CountLeasesByStatus(ctx context.Context, status domain.LeaseStatus) (int64, error) {
	defer r.lock()()

	var count int64
	for _, lease := range r.store.leases {
		if lease.Status == status {
			count++
		}
	}
	return count, nil
}

// PaymentRepository implements the PaymentRepository interface in memory
type PaymentRepository struct {
	store  *store
	locked bool
}

func (r *PaymentRepository) lock() func() {
	if r.locked {
		return func() {}
	}
	r.store.mu.Lock()
	return r.store.mu.Unlock
}

func (r *PaymentRepository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	defer r.lock()()

	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	if _, ok := r.store.leases[payment.LeaseID]; !ok {
		return relationaldb.NewConstraintError("create_payment", "lease does not exist", nil)
	}
	for _, existing := range r.store.payments {
		if existing.LeaseID == payment.LeaseID && existing.InstallmentNumber == payment.InstallmentNumber {
			return relationaldb.NewConstraintError("create_payment", "installment already exists for lease", nil)
		}
	}

	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now

	copied := *payment
	r.store.payments[payment.ID] = &copied
	return nil
}

func (r *PaymentRepository) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	defer r.lock()()

	payment, ok := r.store.payments[id]
	if !ok {
		return nil, relationaldb.NewDataError("get_payment", "payment not found", relationaldb.ErrPaymentNotFound)
	}
	copied := *payment
	return &copied, nil
}

func (r *PaymentRepository) selectPayments(match func(*domain.Payment) bool) []domain.Payment {
	var payments []domain.Payment
	for _, payment := range r.store.payments {
		if match(payment) {
			payments = append(payments, *payment)
		}
	}
	sort.Slice(payments, func(i, j int) bool {
		if payments[i].LeaseID != payments[j].LeaseID {
			return payments[i].CreatedAt.Before(payments[j].CreatedAt)
		}
		return payments[i].InstallmentNumber < payments[j].InstallmentNumber
	})
	return payments
}

func (r *PaymentRepository) GetPaymentsByLease(ctx context.Context, leaseID uuid.UUID, skip, limit int) ([]domain.Payment, error) {
	defer r.lock()()
	payments := r.selectPayments(func(p *domain.Payment) bool {
		return p.LeaseID == leaseID
	})
	return paginate(payments, skip, limit), nil
}

func (r *PaymentRepository) GetPaymentsByLeaseAndStatus(ctx context.Context, leaseID uuid.UUID, status domain.PaymentStatus, skip, limit int) ([]domain.Payment, error) {
	defer r.lock()()
	payments := r.selectPayments(func(p *domain.Payment) bool {
		return p.LeaseID == leaseID && p.Status == status
	})
	return paginate(payments, skip, limit), nil
}

func (r *PaymentRepository) GetDuePayments(ctx context.Context, dueBefore time.Time, status domain.PaymentStatus, skip, limit int) ([]domain.Payment, error) {
	defer r.lock()()
	payments := r.selectPayments(func(p *domain.Payment) bool {
		return p.Status == status && !p.DueDate.After(dueBefore)
	})
	sort.Slice(payments, func(i, j int) bool {
		if !payments[i].DueDate.Equal(payments[j].DueDate) {
			return payments[i].DueDate.Before(payments[j].DueDate)
		}
		return payments[i].InstallmentNumber < payments[j].InstallmentNumber
	})
	return paginate(payments, skip, limit), nil
}

func (r *PaymentRepository) GetNextPendingPayment(ctx context.Context, leaseID uuid.UUID) (*domain.Payment, error) {
	defer r.lock()()

	var next *domain.Payment
	for _, payment := range r.store.payments {
		if payment.LeaseID != leaseID || payment.Status != domain.PaymentPending {
			continue
		}
		if next == nil || payment.DueDate.Before(next.DueDate) ||
			(payment.DueDate.Equal(next.DueDate) && payment.InstallmentNumber < next.InstallmentNumber) {
			next = payment
		}
	}
	if next == nil {
		return nil, nil
	}
	copied := *next
	return &copied, nil
}

func (r *PaymentRepository) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status domain.PaymentStatus, update relationaldb.PaymentUpdate) error {
	defer r.lock()()

	payment, ok := r.store.payments[id]
	if !ok {
		return relationaldb.NewDataError("update_payment_status", "payment not found", relationaldb.ErrPaymentNotFound)
	}
	payment.Status = status
	if update.RetryCount != nil {
		payment.RetryCount = *update.RetryCount
	}
	if update.LastAttemptAt != nil {
		t := *update.LastAttemptAt
		payment.LastAttemptAt = &t
	}
	payment.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *PaymentRepository) CountPaymentsByLeaseAndStatus(ctx context.Context, leaseID uuid.UUID, status domain.PaymentStatus) (int64, error) {
	defer r.lock()()

	var count int64
	for _, payment := range r.store.payments {
		if payment.LeaseID == leaseID && payment.Status == status {
			count++
		}
	}
	return count, nil
}

// LedgerRepository implements the append-only event log in memory
type LedgerRepository struct {
	store  *store
	locked bool
}

func (r *LedgerRepository) lock() func() {
	if r.locked {
		return func() {}
	}
	r.store.mu.Lock()
	return r.store.mu.Unlock
}

func (r *LedgerRepository) Append(ctx context.Context, leaseID uuid.UUID, eventType domain.EventType, payload map[string]interface{}, amount *decimal.Decimal) (*domain.LedgerEntry, error) {
	defer r.lock()()

	if payload == nil {
		payload = map[string]interface{}{}
	}
	entry := domain.LedgerEntry{
		SequenceNumber: r.store.nextSeq,
		LeaseID:        leaseID,
		EventType:      eventType,
		EventPayload:   payload,
		Amount:         amount,
		CreatedAt:      time.Now().UTC(),
	}
	r.store.nextSeq++
	r.store.ledger = append(r.store.ledger, entry)

	copied := entry
	return &copied, nil
}

func (r *LedgerRepository) selectEntries(match func(*domain.LedgerEntry) bool, skip, limit int) []domain.LedgerEntry {
	var entries []domain.LedgerEntry
	for i := range r.store.ledger {
		if match(&r.store.ledger[i]) {
			entries = append(entries, r.store.ledger[i])
		}
	}
	return paginate(entries, skip, limit)
}

func (r *LedgerRepository) GetLeaseHistory(ctx context.Context, leaseID uuid.UUID, skip, limit int) ([]domain.LedgerEntry, error) {
	defer r.lock()()
	return r.selectEntries(func(e *domain.LedgerEntry) bool {
		return e.LeaseID == leaseID
	}, skip, limit), nil
}

func (r *LedgerRepository) GetByEventType(ctx context.Context, eventType domain.EventType, skip, limit int) ([]domain.LedgerEntry, error) {
	defer r.lock()()
	return r.selectEntries(func(e *domain.LedgerEntry) bool {
		return e.EventType == eventType
	}, skip, limit), nil
}

func (r *LedgerRepository) GetLeaseHistoryByEventType(ctx context.Context, leaseID uuid.UUID, eventType domain.EventType, skip, limit int) ([]domain.LedgerEntry, error) {
	defer r.lock()()
	return r.selectEntries(func(e *domain.LedgerEntry) bool {
		return e.LeaseID == leaseID && e.EventType == eventType
	}, skip, limit), nil
}

func (r *LedgerRepository) GetAll(ctx context.Context, skip, limit int) ([]domain.LedgerEntry, error) {
	defer r.lock()()
	return r.selectEntries(func(*domain.LedgerEntry) bool { return true }, skip, limit), nil
}

func (r *LedgerRepository) CountForLease(ctx context.Context, leaseID uuid.UUID) (int64, error) {
	defer r.lock()()

	var count int64
	for i := range r.store.ledger {
		if r.store.ledger[i].LeaseID == leaseID {
			count++
		}
	}
	return count, nil
}

func (r *LedgerRepository) CountByEventType(ctx context.Context, eventType domain.EventType) (int64, error) {
	defer r.lock()()

	var count int64
	for i := range r.store.ledger {
		if r.store.ledger[i].EventType == eventType {
			count++
		}
	}
	return count, nil
}

func (r *LedgerRepository) SumAmountForLease(ctx context.Context, leaseID uuid.UUID) (decimal.Decimal, error) {
	defer r.lock()()

	sum := decimal.Zero
	for i := range r.store.ledger {
		entry := &r.store.ledger[i]
		if entry.LeaseID == leaseID && entry.Amount != nil {
			sum = sum.Add(*entry.Amount)
		}
	}
	return sum, nil
}

func (r *LedgerRepository) UpdateEntry(ctx context.Context, sequenceNumber int64, payload map[string]interface{}) error {
	return domain.NewImmutableLedgerError("update_entry", "ledger entries cannot be modified")
}

func (r *LedgerRepository) DeleteEntry(ctx context.Context, sequenceNumber int64) error {
	return domain.NewImmutableLedgerError("delete_entry", "ledger entries cannot be deleted")
}

// IdempotencyRepository implements the IdempotencyRepository interface in memory
type IdempotencyRepository struct {
	store  *store
	locked bool
}

func (r *IdempotencyRepository) lock() func() {
	if r.locked {
		return func() {}
	}
	r.store.mu.Lock()
	return r.store.mu.Unlock
}

func (r *IdempotencyRepository) CheckAndStore(ctx context.Context, key, operation string, ttl time.Duration) (relationaldb.CheckResult, map[string]interface{}, error) {
	defer r.lock()()

	now := time.Now().UTC()
	if existing, ok := r.store.idempotency[key]; ok && !existing.Expired(now) {
		if existing.ResponsePayload == nil {
			return relationaldb.CheckInFlight, nil, nil
		}
		return relationaldb.CheckReplayed, existing.ResponsePayload, nil
	}

	r.store.idempotency[key] = &domain.IdempotencyKey{
		Key:       key,
		Operation: operation,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	return relationaldb.CheckNew, nil, nil
}

func (r *IdempotencyRepository) StoreResponse(ctx context.Context, key string, payload map[string]interface{}) error {
	defer r.lock()()

	record, ok := r.store.idempotency[key]
	if !ok {
		return relationaldb.NewDataError("store_response", "idempotency key not found", relationaldb.ErrKeyNotFound)
	}
	record.ResponsePayload = payload
	return nil
}

func (r *IdempotencyRepository) GetKey(ctx context.Context, key string) (*domain.IdempotencyKey, error) {
	defer r.lock()()

	record, ok := r.store.idempotency[key]
	if !ok {
		return nil, relationaldb.NewDataError("get_key", "idempotency key not found", relationaldb.ErrKeyNotFound)
	}
	copied := *record
	return &copied, nil
}

func (r *IdempotencyRepository) DeleteKey(ctx context.Context, key string) (bool, error) {
	defer r.lock()()

	_, ok := r.store.idempotency[key]
	delete(r.store.idempotency, key)
	return ok, nil
}

func (r *IdempotencyRepository) DeleteExpired(ctx context.Context) (int64, error) {
	defer r.lock()()

	now := time.Now().UTC()
	var deleted int64
	for key, record := range r.store.idempotency {
		if record.Expired(now) {
			delete(r.store.idempotency, key)
			deleted++
		}
	}
	return deleted, nil
}

func paginate[T any](items []T, skip, limit int) []T {
	if skip >= len(items) {
		return nil
	}
	items = items[skip:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
