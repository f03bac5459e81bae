package lease

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasify/leased/internal/domain"
	"github.com/leasify/leased/internal/eventbus"
	"github.com/leasify/leased/internal/storage/relationaldb"
	"github.com/leasify/leased/internal/storage/relationaldb/memory"
)

type fixture struct {
	repos   *memory.RepositoryManager
	bus     *eventbus.MemoryBus
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos := memory.NewRepositoryManager()
	bus := eventbus.NewMemoryBus()
	return &fixture{
		repos:   repos,
		bus:     bus,
		service: NewService(repos, bus),
	}
}

func TestCreateLease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.service.CreateLease(ctx, "cust-1", decimal.NewFromInt(1000), 3, "key-1")
	require.NoError(t, err)
	require.NotNil(t, result.Lease)
	assert.False(t, result.Replayed)

	assert.Equal(t, domain.LeasePending, result.Lease.Status)
	assert.Equal(t, "cust-1", result.Lease.CustomerID)
	require.Len(t, result.Payments, 3)
	assert.Equal(t, "333.34", result.Payments[2].Amount.StringFixed(2))

	// Lease row, payment rows and the ledger entry all committed.
	stored, err := f.repos.Lease().GetLease(ctx, result.Lease.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeasePending, stored.Status)

	payments, err := f.repos.Payment().GetPaymentsByLease(ctx, result.Lease.ID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, payments, 3)

	history, err := f.repos.Ledger().GetLeaseHistory(ctx, result.Lease.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.EventLeaseCreated, history[0].EventType)
}

func TestCreateLeaseValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.CreateLease(ctx, "", decimal.NewFromInt(1000), 3, "key-1")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.service.CreateLease(ctx, "cust-1", decimal.NewFromInt(1000), 3, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.service.CreateLease(ctx, "cust-1", decimal.Zero, 3, "key-1")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.service.CreateLease(ctx, "cust-1", decimal.NewFromInt(1000), 61, "key-1")
	assert.ErrorIs(t, err, domain.ErrValidation)

	// Failed validation must not burn the idempotency key.
	_, err = f.service.CreateLease(ctx, "cust-1", decimal.NewFromInt(1000), 3, "key-1")
	assert.NoError(t, err)
}

func TestCreateLeaseIdempotencyReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.service.CreateLease(ctx, "cust-1", decimal.NewFromInt(1000), 3, "key-dup")
	require.NoError(t, err)

	second, err := f.service.CreateLease(ctx, "cust-1", decimal.NewFromInt(1000), 3, "key-dup")
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Lease.ID, second.Lease.ID)
	assert.Len(t, second.Payments, 3)

	// No second lease, plan or ledger entry was written.
	count, err := f.repos.Ledger().CountByEventType(ctx, domain.EventLeaseCreated)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCreateLeaseInFlightKeyConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Claim the key without caching a response: the state left behind
	// by a crashed or in-flight submission.
	check, _, err := f.repos.Idempotency().CheckAndStore(ctx, "key-stuck", createLeaseOperation, time.Hour)
	require.NoError(t, err)
	require.Equal(t, relationaldb.CheckNew, check)

	_, err = f.service.CreateLease(ctx, "cust-1", decimal.NewFromInt(1000), 3, "key-stuck")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUpdateStatusGuarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.service.CreateLease(ctx, "cust-1", decimal.NewFromInt(1000), 3, "key-1")
	require.NoError(t, err)
	leaseID := result.Lease.ID

	require.NoError(t, f.service.UpdateStatus(ctx, leaseID, domain.LeaseActive))

	err = f.service.UpdateStatus(ctx, leaseID, domain.LeasePending)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, f.service.UpdateStatus(ctx, leaseID, domain.LeaseCompleted))

	// Terminal states accept nothing.
	err = f.service.UpdateStatus(ctx, leaseID, domain.LeaseDefaulted)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	err = f.service.UpdateStatus(ctx, uuid.New(), domain.LeaseActive)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckAndActivate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.service.CreateLease(ctx, "cust-1", decimal.NewFromInt(1000), 3, "key-1")
	require.NoError(t, err)
	leaseID := result.Lease.ID

	activated, err := f.service.CheckAndActivate(ctx, leaseID)
	require.NoError(t, err)
	assert.True(t, activated)

	lease, err := f.repos.Lease().GetLease(ctx, leaseID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeaseActive, lease.Status)

	// Idempotent: second call is a no-op.
	activated, err = f.service.CheckAndActivate(ctx, leaseID)
	require.NoError(t, err)
	assert.False(t, activated)
}

func markAllPaid(t *testing.T, f *fixture, leaseID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	payments, err := f.repos.Payment().GetPaymentsByLease(ctx, leaseID, 0, 100)
	require.NoError(t, err)
	for _, p := range payments {
		require.NoError(t, f.repos.Payment().UpdatePaymentStatus(ctx, p.ID, domain.PaymentPaid, relationaldb.PaymentUpdate{}))
	}
}

func TestCheckAndComplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.service.CreateLease(ctx, "cust-1", decimal.NewFromInt(1000), 3, "key-1")
	require.NoError(t, err)
	leaseID := result.Lease.ID

	_, err = f.service.CheckAndActivate(ctx, leaseID)
	require.NoError(t, err)

	// Pending payments remain: not yet completable.
	completed, err := f.service.CheckAndComplete(ctx, leaseID)
	require.NoError(t, err)
	assert.False(t, completed)

	markAllPaid(t, f, leaseID)

	completed, err = f.service.CheckAndComplete(ctx, leaseID)
	require.NoError(t, err)
	assert.True(t, completed)

	lease, err := f.repos.Lease().GetLease(ctx, leaseID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeaseCompleted, lease.Status)

	// LEASE_COMPLETED carries the sum of paid installments.
	entries, err := f.repos.Ledger().GetLeaseHistoryByEventType(ctx, leaseID, domain.EventLeaseCompleted, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Amount)
	assert.Equal(t, "1000.00", entries[0].Amount.StringFixed(2))

	// Idempotent.
	completed, err = f.service.CheckAndComplete(ctx, leaseID)
	require.NoError(t, err)
	assert.False(t, completed)
}

func TestCheckAndDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.service.CreateLease(ctx, "cust-1", decimal.NewFromInt(1000), 5, "key-1")
	require.NoError(t, err)
	leaseID := result.Lease.ID

	// Under the threshold: no default.
	payments, err := f.repos.Payment().GetPaymentsByLease(ctx, leaseID, 0, 100)
	require.NoError(t, err)
	for _, p := range payments[:2] {
		require.NoError(t, f.repos.Payment().UpdatePaymentStatus(ctx, p.ID, domain.PaymentFailed, relationaldb.PaymentUpdate{}))
	}
	defaulted, err := f.service.CheckAndDefault(ctx, leaseID)
	require.NoError(t, err)
	assert.False(t, defaulted)

	// Third failure crosses it; PENDING leases can default directly.
	require.NoError(t, f.repos.Payment().UpdatePaymentStatus(ctx, payments[2].ID, domain.PaymentFailed, relationaldb.PaymentUpdate{}))
	defaulted, err = f.service.CheckAndDefault(ctx, leaseID)
	require.NoError(t, err)
	assert.True(t, defaulted)

	lease, err := f.repos.Lease().GetLease(ctx, leaseID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeaseDefaulted, lease.Status)

	entries, err := f.repos.Ledger().GetLeaseHistoryByEventType(ctx, leaseID, domain.EventLeaseDefaulted, 0, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Idempotent.
	defaulted, err = f.service.CheckAndDefault(ctx, leaseID)
	require.NoError(t, err)
	assert.False(t, defaulted)
}

func TestListByCustomer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.service.CreateLease(ctx, "cust-1", decimal.NewFromInt(1000), 3, "key-1")
	require.NoError(t, err)
	_, err = f.service.CreateLease(ctx, "cust-1", decimal.NewFromInt(500), 2, "key-2")
	require.NoError(t, err)
	_, err = f.service.CreateLease(ctx, "cust-2", decimal.NewFromInt(700), 2, "key-3")
	require.NoError(t, err)

	leases, err := f.service.ListByCustomer(ctx, "cust-1", "", 0, 10)
	require.NoError(t, err)
	assert.Len(t, leases, 2)

	_, err = f.service.CheckAndActivate(ctx, first.Lease.ID)
	require.NoError(t, err)

	leases, err = f.service.ListByCustomer(ctx, "cust-1", domain.LeaseActive, 0, 10)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	assert.Equal(t, first.Lease.ID, leases[0].ID)

	_, err = f.service.ListByCustomer(ctx, "cust-1", "BOGUS", 0, 10)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
