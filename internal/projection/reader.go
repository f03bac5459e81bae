package projection

import (
	"context"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/leasify/leased/internal/domain"
	"github.com/leasify/leased/internal/storage/relationaldb"
)

// historyPageSize bounds each ledger read while paging a lease history.
const historyPageSize = 1000

type cached struct {
	state LeaseProjection
	seq   int64
}

// Reader serves lease projections from the ledger with an LRU cache in
// front. A cached projection is reused only when the ledger has no
// entries newer than the cached sequence number.
type Reader struct {
	repo  relationaldb.LedgerRepository
	cache *lru.Cache[uuid.UUID, cached]
}

// NewReader creates a Reader with the given cache capacity.
func NewReader(repo relationaldb.LedgerRepository, cacheSize int) (*Reader, error) {
	cache, err := lru.New[uuid.UUID, cached](cacheSize)
	if err != nil {
		return nil, domain.NewValidationError("new_projection_reader", "invalid cache size", err)
	}
	return &Reader{repo: repo, cache: cache}, nil
}

// History pages the full event history for a lease in sequence order.
func (r *Reader) History(ctx context.Context, leaseID uuid.UUID) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for skip := 0; ; skip += historyPageSize {
		page, err := r.repo.GetLeaseHistory(ctx, leaseID, skip, historyPageSize)
		if err != nil {
			return nil, err
		}
		entries = append(entries, page...)
		if len(page) < historyPageSize {
			return entries, nil
		}
	}
}

// Current returns the present-day projection for a lease.
func (r *Reader) Current(ctx context.Context, leaseID uuid.UUID) (LeaseProjection, error) {
	count, err := r.repo.CountForLease(ctx, leaseID)
	if err != nil {
		return LeaseProjection{}, err
	}

	if entry, ok := r.cache.Get(leaseID); ok && int64(entry.state.EventCount) == count {
		return entry.state, nil
	}

	entries, err := r.History(ctx, leaseID)
	if err != nil {
		return LeaseProjection{}, err
	}

	state := Fold(entries, time.Time{})
	var lastSeq int64
	if len(entries) > 0 {
		lastSeq = entries[len(entries)-1].SequenceNumber
	}
	r.cache.Add(leaseID, cached{state: state, seq: lastSeq})

	return state, nil
}

// At returns the projection as of a point in time. Point-in-time reads
// bypass the cache.
func (r *Reader) At(ctx context.Context, leaseID uuid.UUID, pointInTime time.Time) (LeaseProjection, error) {
	entries, err := r.History(ctx, leaseID)
	if err != nil {
		return LeaseProjection{}, err
	}
	return Fold(entries, pointInTime), nil
}

// Invalidate drops the cached projection for a lease. Writers call this
// after appending new events.
func (r *Reader) Invalidate(leaseID uuid.UUID) {
	r.cache.Remove(leaseID)
}
