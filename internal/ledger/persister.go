// Package ledger wraps the append-only event log: persisting typed
// events with amount extraction, and the audit queries built on top of
// the log (trails, timelines, point-in-time reconstruction, exports).
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/leasify/leased/internal/domain"
	"github.com/leasify/leased/internal/storage/relationaldb"
)

// Persister appends typed events to the ledger. It is the choke point
// between event construction and the log: every published event goes
// through here first, inside the caller's transaction, so there is
// never a published event without a ledger record.
type Persister struct {
	repo relationaldb.LedgerRepository
}

// NewPersister creates a persister over the given ledger repository.
// Pass a transaction-bound repository to append within that transaction.
func NewPersister(repo relationaldb.LedgerRepository) *Persister {
	return &Persister{repo: repo}
}

// Persist appends the event and returns the ledger entry carrying its
// allocated sequence number.
func (p *Persister) Persist(ctx context.Context, event domain.Event) (*domain.LedgerEntry, error) {
	payload, err := domain.EventPayload(event)
	if err != nil {
		return nil, err
	}

	return p.repo.Append(ctx, event.Lease(), event.Type(), payload, ExtractAmount(payload))
}

// ExtractAmount pulls the monetary amount out of an event payload.
// Field priority: principal_amount, amount, total_paid.
func ExtractAmount(payload map[string]interface{}) *decimal.Decimal {
	for _, key := range []string{"principal_amount", "amount", "total_paid"} {
		value, ok := payload[key]
		if !ok || value == nil {
			continue
		}
		amount, err := decimal.NewFromString(cast.ToString(value))
		if err != nil {
			continue
		}
		return &amount
	}
	return nil
}
