// Package projection reconstructs lease state from ledger history. The
// fold is pure: the same event sequence always produces the same
// projection, which makes it usable both for serving reads and for
// consistency checks against the lease rows.
package projection

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/leasify/leased/internal/domain"
)

// LeaseProjection is the state snapshot produced by folding a lease's
// event history.
type LeaseProjection struct {
	LeaseID         string          `json:"lease_id"`
	CustomerID      string          `json:"customer_id"`
	Status          string          `json:"status"`
	PrincipalAmount decimal.Decimal `json:"principal_amount"`
	TermMonths      int             `json:"term_months"`
	// TotalPaid carries the amount of the most recent successful
	// payment, not the running sum. Kept for compatibility with
	// downstream consumers; CumulativePaid holds the actual sum.
	TotalPaid        decimal.Decimal `json:"total_paid"`
	CumulativePaid   decimal.Decimal `json:"cumulative_paid"`
	PaidInstallments int             `json:"paid_installments"`
	FailedAttempts   int             `json:"failed_attempts"`
	EventCount       int             `json:"event_count"`
}

// New returns the initial projection before any events apply.
func New() LeaseProjection {
	return LeaseProjection{
		Status:          string(domain.LeasePending),
		PrincipalAmount: decimal.Zero,
		TotalPaid:       decimal.Zero,
		CumulativePaid:  decimal.Zero,
	}
}

// Fold reduces an ordered event history into a projection. Entries with
// a timestamp after until are skipped; a zero until applies everything.
func Fold(entries []domain.LedgerEntry, until time.Time) LeaseProjection {
	state := New()
	for i := range entries {
		entry := &entries[i]
		if !until.IsZero() && entry.CreatedAt.After(until) {
			continue
		}
		Apply(&state, entry)
	}
	return state
}

// Apply folds a single entry into the projection in place.
func Apply(state *LeaseProjection, entry *domain.LedgerEntry) {
	state.EventCount++
	payload := entry.EventPayload

	switch entry.EventType {
	case domain.EventLeaseCreated:
		state.LeaseID = cast.ToString(payload["lease_id"])
		state.CustomerID = cast.ToString(payload["customer_id"])
		state.PrincipalAmount = payloadAmount(payload, "principal_amount")
		state.TermMonths = cast.ToInt(payload["term_months"])
		state.Status = string(domain.LeaseActive)

	case domain.EventPaymentSucceeded:
		amount := payloadAmount(payload, "amount")
		state.TotalPaid = amount
		state.CumulativePaid = state.CumulativePaid.Add(amount)
		state.PaidInstallments++

	case domain.EventPaymentFailed:
		state.FailedAttempts++

	case domain.EventLeaseCompleted:
		state.Status = string(domain.LeaseCompleted)

	case domain.EventLeaseDefaulted:
		state.Status = string(domain.LeaseDefaulted)
	}
}

func payloadAmount(payload map[string]interface{}, key string) decimal.Decimal {
	value, ok := payload[key]
	if !ok || value == nil {
		return decimal.Zero
	}
	amount, err := decimal.NewFromString(cast.ToString(value))
	if err != nil {
		return decimal.Zero
	}
	return amount
}
