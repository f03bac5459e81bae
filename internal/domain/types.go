package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LeaseStatus represents the life-cycle state of a lease.
type LeaseStatus string

const (
	LeasePending   LeaseStatus = "PENDING"
	LeaseActive    LeaseStatus = "ACTIVE"
	LeaseCompleted LeaseStatus = "COMPLETED"
	LeaseDefaulted LeaseStatus = "DEFAULTED"
)

// IsTerminal reports whether no further transition is permitted from s.
func (s LeaseStatus) IsTerminal() bool {
	return s == LeaseCompleted || s == LeaseDefaulted
}

// Valid reports whether s is a known lease status.
func (s LeaseStatus) Valid() bool {
	switch s {
	case LeasePending, LeaseActive, LeaseCompleted, LeaseDefaulted:
		return true
	}
	return false
}

// PaymentStatus represents the state of a single installment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentCancelled:
		return true
	}
	return false
}

// Lease is a credit agreement with an equal-installment payment plan.
// Principal and term are immutable after creation; status mutates only
// through state-machine transitions.
type Lease struct {
	ID              uuid.UUID       `json:"id"`
	CustomerID      string          `json:"customer_id"`
	Status          LeaseStatus     `json:"status"`
	PrincipalAmount decimal.Decimal `json:"principal_amount"`
	TermMonths      int             `json:"term_months"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Payment is one installment of a lease's payment plan.
type Payment struct {
	ID                uuid.UUID       `json:"id"`
	LeaseID           uuid.UUID       `json:"lease_id"`
	InstallmentNumber int             `json:"installment_number"`
	DueDate           time.Time       `json:"due_date"`
	Amount            decimal.Decimal `json:"amount"`
	Status            PaymentStatus   `json:"status"`
	RetryCount        int             `json:"retry_count"`
	LastAttemptAt     *time.Time      `json:"last_attempt_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// LedgerEntry is one immutable record in the append-only event log.
// SequenceNumber is allocated by the store and is globally monotonic;
// for a given lease, sequence order equals causal order.
type LedgerEntry struct {
	SequenceNumber int64                  `json:"sequence_number"`
	LeaseID        uuid.UUID              `json:"lease_id"`
	EventType      EventType              `json:"event_type"`
	EventPayload   map[string]interface{} `json:"event_payload"`
	Amount         *decimal.Decimal       `json:"amount,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// IdempotencyKey collapses duplicate submissions of one operation into a
// single effect. A record whose expiry has passed is treated as absent.
type IdempotencyKey struct {
	Key             string                 `json:"key"`
	Operation       string                 `json:"operation"`
	ResponsePayload map[string]interface{} `json:"response_payload,omitempty"`
	ExpiresAt       time.Time              `json:"expires_at"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Expired reports whether the key is past its expiry at the given instant.
func (k *IdempotencyKey) Expired(now time.Time) bool {
	return !k.ExpiresAt.After(now)
}

// MaxTermMonths bounds lease terms.
const MaxTermMonths = 60

// MaxPaymentAttempts is the attempt budget per installment. After the
// third failed attempt the lease is evaluated for default.
const MaxPaymentAttempts = 3

// QuantizeMoney rounds d to two fractional digits using half-even rounding.
func QuantizeMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// ValidatePrincipalAndTerm checks lease creation inputs.
func ValidatePrincipalAndTerm(principal decimal.Decimal, termMonths int) error {
	if !principal.IsPositive() {
		return NewValidationError("validate_lease", "principal amount must be positive")
	}
	if termMonths < 1 || termMonths > MaxTermMonths {
		return NewValidationError("validate_lease", "term must be between 1 and 60 months")
	}
	return nil
}
