package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType is the string code identifying a ledger/bus event.
type EventType string

const (
	EventLeaseCreated     EventType = "LEASE_CREATED"
	EventPaymentScheduled EventType = "PAYMENT_SCHEDULED"
	EventPaymentAttempted EventType = "PAYMENT_ATTEMPTED"
	EventPaymentSucceeded EventType = "PAYMENT_SUCCEEDED"
	EventPaymentFailed    EventType = "PAYMENT_FAILED"
	EventLeaseCompleted   EventType = "LEASE_COMPLETED"
	EventLeaseDefaulted   EventType = "LEASE_DEFAULTED"
)

// Known reports whether t is a recognized event type.
func (t EventType) Known() bool {
	switch t {
	case EventLeaseCreated, EventPaymentScheduled, EventPaymentAttempted,
		EventPaymentSucceeded, EventPaymentFailed, EventLeaseCompleted,
		EventLeaseDefaulted:
		return true
	}
	return false
}

// Bus topics. The DLQ topic doubles as the Redis list key holding
// dead-letter records.
const (
	TopicLeaseEvents   = "lease:events"
	TopicPaymentEvents = "payment:events"
	TopicDLQ           = "events:dlq"
)

// Event is a typed bus/ledger event. The ledger is the durability
// boundary; the bus carries best-effort copies of the same envelopes.
// Event structs carry an Event suffix to keep them apart from the
// status constants of the same life-cycle moments.
type Event interface {
	// Type returns the event type code.
	Type() EventType
	// Lease returns the lease the event belongs to.
	Lease() uuid.UUID
	// Env returns the mutable envelope for ID/timestamp assignment.
	Env() *Envelope
}

// Envelope carries the fields common to every event.
type Envelope struct {
	EventID   uuid.UUID `json:"event_id"`
	EventType EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Env implements Event.
func (e *Envelope) Env() *Envelope { return e }

// Type implements Event.
func (e *Envelope) Type() EventType { return e.EventType }

// Stamp fills in a fresh event ID and timestamp if unset.
func (e *Envelope) Stamp() {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

func newEnvelope(t EventType) Envelope {
	return Envelope{EventID: uuid.New(), EventType: t, Timestamp: time.Now().UTC()}
}

// LeaseCreatedEvent is emitted when a lease and its plan are created.
type LeaseCreatedEvent struct {
	Envelope
	LeaseID         uuid.UUID       `json:"lease_id"`
	CustomerID      string          `json:"customer_id"`
	PrincipalAmount decimal.Decimal `json:"principal_amount"`
	TermMonths      int             `json:"term_months"`
}

func (e *LeaseCreatedEvent) Lease() uuid.UUID { return e.LeaseID }

// NewLeaseCreated builds a stamped LEASE_CREATED event.
func NewLeaseCreated(lease *Lease) *LeaseCreatedEvent {
	return &LeaseCreatedEvent{
		Envelope:        newEnvelope(EventLeaseCreated),
		LeaseID:         lease.ID,
		CustomerID:      lease.CustomerID,
		PrincipalAmount: lease.PrincipalAmount,
		TermMonths:      lease.TermMonths,
	}
}

// PaymentScheduledEvent is emitted once per installment when the plan is
// announced on the payment topic.
type PaymentScheduledEvent struct {
	Envelope
	PaymentID         uuid.UUID       `json:"payment_id"`
	LeaseID           uuid.UUID       `json:"lease_id"`
	InstallmentNumber int             `json:"installment_number"`
	DueDate           time.Time       `json:"due_date"`
	Amount            decimal.Decimal `json:"amount"`
}

func (e *PaymentScheduledEvent) Lease() uuid.UUID { return e.LeaseID }

// NewPaymentScheduled builds a stamped PAYMENT_SCHEDULED event.
func NewPaymentScheduled(p *Payment) *PaymentScheduledEvent {
	return &PaymentScheduledEvent{
		Envelope:          newEnvelope(EventPaymentScheduled),
		PaymentID:         p.ID,
		LeaseID:           p.LeaseID,
		InstallmentNumber: p.InstallmentNumber,
		DueDate:           p.DueDate,
		Amount:            p.Amount,
	}
}

// PaymentAttemptedEvent is emitted before each gateway charge.
type PaymentAttemptedEvent struct {
	Envelope
	PaymentID     uuid.UUID `json:"payment_id"`
	LeaseID       uuid.UUID `json:"lease_id"`
	AttemptNumber int       `json:"attempt_number"`
}

func (e *PaymentAttemptedEvent) Lease() uuid.UUID { return e.LeaseID }

// NewPaymentAttempted builds a stamped PAYMENT_ATTEMPTED event.
func NewPaymentAttempted(paymentID, leaseID uuid.UUID, attempt int) *PaymentAttemptedEvent {
	return &PaymentAttemptedEvent{
		Envelope:      newEnvelope(EventPaymentAttempted),
		PaymentID:     paymentID,
		LeaseID:       leaseID,
		AttemptNumber: attempt,
	}
}

// PaymentSucceededEvent is emitted when the gateway confirms a charge.
type PaymentSucceededEvent struct {
	Envelope
	PaymentID     uuid.UUID       `json:"payment_id"`
	LeaseID       uuid.UUID       `json:"lease_id"`
	Amount        decimal.Decimal `json:"amount"`
	LedgerEntryID int64           `json:"ledger_entry_id"`
}

func (e *PaymentSucceededEvent) Lease() uuid.UUID { return e.LeaseID }

// NewPaymentSucceeded builds a stamped PAYMENT_SUCCEEDED event.
func NewPaymentSucceeded(paymentID, leaseID uuid.UUID, amount decimal.Decimal) *PaymentSucceededEvent {
	return &PaymentSucceededEvent{
		Envelope:  newEnvelope(EventPaymentSucceeded),
		PaymentID: paymentID,
		LeaseID:   leaseID,
		Amount:    amount,
	}
}

// PaymentFailedEvent is emitted when a charge is declined, times out or
// otherwise fails. NextRetryAt is set only when another attempt is
// scheduled.
type PaymentFailedEvent struct {
	Envelope
	PaymentID      uuid.UUID  `json:"payment_id"`
	LeaseID        uuid.UUID  `json:"lease_id"`
	Reason         string     `json:"reason"`
	RetryScheduled bool       `json:"retry_scheduled"`
	AttemptNumber  int        `json:"attempt_number"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
}

func (e *PaymentFailedEvent) Lease() uuid.UUID { return e.LeaseID }

// NewPaymentFailed builds a stamped PAYMENT_FAILED event.
func NewPaymentFailed(paymentID, leaseID uuid.UUID, reason string, attempt int, nextRetryAt *time.Time) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		Envelope:       newEnvelope(EventPaymentFailed),
		PaymentID:      paymentID,
		LeaseID:        leaseID,
		Reason:         reason,
		RetryScheduled: nextRetryAt != nil,
		AttemptNumber:  attempt,
		NextRetryAt:    nextRetryAt,
	}
}

// LeaseCompletedEvent is emitted when the last installment settles.
type LeaseCompletedEvent struct {
	Envelope
	LeaseID        uuid.UUID       `json:"lease_id"`
	CustomerID     string          `json:"customer_id"`
	CompletionDate time.Time       `json:"completion_date"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
}

func (e *LeaseCompletedEvent) Lease() uuid.UUID { return e.LeaseID }

// NewLeaseCompleted builds a stamped LEASE_COMPLETED event.
func NewLeaseCompleted(leaseID uuid.UUID, customerID string, totalPaid decimal.Decimal) *LeaseCompletedEvent {
	now := time.Now().UTC()
	return &LeaseCompletedEvent{
		Envelope:       newEnvelope(EventLeaseCompleted),
		LeaseID:        leaseID,
		CustomerID:     customerID,
		CompletionDate: now,
		TotalPaid:      totalPaid,
	}
}

// LeaseDefaultedEvent is emitted when accumulated failures push the
// lease into default.
type LeaseDefaultedEvent struct {
	Envelope
	LeaseID uuid.UUID `json:"lease_id"`
}

func (e *LeaseDefaultedEvent) Lease() uuid.UUID { return e.LeaseID }

// NewLeaseDefaulted builds a stamped LEASE_DEFAULTED event.
func NewLeaseDefaulted(leaseID uuid.UUID) *LeaseDefaultedEvent {
	return &LeaseDefaultedEvent{Envelope: newEnvelope(EventLeaseDefaulted), LeaseID: leaseID}
}

// EncodeEvent serializes an event to its wire form.
func EncodeEvent(ev Event) ([]byte, error) {
	ev.Env().Stamp()
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, NewBusError("encode_event", "failed to marshal event", err)
	}
	return data, nil
}

// EventPayload flattens an event into the structured document stored in
// the ledger's payload column.
func EventPayload(ev Event) (map[string]interface{}, error) {
	data, err := EncodeEvent(ev)
	if err != nil {
		return nil, err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, NewBusError("event_payload", "failed to flatten event", err)
	}
	return payload, nil
}
