package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the core taxonomy. Callers match with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("entity not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrConflict          = errors.New("conflicting concurrent operation")
	ErrImmutableLedger   = errors.New("ledger is append-only")
	ErrGateway           = errors.New("payment gateway failure")
	ErrPaymentExhausted  = errors.New("payment retries exhausted")
	ErrBus               = errors.New("event bus failure")
)

// ErrorKind categorizes domain errors.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindNotFound
	KindInvalidTransition
	KindConflict
	KindImmutableLedger
	KindGateway
	KindPaymentExhausted
	KindBus
)

// Error carries the category, the failing operation and an optional cause.
type Error struct {
	Kind      ErrorKind
	Operation string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error's kind sentinel or cause.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrInvalidTransition:
		return e.Kind == KindInvalidTransition
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrImmutableLedger:
		return e.Kind == KindImmutableLedger
	case ErrGateway:
		return e.Kind == KindGateway
	case ErrPaymentExhausted:
		return e.Kind == KindPaymentExhausted
	case ErrBus:
		return e.Kind == KindBus
	}
	if other, ok := target.(*Error); ok {
		return e.Kind == other.Kind && e.Message == other.Message
	}
	return false
}

func newError(kind ErrorKind, operation, message string, cause ...error) *Error {
	e := &Error{Kind: kind, Operation: operation, Message: message}
	if len(cause) > 0 {
		e.Cause = cause[0]
	}
	return e
}

// NewValidationError reports invalid caller input.
func NewValidationError(operation, message string, cause ...error) *Error {
	return newError(KindValidation, operation, message, cause...)
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(operation, message string, cause ...error) *Error {
	return newError(KindNotFound, operation, message, cause...)
}

// NewInvalidTransitionError reports a state-machine guard violation.
func NewInvalidTransitionError(operation, message string, cause ...error) *Error {
	return newError(KindInvalidTransition, operation, message, cause...)
}

// NewConflictError reports an idempotency or concurrent-writer collision.
func NewConflictError(operation, message string, cause ...error) *Error {
	return newError(KindConflict, operation, message, cause...)
}

// NewImmutableLedgerError reports an attempted ledger update or delete.
func NewImmutableLedgerError(operation, message string, cause ...error) *Error {
	return newError(KindImmutableLedger, operation, message, cause...)
}

// NewGatewayError reports a transient external gateway failure.
func NewGatewayError(operation, message string, cause ...error) *Error {
	return newError(KindGateway, operation, message, cause...)
}

// NewPaymentExhaustedError reports a payment that failed all attempts.
func NewPaymentExhaustedError(operation, message string, cause ...error) *Error {
	return newError(KindPaymentExhausted, operation, message, cause...)
}

// NewBusError reports a post-commit publish failure. Callers log these;
// reconciliation against the ledger recovers the delivery.
func NewBusError(operation, message string, cause ...error) *Error {
	return newError(KindBus, operation, message, cause...)
}

// IsRetryable reports whether an error warrants another payment attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGateway)
}
