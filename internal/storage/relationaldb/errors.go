package relationaldb

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for different categories of database errors
var (
	// Configuration errors
	ErrMissingHost           = errors.New("database host is required")
	ErrMissingDatabase       = errors.New("database name is required")
	ErrMissingUsername       = errors.New("database username is required")
	ErrInvalidPort           = errors.New("invalid database port")
	ErrInvalidMaxOpenConns   = errors.New("max open connections must be >= 0")
	ErrInvalidMaxIdleConns   = errors.New("max idle connections must be >= 0")
	ErrMaxIdleExceedsMaxOpen = errors.New("max idle connections cannot exceed max open connections")
	ErrInvalidTimeout        = errors.New("timeout must be positive")

	// Connection errors
	ErrDatabaseClosed    = errors.New("database connection is closed")
	ErrConnectionFailed  = errors.New("failed to connect to database")
	ErrTransactionClosed = errors.New("transaction is closed")

	// Data errors
	ErrLeaseNotFound       = errors.New("lease not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrLedgerEntryNotFound = errors.New("ledger entry not found")
	ErrKeyNotFound         = errors.New("idempotency key not found")
	ErrDuplicateKey        = errors.New("duplicate idempotency key")
	ErrRowLocked           = errors.New("row is locked by a concurrent writer")
)

// ErrorType represents different categories of database errors
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeConfiguration
	ErrorTypeConnection
	ErrorTypeTransaction
	ErrorTypeData
	ErrorTypeConstraint
	ErrorTypeQuery
	ErrorTypeSchema
)

// DatabaseError provides detailed information about database errors
type DatabaseError struct {
	Type      ErrorType `json:"type"`
	Operation string    `json:"operation"`
	Message   string    `json:"message"`
	Cause     error     `json:"cause,omitempty"`
	Retryable bool      `json:"retryable"`
}

// Error implements the error interface
func (e *DatabaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Message)
}

// Unwrap returns the underlying cause error
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain matches target
func (e *DatabaseError) Is(target error) bool {
	if target == nil {
		return false
	}
	if dbErr, ok := target.(*DatabaseError); ok {
		return e.Message == dbErr.Message && e.Type == dbErr.Type
	}
	return false
}

// IsRetryable returns whether the error is retryable
func (e *DatabaseError) IsRetryable() bool {
	return e.Retryable
}

// NewDatabaseError creates a new DatabaseError
func NewDatabaseError(errorType ErrorType, operation, message string, cause error) *DatabaseError {
	return &DatabaseError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryableError(errorType, cause),
	}
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(operation, message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrorTypeConfiguration, operation, message, cause)
}

// NewConnectionError creates a connection error
func NewConnectionError(operation, message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrorTypeConnection, operation, message, cause)
}

// NewTransactionError creates a transaction error
func NewTransactionError(operation, message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrorTypeTransaction, operation, message, cause)
}

// NewDataError creates a data error
func NewDataError(operation, message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrorTypeData, operation, message, cause)
}

// NewConstraintError creates a constraint error
func NewConstraintError(operation, message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrorTypeConstraint, operation, message, cause)
}

// NewQueryError creates a query error
func NewQueryError(operation, message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrorTypeQuery, operation, message, cause)
}

// NewSchemaError creates a schema error
func NewSchemaError(operation, message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrorTypeSchema, operation, message, cause)
}

// isRetryableError determines if an error is retryable based on its type and cause
func isRetryableError(errorType ErrorType, cause error) bool {
	switch errorType {
	case ErrorTypeConnection:
		return true
	case ErrorTypeTransaction, ErrorTypeQuery:
		if cause != nil {
			msg := strings.ToLower(cause.Error())
			return strings.Contains(msg, "deadlock") ||
				strings.Contains(msg, "timeout") ||
				strings.Contains(msg, "serialize") ||
				strings.Contains(msg, "temporary")
		}
		return false
	default:
		return false
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr.Retryable
	}

	if err != nil {
		msg := strings.ToLower(err.Error())
		for _, pattern := range []string{
			"connection refused",
			"connection reset",
			"deadlock",
			"timeout",
			"temporary failure",
		} {
			if strings.Contains(msg, pattern) {
				return true
			}
		}
	}

	return false
}

// IsNotFound checks whether an error marks a missing row of any kind.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLeaseNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrLedgerEntryNotFound) ||
		errors.Is(err, ErrKeyNotFound)
}
