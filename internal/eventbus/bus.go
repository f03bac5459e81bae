// Package eventbus implements topic-based publish/subscribe with typed
// event envelopes and dead-letter handling. The bus is best-effort by
// contract: callers persist events to the ledger before publishing, so
// a lost message is recoverable from the log.
package eventbus

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/leasify/leased/internal/domain"
)

// Logger interface for dependency injection
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

type defaultLogger struct{}

func (defaultLogger) Debug(msg string, fields ...interface{}) {
	log.Println(append([]interface{}{"[DEBUG]", msg}, fields...)...)
}
func (defaultLogger) Info(msg string, fields ...interface{}) {
	log.Println(append([]interface{}{"[INFO]", msg}, fields...)...)
}
func (defaultLogger) Warn(msg string, fields ...interface{}) {
	log.Println(append([]interface{}{"[WARN]", msg}, fields...)...)
}
func (defaultLogger) Error(msg string, fields ...interface{}) {
	log.Println(append([]interface{}{"[ERROR]", msg}, fields...)...)
}

// Publisher emits events to a topic.
type Publisher interface {
	// Publish broadcasts the event and reports whether at least one
	// subscriber was present at publish time.
	Publish(ctx context.Context, event domain.Event, topic string) (bool, error)
}

// Handler processes one decoded event document.
type Handler func(ctx context.Context, event map[string]interface{}) error

// Consumer receives events from subscribed topics and dispatches them
// to registered handlers.
type Consumer interface {
	// RegisterHandler adds a handler for an event type. Multiple
	// handlers per type run in registration order.
	RegisterHandler(eventType domain.EventType, handler Handler)
	// Consume subscribes to the topics and blocks dispatching messages
	// until the context is cancelled.
	Consume(ctx context.Context, topics ...string) error
}

// DLQEntry is a dead-letter record wrapping a failed event.
type DLQEntry struct {
	OriginalEvent map[string]interface{} `json:"original_event"`
	Error         string                 `json:"error"`
	FailedAt      time.Time              `json:"failed_at"`
	DLQID         string                 `json:"dlq_id"`
}

// NewDLQEntry wraps a failed event into a dead-letter record.
func NewDLQEntry(event map[string]interface{}, handlerErr error) DLQEntry {
	return DLQEntry{
		OriginalEvent: event,
		Error:         handlerErr.Error(),
		FailedAt:      time.Now().UTC(),
		DLQID:         uuid.NewString(),
	}
}

// DeadLetterQueue manages records of events whose handlers failed.
type DeadLetterQueue interface {
	// Push appends a dead-letter record.
	Push(ctx context.Context, entry DLQEntry) error
	// List returns up to limit records, most recent first.
	List(ctx context.Context, limit int) ([]DLQEntry, error)
	// Acknowledge removes the record with the given ID; false when absent.
	Acknowledge(ctx context.Context, dlqID string) (bool, error)
	// Count returns the number of records.
	Count(ctx context.Context) (int64, error)
	// Clear removes all records.
	Clear(ctx context.Context) error
}

// registry dispatches decoded events to handlers. Handler failures go
// to the DLQ; remaining handlers for the same event still run.
type registry struct {
	handlers map[domain.EventType][]Handler
	dlq      DeadLetterQueue
	logger   Logger
}

func newRegistry(dlq DeadLetterQueue, logger Logger) *registry {
	if logger == nil {
		logger = defaultLogger{}
	}
	return &registry{
		handlers: make(map[domain.EventType][]Handler),
		dlq:      dlq,
		logger:   logger,
	}
}

func (r *registry) register(eventType domain.EventType, handler Handler) {
	r.handlers[eventType] = append(r.handlers[eventType], handler)
	r.logger.Info("Registered handler", "event_type", string(eventType))
}

// dispatch decodes a raw message and runs the handlers for its type.
func (r *registry) dispatch(ctx context.Context, data []byte) {
	var event map[string]interface{}
	if err := json.Unmarshal(data, &event); err != nil {
		r.logger.Error("Failed to parse event JSON", "error", err)
		return
	}

	eventType, _ := event["event_type"].(string)
	if !domain.EventType(eventType).Known() {
		r.logger.Warn("Dropping unknown event type", "event_type", eventType)
		return
	}

	handlers := r.handlers[domain.EventType(eventType)]
	if len(handlers) == 0 {
		r.logger.Warn("No handlers registered", "event_type", eventType)
		return
	}

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			r.logger.Error("Handler failed", "event_type", eventType, "error", err)
			entry := NewDLQEntry(event, err)
			if dlqErr := r.dlq.Push(ctx, entry); dlqErr != nil {
				r.logger.Error("Failed to push to DLQ", "dlq_id", entry.DLQID, "error", dlqErr)
			}
		}
	}
}
