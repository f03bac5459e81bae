package eventbus

import (
	"context"
	"sync"

	"github.com/leasify/leased/internal/domain"
)

// subscriberBuffer bounds per-subscriber backlog before messages drop.
const subscriberBuffer = 256

// MemoryBus is an in-process broker with the same best-effort delivery
// semantics as the Redis bus. It backs unit tests and embedded runs.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan []byte)}
}

// Publish implements Publisher. Subscribers with a full buffer miss the
// message, mirroring pub/sub fire-and-forget delivery.
func (b *MemoryBus) Publish(ctx context.Context, event domain.Event, topic string) (bool, error) {
	data, err := domain.EncodeEvent(event)
	if err != nil {
		return false, err
	}

	b.mu.RLock()
	subs := append([]chan []byte(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub <- data:
		default:
		}
	}

	return len(subs) > 0, nil
}

func (b *MemoryBus) subscribe(topics []string) chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	for _, topic := range topics {
		b.subs[topic] = append(b.subs[topic], ch)
	}
	b.mu.Unlock()
	return ch
}

func (b *MemoryBus) unsubscribe(ch chan []byte) {
	b.mu.Lock()
	for topic, subs := range b.subs {
		for i, sub := range subs {
			if sub == ch {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()
}

// NewConsumer creates a consumer attached to this bus.
func (b *MemoryBus) NewConsumer(dlq DeadLetterQueue, logger Logger) *MemoryConsumer {
	return &MemoryConsumer{
		bus:      b,
		registry: newRegistry(dlq, logger),
	}
}

// MemoryConsumer dispatches bus messages to registered handlers.
type MemoryConsumer struct {
	bus      *MemoryBus
	registry *registry
}

func (c *MemoryConsumer) RegisterHandler(eventType domain.EventType, handler Handler) {
	c.registry.register(eventType, handler)
}

func (c *MemoryConsumer) Consume(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		topics = []string{domain.TopicLeaseEvents, domain.TopicPaymentEvents}
	}

	ch := c.bus.subscribe(topics)
	defer c.bus.unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-ch:
			c.registry.dispatch(ctx, data)
		}
	}
}

// MemoryDLQ is an in-process dead-letter queue, newest first.
type MemoryDLQ struct {
	mu      sync.Mutex
	entries []DLQEntry
}

// NewMemoryDLQ creates an empty in-memory DLQ.
func NewMemoryDLQ() *MemoryDLQ {
	return &MemoryDLQ{}
}

func (q *MemoryDLQ) Push(ctx context.Context, entry DLQEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append([]DLQEntry{entry}, q.entries...)
	return nil
}

func (q *MemoryDLQ) List(ctx context.Context, limit int) ([]DLQEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	if limit > len(q.entries) {
		limit = len(q.entries)
	}
	return append([]DLQEntry(nil), q.entries[:limit]...), nil
}

func (q *MemoryDLQ) Acknowledge(ctx context.Context, dlqID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, entry := range q.entries {
		if entry.DLQID == dlqID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (q *MemoryDLQ) Count(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

func (q *MemoryDLQ) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
	return nil
}
