package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasify/leased/internal/domain"
)

type silentLogger struct{}

func (silentLogger) Debug(string, ...interface{}) {}
func (silentLogger) Info(string, ...interface{})  {}
func (silentLogger) Warn(string, ...interface{})  {}
func (silentLogger) Error(string, ...interface{}) {}

func startConsumer(t *testing.T, consumer *MemoryConsumer, topics ...string) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		consumer.Consume(ctx, topics...)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Give the consumer a beat to subscribe.
	time.Sleep(10 * time.Millisecond)
	return cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublishReportsSubscriberPresence(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	event := domain.NewLeaseDefaulted(uuid.New())

	delivered, err := bus.Publish(ctx, event, domain.TopicLeaseEvents)
	require.NoError(t, err)
	assert.False(t, delivered)

	consumer := bus.NewConsumer(NewMemoryDLQ(), silentLogger{})
	consumer.RegisterHandler(domain.EventLeaseDefaulted, func(ctx context.Context, event map[string]interface{}) error {
		return nil
	})
	startConsumer(t, consumer, domain.TopicLeaseEvents)

	delivered, err = bus.Publish(ctx, event, domain.TopicLeaseEvents)
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	consumer := bus.NewConsumer(NewMemoryDLQ(), silentLogger{})

	var mu sync.Mutex
	var order []string
	record := func(name string) Handler {
		return func(ctx context.Context, event map[string]interface{}) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	consumer.RegisterHandler(domain.EventLeaseCreated, record("first"))
	consumer.RegisterHandler(domain.EventLeaseCreated, record("second"))
	consumer.RegisterHandler(domain.EventLeaseCreated, record("third"))
	startConsumer(t, consumer, domain.TopicLeaseEvents)

	lease := &domain.Lease{
		ID:              uuid.New(),
		CustomerID:      "cust-1",
		PrincipalAmount: decimal.NewFromInt(1000),
		TermMonths:      12,
	}
	_, err := bus.Publish(ctx, domain.NewLeaseCreated(lease), domain.TopicLeaseEvents)
	require.NoError(t, err)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestHandlerFailureGoesToDLQOthersStillRun(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	dlq := NewMemoryDLQ()
	consumer := bus.NewConsumer(dlq, silentLogger{})

	var mu sync.Mutex
	secondRan := false

	consumer.RegisterHandler(domain.EventLeaseDefaulted, func(ctx context.Context, event map[string]interface{}) error {
		return errors.New("downstream unavailable")
	})
	consumer.RegisterHandler(domain.EventLeaseDefaulted, func(ctx context.Context, event map[string]interface{}) error {
		mu.Lock()
		secondRan = true
		mu.Unlock()
		return nil
	})
	startConsumer(t, consumer, domain.TopicLeaseEvents)

	leaseID := uuid.New()
	_, err := bus.Publish(ctx, domain.NewLeaseDefaulted(leaseID), domain.TopicLeaseEvents)
	require.NoError(t, err)

	waitFor(t, func() bool {
		count, _ := dlq.Count(ctx)
		return count == 1
	})

	mu.Lock()
	assert.True(t, secondRan)
	mu.Unlock()

	entries, err := dlq.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, "downstream unavailable", entries[0].Error)
	assert.NotEmpty(t, entries[0].DLQID)
	assert.False(t, entries[0].FailedAt.IsZero())
	assert.Equal(t, string(domain.EventLeaseDefaulted), entries[0].OriginalEvent["event_type"])
	assert.Equal(t, leaseID.String(), entries[0].OriginalEvent["lease_id"])
}

func TestUnknownEventTypesAreDropped(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	dlq := NewMemoryDLQ()
	consumer := bus.NewConsumer(dlq, silentLogger{})

	handled := make(chan struct{}, 1)
	consumer.RegisterHandler(domain.EventLeaseDefaulted, func(ctx context.Context, event map[string]interface{}) error {
		handled <- struct{}{}
		return nil
	})
	startConsumer(t, consumer, domain.TopicLeaseEvents)

	// Raw unknown-type message straight onto the subscriber channel.
	bus.mu.RLock()
	subs := bus.subs[domain.TopicLeaseEvents]
	bus.mu.RUnlock()
	require.Len(t, subs, 1)
	subs[0] <- []byte(`{"event_type":"SOMETHING_ELSE","event_id":"x"}`)

	// A known event published after it is still dispatched.
	_, err := bus.Publish(ctx, domain.NewLeaseDefaulted(uuid.New()), domain.TopicLeaseEvents)
	require.NoError(t, err)

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("known event was not dispatched")
	}

	count, err := dlq.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDLQManagement(t *testing.T) {
	ctx := context.Background()
	dlq := NewMemoryDLQ()

	first := NewDLQEntry(map[string]interface{}{"event_type": "LEASE_DEFAULTED"}, errors.New("boom"))
	second := NewDLQEntry(map[string]interface{}{"event_type": "PAYMENT_FAILED"}, errors.New("bang"))

	require.NoError(t, dlq.Push(ctx, first))
	require.NoError(t, dlq.Push(ctx, second))

	count, err := dlq.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Newest first.
	entries, err := dlq.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.DLQID, entries[0].DLQID)

	ok, err := dlq.Acknowledge(ctx, first.DLQID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dlq.Acknowledge(ctx, first.DLQID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, dlq.Clear(ctx))
	count, err = dlq.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPublishOnlyReachesSubscribedTopic(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	consumer := bus.NewConsumer(NewMemoryDLQ(), silentLogger{})

	received := make(chan struct{}, 2)
	consumer.RegisterHandler(domain.EventLeaseDefaulted, func(ctx context.Context, event map[string]interface{}) error {
		received <- struct{}{}
		return nil
	})
	startConsumer(t, consumer, domain.TopicPaymentEvents)

	delivered, err := bus.Publish(ctx, domain.NewLeaseDefaulted(uuid.New()), domain.TopicLeaseEvents)
	require.NoError(t, err)
	assert.False(t, delivered)

	delivered, err = bus.Publish(ctx, domain.NewLeaseDefaulted(uuid.New()), domain.TopicPaymentEvents)
	require.NoError(t, err)
	assert.True(t, delivered)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("event on subscribed topic was not dispatched")
	}
	select {
	case <-received:
		t.Fatal("received event from unsubscribed topic")
	case <-time.After(50 * time.Millisecond):
	}
}
