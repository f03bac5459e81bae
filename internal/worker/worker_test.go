package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasify/leased/internal/eventbus"
	"github.com/leasify/leased/internal/retry"
)

type recordingExecutor struct {
	mu    sync.Mutex
	tasks []retry.Task
	fail  map[string]error
}

func (e *recordingExecutor) ExecuteTask(ctx context.Context, task retry.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, task)
	if err, ok := e.fail[task.ID]; ok {
		return err
	}
	return nil
}

func (e *recordingExecutor) executed() []retry.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]retry.Task(nil), e.tasks...)
}

func TestRetryDispatcherTick(t *testing.T) {
	ctx := context.Background()
	queue := retry.NewMemoryDelayQueue()
	executor := &recordingExecutor{}
	dlq := eventbus.NewMemoryDLQ()

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	due := retry.NewTask("payment_retry", map[string]interface{}{"payment_id": "p-1"}, past)
	notYet := retry.NewTask("payment_retry", map[string]interface{}{"payment_id": "p-2"}, future)
	require.NoError(t, queue.Enqueue(ctx, due))
	require.NoError(t, queue.Enqueue(ctx, notYet))

	dispatcher := NewRetryDispatcher(queue, executor, dlq, time.Second, 10, nil)
	dispatcher.Tick(ctx, time.Now().UTC())

	executed := executor.executed()
	require.Len(t, executed, 1)
	assert.Equal(t, due.ID, executed[0].ID)

	// The future task stays queued.
	length, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	count, err := dlq.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRetryDispatcherDeadLettersFailures(t *testing.T) {
	ctx := context.Background()
	queue := retry.NewMemoryDelayQueue()
	dlq := eventbus.NewMemoryDLQ()

	task := retry.NewTask("payment_retry", map[string]interface{}{"payment_id": "p-1"}, time.Now().UTC().Add(-time.Second))
	require.NoError(t, queue.Enqueue(ctx, task))

	executor := &recordingExecutor{fail: map[string]error{task.ID: errors.New("payment not found")}}
	dispatcher := NewRetryDispatcher(queue, executor, dlq, time.Second, 10, nil)
	dispatcher.Tick(ctx, time.Now().UTC())

	entries, err := dlq.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "payment not found", entries[0].Error)
	assert.Equal(t, task.ID, entries[0].OriginalEvent["task_id"])

	// Failed tasks are not re-queued.
	length, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, length)
}

type countingProcessor struct {
	mu    sync.Mutex
	calls int
}

func (p *countingProcessor) ProcessDue(ctx context.Context, now time.Time, limit int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return 1, nil
}

func (p *countingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestDuePollerSweeps(t *testing.T) {
	processor := &countingProcessor{}
	poller := NewDuePoller(processor, 10*time.Millisecond, 5, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	require.Eventually(t, func() bool { return processor.count() >= 2 },
		time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type blockingRunner struct {
	name string
	err  error
}

func (r *blockingRunner) Name() string { return r.name }

func (r *blockingRunner) Run(ctx context.Context) error {
	if r.err != nil {
		return r.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestPoolStopsTogether(t *testing.T) {
	pool := NewPool(nil,
		&blockingRunner{name: "a"},
		&blockingRunner{name: "b"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after cancellation")
	}
}

func TestPoolPropagatesRunnerError(t *testing.T) {
	boom := errors.New("boom")
	pool := NewPool(nil,
		&blockingRunner{name: "healthy"},
		&blockingRunner{name: "broken", err: boom},
	)

	err := pool.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}
