// Package worker runs the background loops of the service: dispatching
// deferred retry tasks, sweeping due installments and consuming bus
// topics. A Pool supervises the loops and stops them together.
package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leasify/leased/internal/eventbus"
	"github.com/leasify/leased/internal/retry"
)

// Runner is one supervised background loop. Run blocks until the
// context is cancelled; returning a non-nil error stops the whole pool.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Pool supervises a set of runners. The first runner error cancels the
// rest.
type Pool struct {
	runners []Runner
	logger  eventbus.Logger
}

// NewPool creates a pool over the given runners.
func NewPool(logger eventbus.Logger, runners ...Runner) *Pool {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Pool{runners: runners, logger: logger}
}

// Run starts every runner and blocks until all have stopped. Context
// cancellation is the normal shutdown path and is not reported as an
// error.
func (p *Pool) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	for _, runner := range p.runners {
		runner := runner
		p.logger.Info("Starting worker", "worker", runner.Name())
		group.Go(func() error {
			err := runner.Run(ctx)
			if err != nil && err != context.Canceled {
				p.logger.Error("Worker stopped", "worker", runner.Name(), "error", err)
				return err
			}
			p.logger.Info("Worker stopped", "worker", runner.Name())
			return nil
		})
	}

	return group.Wait()
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// TaskExecutor runs one claimed delay-queue task.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, task retry.Task) error
}

// RetryDispatcher polls the delay queue and executes due tasks. A task
// whose execution fails is dead-lettered; the queue claim already
// removed it, so it is never retried blindly.
type RetryDispatcher struct {
	queue    retry.DelayQueue
	executor TaskExecutor
	dlq      eventbus.DeadLetterQueue
	interval time.Duration
	batch    int
	logger   eventbus.Logger
}

// NewRetryDispatcher creates a dispatcher polling every interval and
// claiming up to batch tasks per tick.
func NewRetryDispatcher(queue retry.DelayQueue, executor TaskExecutor, dlq eventbus.DeadLetterQueue, interval time.Duration, batch int, logger eventbus.Logger) *RetryDispatcher {
	if logger == nil {
		logger = nopLogger{}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &RetryDispatcher{
		queue:    queue,
		executor: executor,
		dlq:      dlq,
		interval: interval,
		batch:    batch,
		logger:   logger,
	}
}

func (d *RetryDispatcher) Name() string { return "retry-dispatcher" }

func (d *RetryDispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick claims and executes one batch of due tasks.
func (d *RetryDispatcher) Tick(ctx context.Context, now time.Time) {
	tasks, err := d.queue.Due(ctx, now, d.batch)
	if err != nil {
		d.logger.Error("Failed to claim due tasks", "error", err)
		return
	}

	for _, task := range tasks {
		if err := d.executor.ExecuteTask(ctx, task); err != nil {
			d.logger.Error("Task execution failed",
				"task_id", task.ID, "kind", task.Kind, "error", err)
			d.deadLetter(ctx, task, err)
		}
	}
}

func (d *RetryDispatcher) deadLetter(ctx context.Context, task retry.Task, taskErr error) {
	if d.dlq == nil {
		return
	}
	entry := eventbus.NewDLQEntry(map[string]interface{}{
		"task_id": task.ID,
		"kind":    task.Kind,
		"payload": task.Payload,
		"fire_at": task.FireAt,
	}, taskErr)
	if err := d.dlq.Push(ctx, entry); err != nil {
		d.logger.Error("Failed to dead-letter task", "task_id", task.ID, "error", err)
	}
}

// DueProcessor attempts all installments due by now.
type DueProcessor interface {
	ProcessDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// DuePoller periodically sweeps overdue PENDING installments into the
// attempt pipeline.
type DuePoller struct {
	processor DueProcessor
	interval  time.Duration
	batch     int
	logger    eventbus.Logger
}

// NewDuePoller creates a poller sweeping every interval, up to batch
// installments per sweep.
func NewDuePoller(processor DueProcessor, interval time.Duration, batch int, logger eventbus.Logger) *DuePoller {
	if logger == nil {
		logger = nopLogger{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &DuePoller{processor: processor, interval: interval, batch: batch, logger: logger}
}

func (p *DuePoller) Name() string { return "due-poller" }

func (p *DuePoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			attempted, err := p.processor.ProcessDue(ctx, time.Now().UTC(), p.batch)
			if err != nil {
				p.logger.Error("Due payment sweep failed", "error", err)
				continue
			}
			if attempted > 0 {
				p.logger.Info("Swept due payments", "attempted", attempted)
			}
		}
	}
}

// ConsumerRunner runs a bus consumer as a supervised loop.
type ConsumerRunner struct {
	consumer eventbus.Consumer
	topics   []string
}

// NewConsumerRunner wraps a consumer subscribed to the given topics.
func NewConsumerRunner(consumer eventbus.Consumer, topics ...string) *ConsumerRunner {
	return &ConsumerRunner{consumer: consumer, topics: topics}
}

func (r *ConsumerRunner) Name() string { return "bus-consumer" }

func (r *ConsumerRunner) Run(ctx context.Context) error {
	return r.consumer.Consume(ctx, r.topics...)
}
