package retry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is a unit of deferred work. Payload carries the task-kind
// specific fields; payment retries store payment and lease identifiers
// plus the attempt number.
type Task struct {
	ID      string                 `json:"id"`
	Kind    string                 `json:"kind"`
	Payload map[string]interface{} `json:"payload"`
	FireAt  time.Time              `json:"fire_at"`
}

// NewTask builds a task with a fresh ID firing at the given instant.
func NewTask(kind string, payload map[string]interface{}, fireAt time.Time) Task {
	return Task{
		ID:      uuid.NewString(),
		Kind:    kind,
		Payload: payload,
		FireAt:  fireAt,
	}
}

// DelayQueue stores tasks until their fire time. Implementations must
// make Due atomic: a task is returned to exactly one caller.
type DelayQueue interface {
	// Enqueue adds a task to the queue.
	Enqueue(ctx context.Context, task Task) error
	// Due removes and returns up to limit tasks whose fire time is at or
	// before now, earliest first.
	Due(ctx context.Context, now time.Time, limit int) ([]Task, error)
	// Len returns the number of queued tasks.
	Len(ctx context.Context) (int64, error)
}

// MemoryDelayQueue is an in-process DelayQueue for tests and embedded
// runs.
type MemoryDelayQueue struct {
	mu    sync.Mutex
	tasks []Task
}

// NewMemoryDelayQueue creates an empty in-memory delay queue.
func NewMemoryDelayQueue() *MemoryDelayQueue {
	return &MemoryDelayQueue{}
}

func (q *MemoryDelayQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *MemoryDelayQueue) Due(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Task
	var remaining []Task
	for _, task := range q.tasks {
		if !task.FireAt.After(now) {
			due = append(due, task)
		} else {
			remaining = append(remaining, task)
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })

	if limit > 0 && len(due) > limit {
		remaining = append(remaining, due[limit:]...)
		due = due[:limit]
	}

	q.tasks = remaining
	return due, nil
}

func (q *MemoryDelayQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.tasks)), nil
}
