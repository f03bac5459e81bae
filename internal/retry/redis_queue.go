package retry

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leasify/leased/internal/domain"
)

// DefaultQueueKey is the sorted-set key holding deferred tasks.
const DefaultQueueKey = "retry:delayed"

// RedisDelayQueue stores tasks in a Redis sorted set scored by fire
// time, so due tasks can be claimed with a single range pop.
type RedisDelayQueue struct {
	client *redis.Client
	key    string
}

// NewRedisDelayQueue creates a delay queue over the given Redis client.
// An empty key uses DefaultQueueKey.
func NewRedisDelayQueue(client *redis.Client, key string) *RedisDelayQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisDelayQueue{client: client, key: key}
}

func (q *RedisDelayQueue) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return domain.NewBusError("enqueue_task", "failed to encode task", err)
	}

	err = q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(task.FireAt.UnixMilli()),
		Member: data,
	}).Err()
	if err != nil {
		return domain.NewBusError("enqueue_task", "failed to enqueue task", err)
	}
	return nil
}

func (q *RedisDelayQueue) Due(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}

	// ZPOPMIN-style claim: each member is removed before it is returned,
	// so concurrent dispatchers never double-claim a task.
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, domain.NewBusError("due_tasks", "failed to range delayed tasks", err)
	}

	var tasks []Task
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.key, member).Result()
		if err != nil {
			return tasks, domain.NewBusError("due_tasks", "failed to claim task", err)
		}
		if removed == 0 {
			// Another dispatcher claimed it first.
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			return tasks, domain.NewBusError("due_tasks", "failed to decode task", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

func (q *RedisDelayQueue) Len(ctx context.Context) (int64, error) {
	count, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, domain.NewBusError("queue_len", "failed to count delayed tasks", err)
	}
	return count, nil
}
