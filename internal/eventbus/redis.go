package eventbus

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/leasify/leased/internal/domain"
)

// RedisPublisher publishes events over Redis pub/sub channels.
type RedisPublisher struct {
	client *redis.Client
	logger Logger
}

// NewRedisPublisher creates a publisher over the given Redis client.
func NewRedisPublisher(client *redis.Client, logger Logger) *RedisPublisher {
	if logger == nil {
		logger = defaultLogger{}
	}
	return &RedisPublisher{client: client, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, event domain.Event, topic string) (bool, error) {
	data, err := domain.EncodeEvent(event)
	if err != nil {
		return false, err
	}

	subscribers, err := p.client.Publish(ctx, topic, data).Result()
	if err != nil {
		return false, domain.NewBusError("publish", "failed to publish event", err)
	}

	p.logger.Info("Published event",
		"event_type", string(event.Type()), "topic", topic, "subscribers", subscribers)

	return subscribers > 0, nil
}

// RedisConsumer consumes events from Redis pub/sub channels.
type RedisConsumer struct {
	client   *redis.Client
	registry *registry
	logger   Logger
}

// NewRedisConsumer creates a consumer over the given Redis client.
// Handler failures are recorded in dlq.
func NewRedisConsumer(client *redis.Client, dlq DeadLetterQueue, logger Logger) *RedisConsumer {
	if logger == nil {
		logger = defaultLogger{}
	}
	return &RedisConsumer{
		client:   client,
		registry: newRegistry(dlq, logger),
		logger:   logger,
	}
}

func (c *RedisConsumer) RegisterHandler(eventType domain.EventType, handler Handler) {
	c.registry.register(eventType, handler)
}

func (c *RedisConsumer) Consume(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		topics = []string{domain.TopicLeaseEvents, domain.TopicPaymentEvents}
	}

	pubsub := c.client.Subscribe(ctx, topics...)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return domain.NewBusError("consume", "failed to subscribe", err)
	}
	c.logger.Info("Subscribed to topics", "topics", topics)

	channel := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Event consumer stopped")
			return ctx.Err()
		case message, ok := <-channel:
			if !ok {
				return domain.NewBusError("consume", "subscription channel closed")
			}
			c.registry.dispatch(ctx, []byte(message.Payload))
		}
	}
}

// RedisDLQ stores dead-letter records in a Redis list, newest first.
type RedisDLQ struct {
	client *redis.Client
	key    string
}

// NewRedisDLQ creates a DLQ over the given Redis client. An empty key
// uses the standard DLQ topic.
func NewRedisDLQ(client *redis.Client, key string) *RedisDLQ {
	if key == "" {
		key = domain.TopicDLQ
	}
	return &RedisDLQ{client: client, key: key}
}

func (q *RedisDLQ) Push(ctx context.Context, entry DLQEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return domain.NewBusError("dlq_push", "failed to encode DLQ entry", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return domain.NewBusError("dlq_push", "failed to push DLQ entry", err)
	}
	return nil
}

func (q *RedisDLQ) List(ctx context.Context, limit int) ([]DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	raw, err := q.client.LRange(ctx, q.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, domain.NewBusError("dlq_list", "failed to list DLQ entries", err)
	}

	entries := make([]DLQEntry, 0, len(raw))
	for _, item := range raw {
		var entry DLQEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, domain.NewBusError("dlq_list", "invalid DLQ entry", err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (q *RedisDLQ) Acknowledge(ctx context.Context, dlqID string) (bool, error) {
	raw, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return false, domain.NewBusError("dlq_acknowledge", "failed to scan DLQ", err)
	}

	for _, item := range raw {
		var entry DLQEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		if entry.DLQID == dlqID {
			if err := q.client.LRem(ctx, q.key, 1, item).Err(); err != nil {
				return false, domain.NewBusError("dlq_acknowledge", "failed to remove DLQ entry", err)
			}
			return true, nil
		}
	}

	return false, nil
}

func (q *RedisDLQ) Count(ctx context.Context) (int64, error) {
	count, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, domain.NewBusError("dlq_count", "failed to count DLQ entries", err)
	}
	return count, nil
}

func (q *RedisDLQ) Clear(ctx context.Context) error {
	if err := q.client.Del(ctx, q.key).Err(); err != nil {
		return domain.NewBusError("dlq_clear", "failed to clear DLQ", err)
	}
	return nil
}
