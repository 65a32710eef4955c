package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"nightline/internal/realtime"

	"github.com/redis/go-redis/v9"
)

// RedisQueue produces delivery jobs onto a Redis stream. It satisfies
// realtime.Producer so the dispatcher can enqueue without importing
// this package.
type RedisQueue struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisQueue constructs a RedisQueue bound to an existing client.
func NewRedisQueue(client *redis.Client, log *slog.Logger) *RedisQueue {
	return &RedisQueue{client: client, log: log}
}

// EnsureGroup creates the consumer group (and its backing stream) if it
// does not already exist. Safe to call from every instance on startup.
func (q *RedisQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, StreamName, GroupName, "$").Err()
	if err != nil && !errors.Is(err, redis.Nil) && !isBusyGroup(err) {
		return fmt.Errorf("queue: create consumer group: %w", err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// Enqueue marshals job and appends it to the delivery stream.
func (q *RedisQueue) Enqueue(ctx context.Context, job realtime.DeliveryJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName,
		Values: map[string]any{"payload": payload},
	}).Err(); err != nil {
		enqueueFailures.Inc()
		return err
	}
	return nil
}
