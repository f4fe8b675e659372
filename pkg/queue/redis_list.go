package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisListQueue keeps each queue as a Redis list. Producers LPUSH and the worker pops
// from the right, so LINDEX -1 is the next entry. This is the layout the PDF worker reads.
type RedisListQueue struct {
	client *redis.Client
}

// NewRedisListQueue wraps an existing client.
func NewRedisListQueue(client *redis.Client) *RedisListQueue {
	return &RedisListQueue{client: client}
}

// Enqueue pushes payload to the head of the list.
func (q *RedisListQueue) Enqueue(ctx context.Context, name string, payload any) (int64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	n, err := q.client.LPush(ctx, name, data).Result()
	if err != nil {
		return 0, fmt.Errorf("lpush %s: %w", name, err)
	}
	return n, nil
}

// Length returns LLEN.
func (q *RedisListQueue) Length(ctx context.Context, name string) (int64, error) {
	return q.client.LLen(ctx, name).Result()
}

// Peek returns the tail entry.
func (q *RedisListQueue) Peek(ctx context.Context, name string) (json.RawMessage, bool, error) {
	raw, err := q.client.LIndex(ctx, name, -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !json.Valid([]byte(raw)) {
		return nil, false, fmt.Errorf("queue %s holds a non-JSON entry", name)
	}
	return json.RawMessage(raw), true, nil
}

// Ping checks Redis connectivity.
func (q *RedisListQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
