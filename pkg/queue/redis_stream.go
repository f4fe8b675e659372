package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

// RedisStreamQueue keeps each queue as a capped Redis stream, for workers that read
// through consumer groups instead of list pops. Reads do not trim a stream, so the
// backlog is measured against the worker group's last delivered entry.
type RedisStreamQueue struct {
	client *redis.Client
	prefix string
	group  string
	maxLen int64
}

// NewRedisStreamQueue wraps an existing client. Stream keys are prefix+name. With an
// empty group, Length and Peek see every retained entry.
func NewRedisStreamQueue(client *redis.Client, prefix, group string, maxLen int64) *RedisStreamQueue {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisStreamQueue{client: client, prefix: prefix, group: group, maxLen: maxLen}
}

// Enqueue appends the payload and returns the stream length.
func (q *RedisStreamQueue) Enqueue(ctx context.Context, name string, payload any) (int64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	key := q.prefix + name
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{payloadField: string(data)},
	})
	length := pipe.XLen(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("xadd %s: %w", key, err)
	}
	return length.Val(), nil
}

// Length returns the number of entries not yet delivered to the group. The count is
// bounded by the stream cap.
func (q *RedisStreamQueue) Length(ctx context.Context, name string) (int64, error) {
	key := q.prefix + name
	if q.group == "" {
		return q.client.XLen(ctx, key).Result()
	}
	start, ok, err := q.undeliveredStart(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	msgs, err := q.client.XRange(ctx, key, start, "+").Result()
	if err != nil {
		return 0, err
	}
	return int64(len(msgs)), nil
}

// Peek returns the oldest entry not yet delivered to the group.
func (q *RedisStreamQueue) Peek(ctx context.Context, name string) (json.RawMessage, bool, error) {
	key := q.prefix + name
	start, ok, err := q.undeliveredStart(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	msgs, err := q.client.XRangeN(ctx, key, start, "+", 1).Result()
	if err != nil {
		return nil, false, err
	}
	if len(msgs) == 0 {
		return nil, false, nil
	}
	raw, _ := msgs[0].Values[payloadField].(string)
	if !json.Valid([]byte(raw)) {
		return nil, false, fmt.Errorf("stream entry %s has no JSON payload", msgs[0].ID)
	}
	return json.RawMessage(raw), true, nil
}

// undeliveredStart returns the XRANGE start that skips entries the group has already
// been handed. ok is false when the stream does not exist.
func (q *RedisStreamQueue) undeliveredStart(ctx context.Context, key string) (start string, ok bool, err error) {
	if q.group == "" {
		return "-", true, nil
	}
	groups, err := q.client.XInfoGroups(ctx, key).Result()
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return "", false, nil
		}
		return "", false, fmt.Errorf("xinfo groups %s: %w", key, err)
	}
	for _, g := range groups {
		if g.Name == q.group && g.LastDeliveredID != "" && g.LastDeliveredID != "0-0" {
			return "(" + g.LastDeliveredID, true, nil
		}
	}
	return "-", true, nil
}

// Ping checks Redis connectivity.
func (q *RedisStreamQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
