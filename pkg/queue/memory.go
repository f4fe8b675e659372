package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryQueue is an in-process TaskQueue for local runs and tests. Nothing survives a restart.
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string][]json.RawMessage
	fail   error
}

// NewMemoryQueue returns an empty queue set.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{queues: make(map[string][]json.RawMessage)}
}

// FailWith makes every later call return err until called with nil.
func (q *MemoryQueue) FailWith(err error) {
	q.mu.Lock()
	q.fail = err
	q.mu.Unlock()
}

// Enqueue appends payload to the tail.
func (q *MemoryQueue) Enqueue(_ context.Context, name string, payload any) (int64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return 0, q.fail
	}
	q.queues[name] = append(q.queues[name], data)
	return int64(len(q.queues[name])), nil
}

// Length returns the number of waiting entries.
func (q *MemoryQueue) Length(_ context.Context, name string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return 0, q.fail
	}
	return int64(len(q.queues[name])), nil
}

// Peek returns the oldest entry.
func (q *MemoryQueue) Peek(_ context.Context, name string) (json.RawMessage, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return nil, false, q.fail
	}
	items := q.queues[name]
	if len(items) == 0 {
		return nil, false, nil
	}
	return items[0], true, nil
}

// Ping reports the injected failure, if any.
func (q *MemoryQueue) Ping(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fail
}
