package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// TaskQueue is a durable named FIFO the web tier pushes to and an external worker drains.
// Delivery is at-least-once, so consumers must tolerate duplicates.
type TaskQueue interface {
	// Enqueue appends payload as JSON and returns the queue length after the push.
	Enqueue(ctx context.Context, name string, payload any) (int64, error)
	// Length returns the number of waiting entries.
	Length(ctx context.Context, name string) (int64, error)
	// Peek returns the entry that will be delivered next without removing it.
	Peek(ctx context.Context, name string) (json.RawMessage, bool, error)
	// Ping checks broker connectivity.
	Ping(ctx context.Context) error
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("queue name required")
	}
	return nil
}
