package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitQueue publishes tasks to durable RabbitMQ queues on the default exchange.
type RabbitQueue struct {
	conn *amqp.Connection

	mu sync.Mutex
	ch *amqp.Channel
}

// NewRabbitQueue dials the broker.
func NewRabbitQueue(url string) (*RabbitQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	return &RabbitQueue{conn: conn}, nil
}

// Enqueue publishes a persistent JSON message and returns the queue depth including it.
func (q *RabbitQueue) Enqueue(ctx context.Context, name string, payload any) (int64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, err := q.channel()
	if err != nil {
		return 0, err
	}
	state, err := ch.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		q.reset()
		return 0, fmt.Errorf("declare queue %s: %w", name, err)
	}
	err = ch.PublishWithContext(ctx, "", name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         data,
	})
	if err != nil {
		q.reset()
		return 0, fmt.Errorf("publish %s: %w", name, err)
	}
	return int64(state.Messages) + 1, nil
}

// Length returns the ready message count.
func (q *RabbitQueue) Length(_ context.Context, name string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, err := q.channel()
	if err != nil {
		return 0, err
	}
	state, err := ch.QueueDeclarePassive(name, true, false, false, false, nil)
	if err != nil {
		q.reset()
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("inspect queue %s: %w", name, err)
	}
	return int64(state.Messages), nil
}

// Peek fetches the head message and immediately requeues it.
func (q *RabbitQueue) Peek(_ context.Context, name string) (json.RawMessage, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, err := q.channel()
	if err != nil {
		return nil, false, err
	}
	msg, ok, err := ch.Get(name, false)
	if err != nil {
		q.reset()
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	if err := msg.Nack(false, true); err != nil {
		return nil, false, fmt.Errorf("requeue peeked message: %w", err)
	}
	return json.RawMessage(msg.Body), true, nil
}

// Ping reports whether the connection is open.
func (q *RabbitQueue) Ping(context.Context) error {
	if q.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// Close shuts the channel and connection.
func (q *RabbitQueue) Close() error {
	q.mu.Lock()
	q.reset()
	q.mu.Unlock()
	return q.conn.Close()
}

// channel must be called with mu held. A channel closed by a broker error is reopened.
func (q *RabbitQueue) channel() (*amqp.Channel, error) {
	if q.ch != nil && !q.ch.IsClosed() {
		return q.ch, nil
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	q.ch = ch
	return ch, nil
}

func (q *RabbitQueue) reset() {
	if q.ch != nil {
		_ = q.ch.Close()
		q.ch = nil
	}
}
