package queue

import (
	"context"
	"fmt"
)

// Publisher publishes reminder messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg ReminderMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg ReminderMessage) error

// Consumer consumes reminder messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// RemindersQueue is the work queue consumed by delivery workers.
	RemindersQueue = "reminders"

	remindersRoutingKey = "reminders"
)

// DLQName returns the poison-message queue for a work queue, e.g. dlq.reminders.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// DLXName returns the dead-letter exchange for a work queue, e.g. reminders.dlx.
func DLXName(queue string) string {
	return fmt.Sprintf("%s.dlx", queue)
}
