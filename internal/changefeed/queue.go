package changefeed

import (
	"context"
	"errors"
)

var (
	// ErrQueueClosed is returned when publishing to a closed queue.
	ErrQueueClosed = errors.New("changefeed: queue is closed")

	// ErrQueueFull is returned when a bounded queue has no room left.
	ErrQueueFull = errors.New("changefeed: queue is full")

	// ErrInvalidEvent is returned when an event is missing required fields.
	ErrInvalidEvent = errors.New("changefeed: invalid event")
)

// Publisher accepts change events from tables.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Queue buffers events between publishers and the drainer.
type Queue interface {
	// Enqueue adds an event to the queue.
	Enqueue(ctx context.Context, event *Event) error

	// Dequeue returns up to batchSize events in publish order. It returns
	// an empty batch rather than blocking when nothing is available.
	Dequeue(ctx context.Context, batchSize int) ([]*Event, error)

	// Size returns the number of queued events, approximate for remote
	// queues.
	Size() int

	// Close releases the queue. Enqueue fails afterwards.
	Close() error
}

// Sink is the destination the drainer delivers events to.
type Sink interface {
	Write(ctx context.Context, event *Event) error
	Close() error
}
