package changefeed

import (
	"context"
	"sync"
)

// DefaultBufferSize is the memory queue capacity used when none is set.
const DefaultBufferSize = 10000

// MemoryQueue is a bounded in-process queue backed by a channel.
type MemoryQueue struct {
	queue  chan *Event
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a queue holding at most bufferSize events.
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &MemoryQueue{queue: make(chan *Event, bufferSize)}
}

// Enqueue adds an event without blocking. A full queue returns ErrQueueFull.
func (q *MemoryQueue) Enqueue(ctx context.Context, event *Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Dequeue drains up to batchSize events in FIFO order.
func (q *MemoryQueue) Dequeue(ctx context.Context, batchSize int) ([]*Event, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	events := make([]*Event, 0, batchSize)
	for len(events) < batchSize {
		select {
		case event, ok := <-q.queue:
			if !ok {
				return events, nil
			}
			events = append(events, event)
		case <-ctx.Done():
			return events, ctx.Err()
		default:
			return events, nil
		}
	}
	return events, nil
}

// Size returns the number of buffered events.
func (q *MemoryQueue) Size() int {
	return len(q.queue)
}

// Close stops further enqueues. Buffered events can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.queue)
	return nil
}
