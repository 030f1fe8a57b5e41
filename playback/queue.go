package playback

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/soundpost/envelope"
	"github.com/c360/soundpost/errors"
	"github.com/c360/soundpost/staging"
)

// DefaultQueueCapacity bounds pending alerts
const DefaultQueueCapacity = 16

// Item is one staged alert awaiting playback
type Item struct {
	Meta     envelope.Metadata
	Payload  *staging.Payload
	Retained bool

	seq uint64
}

// Queue is a bounded priority queue. Higher priority dequeues first; equal
// priorities keep arrival order. Safe for one producer and one consumer.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    []*Item
	capacity int
	closed   bool
	nextSeq  uint64
}

// NewQueue creates a queue holding at most capacity items
func NewQueue(capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"playback", "NewQueue", fmt.Sprintf("accept capacity %d", capacity))
	}
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q, nil
}

// Enqueue inserts by priority. It reports whether the item landed at the
// head of the queue, which tells the caller it outranks everything pending.
func (q *Queue) Enqueue(item *Item) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, errors.WrapInvalid(errors.ErrQueueClosed,
			"playback", "Enqueue", "enqueue on closed queue")
	}
	if len(q.items) >= q.capacity {
		return false, errors.WrapInvalid(errors.ErrQueueFull,
			"playback", "Enqueue",
			fmt.Sprintf("fit item in %d-slot queue", q.capacity))
	}

	item.seq = q.nextSeq
	q.nextSeq++

	// Insert after the last item of equal or higher priority
	pos := len(q.items)
	for i, existing := range q.items {
		if item.Meta.Priority > existing.Meta.Priority {
			pos = i
			break
		}
	}
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = item

	q.notEmpty.Signal()
	return pos == 0, nil
}

// Dequeue blocks for the highest-priority item. It returns ErrQueueClosed
// once the queue is closed and drained, or the context error on cancel.
func (q *Queue) Dequeue(ctx context.Context) (*Item, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return nil, errors.WrapInvalid(errors.ErrQueueClosed,
				"playback", "Dequeue", "dequeue on closed queue")
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		q.notEmpty.Wait()
	}

	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

// Len reports pending items
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting items and wakes blocked consumers
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
}

// Drain removes and returns everything pending, for shutdown cleanup
func (q *Queue) Drain() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
