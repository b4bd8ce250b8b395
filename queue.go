package recorder

import (
	"errors"
	"fmt"
	"sync"
)

// Queue protocol errors.
var (
	ErrQueueClosed    = errors.New("queue closed")
	ErrIndexConsumed  = errors.New("index already consumed")
	ErrDuplicateIndex = errors.New("index already pending")
)

// OrderedQueue turns out-of-order indexed pushes from many goroutines into
// an in-order sequence for a single consumer.
//
// An item is released only when its index equals the cursor; the cursor
// then advances by one. Memory is bounded by the number of items that
// complete ahead of the cursor, which callers bound by limiting how many
// items they have in flight.
type OrderedQueue[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending map[uint64]T
	cursor  uint64
	closed  bool
	aborted bool
}

// NewOrderedQueue creates an empty queue whose cursor starts at 0.
func NewOrderedQueue[T any]() *OrderedQueue[T] {
	q := &OrderedQueue[T]{pending: make(map[uint64]T)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push inserts item at index. It never blocks. A failed push leaves the
// queue untouched.
func (q *OrderedQueue[T]) Push(index uint64, item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if index < q.cursor {
		return fmt.Errorf("%w: index %d, cursor %d", ErrIndexConsumed, index, q.cursor)
	}
	if _, ok := q.pending[index]; ok {
		return fmt.Errorf("%w: index %d", ErrDuplicateIndex, index)
	}

	q.pending[index] = item
	if index == q.cursor {
		q.cond.Signal()
	}
	return nil
}

// Next blocks until the item at the cursor is available and returns it.
// It returns false once the queue is closed and nothing more can be
// released in order, or immediately after Abort.
func (q *OrderedQueue[T]) Next() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.aborted {
			var zero T
			return zero, false
		}
		if item, ok := q.pending[q.cursor]; ok {
			delete(q.pending, q.cursor)
			q.cursor++
			return item, true
		}
		// Closed with the cursor item missing: nothing can fill the gap.
		if q.closed {
			var zero T
			return zero, false
		}
		q.cond.Wait()
	}
}

// Close signals that no more pushes will occur. Items already buffered
// are still released in order. Close is idempotent.
func (q *OrderedQueue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Abort closes the queue, discards everything buffered and wakes the
// consumer. It returns the number of discarded items.
func (q *OrderedQueue[T]) Abort() int {
	q.mu.Lock()
	dropped := len(q.pending)
	q.pending = make(map[uint64]T)
	q.closed = true
	q.aborted = true
	q.mu.Unlock()
	q.cond.Broadcast()
	return dropped
}

// Cursor returns the next index the consumer will receive.
func (q *OrderedQueue[T]) Cursor() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cursor
}

// Pending returns the number of buffered items.
func (q *OrderedQueue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stranded returns how many buffered items can no longer be released
// because the queue was closed with a gap before them.
func (q *OrderedQueue[T]) Stranded() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		return 0
	}
	if _, ok := q.pending[q.cursor]; ok {
		return 0
	}
	return len(q.pending)
}
