package bridge

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned when pushing to a closed queue
var ErrQueueClosed = errors.New("queue closed")

// Queue is an unbounded FIFO. Push never blocks on a slow consumer; items
// are read from Out, which is closed once the queue is closed and drained.
type Queue[T any] struct {
	in  chan T
	out chan T

	mu     sync.RWMutex
	closed bool // Protected by mu

	pending atomic.Int64
}

// NewQueue creates a queue and starts its pump
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go q.pump()
	return q
}

// Push appends v. It fails only once the queue is closed.
func (q *Queue[T]) Push(v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.pending.Add(1)
	q.in <- v
	return nil
}

// Out returns the receive side of the queue
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

// Close stops accepting items. Items already pushed are still delivered.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.in)
	}
}

// Discard closes the queue and drops anything still buffered
func (q *Queue[T]) Discard() {
	q.Close()
	go func() {
		for range q.out {
		}
	}()
}

// Closed reports whether Close has been called
func (q *Queue[T]) Closed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Len returns the number of items pushed but not yet received
func (q *Queue[T]) Len() int {
	return int(q.pending.Load())
}

func (q *Queue[T]) pump() {
	var buf []T
	in := q.in

	for in != nil || len(buf) > 0 {
		var out chan T
		var next T
		if len(buf) > 0 {
			out = q.out
			next = buf[0]
		}

		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, v)
		case out <- next:
			var zero T
			buf[0] = zero
			buf = buf[1:]
			q.pending.Add(-1)
		}
	}
	close(q.out)
}
