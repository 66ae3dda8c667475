package server

import (
	"sync"
)

// queue is an unbounded FIFO of work for the dispatch goroutine. push never
// blocks beyond the mutex; a single consumer drains it.
type queue struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	wake   chan struct{} // capacity 1, signalled on push
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

// push appends fn. It fails with ErrClosed once the queue is closed.
func (q *queue) push(fn func()) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// drain removes and returns everything queued so far, in push order.
func (q *queue) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close rejects further pushes. Items already queued can still be drained.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
