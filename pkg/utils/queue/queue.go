package queue

import "sync"

// Unbounded is a channel-like FIFO queue without capacity limit.
//
// Senders never block. Receivers read from Out(), which is closed
// after Close() once all pending items are drained.
type Unbounded[T any] struct {
	mu      sync.Mutex
	pending []T
	out     chan T
	wake    chan struct{}
	closed  bool
}

func NewUnbounded[T any]() *Unbounded[T] {
	q := &Unbounded[T]{
		out:  make(chan T),
		wake: make(chan struct{}, 1),
	}
	go q.pump()
	return q
}

// Push enqueues item. It is a no-op after Close.
func (q *Unbounded[T]) Push(item T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Out is the receive side. Closed after Close() once drained.
func (q *Unbounded[T]) Out() <-chan T {
	return q.out
}

func (q *Unbounded[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Unbounded[T]) pump() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			if q.closed {
				q.mu.Unlock()
				close(q.out)
				return
			}
			q.mu.Unlock()
			<-q.wake
			continue
		}
		item := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.out <- item
	}
}
