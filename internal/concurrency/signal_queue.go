// File: internal/concurrency/signal_queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SignalQueue is the blocking hand-off used between pipeline stages.

package concurrency

import (
	"sync"
	"time"

	"github.com/eapache/queue"
)

// SignalQueue is an unbounded FIFO with a timed, stoppable Pop.
//
// Push never blocks. Pop suspends until an item arrives, the timeout
// elapses or the queue is stopped. Items queued before Stop remain
// poppable until drained.
type SignalQueue[T any] struct {
	mu      sync.Mutex
	items   *queue.Queue
	stopped bool

	notify chan struct{} // capacity 1, coalesced wakeups
	done   chan struct{} // closed on Stop
}

// NewSignalQueue returns an empty running queue.
func NewSignalQueue[T any]() *SignalQueue[T] {
	return &SignalQueue[T]{
		items:  queue.New(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends item and wakes one waiter. It reports false, dropping the
// item, when the queue has been stopped.
func (q *SignalQueue[T]) Push(item T) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false
	}
	q.items.Add(item)
	q.mu.Unlock()
	q.signal()
	return true
}

// Pop removes the head item.
//
// timeout < 0 waits indefinitely, timeout == 0 only tries once. The second
// result is false on timeout, or when the queue is stopped and empty.
func (q *SignalQueue[T]) Pop(timeout time.Duration) (T, bool) {
	var (
		zero    T
		expired <-chan time.Time
	)
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		q.mu.Lock()
		if q.items.Length() > 0 {
			v := q.items.Remove().(T)
			more := q.items.Length() > 0
			q.mu.Unlock()
			if more {
				// pass the wakeup on to the next waiter
				q.signal()
			}
			return v, true
		}
		stopped := q.stopped
		q.mu.Unlock()

		if stopped || timeout == 0 {
			return zero, false
		}
		select {
		case <-q.notify:
		case <-q.done:
		case <-expired:
			return q.Pop(0)
		}
	}
}

// Stop rejects further pushes and wakes every waiter. Idempotent.
func (q *SignalQueue[T]) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	close(q.done)
}

// Stopped reports whether Stop has been called.
func (q *SignalQueue[T]) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// Len returns the number of queued items.
func (q *SignalQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

func (q *SignalQueue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
