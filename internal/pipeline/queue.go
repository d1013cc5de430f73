package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/starford/ansuz/internal/vault"
)

// Task is one file to process. Path is root-relative with forward slashes;
// the worker reads the bytes itself.
type Task struct {
	Class vault.Class
	Path  string
}

// Queue is an unbounded multi-producer multi-consumer FIFO. Pop blocks
// while the queue is empty and open; Close marks the end of input.
type Queue struct {
	mu     sync.Mutex
	items  []Task
	closed bool
	wake   chan struct{} // closed and replaced on every Push and on Close

	pushed atomic.Int64
}

// NewQueue returns an empty open queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{})}
}

// Push appends t. It reports false if the queue is already closed.
func (q *Queue) Push(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, t)
	q.pushed.Add(1)
	q.broadcast()
	return true
}

// Close ends input. Consumers drain what is left and then see ok == false.
// Closing twice is a no-op.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcast()
}

// broadcast wakes every waiting Pop. Callers hold mu.
func (q *Queue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Pop removes the oldest task. It returns ok == false once the queue is
// closed and drained, or when ctx is done.
func (q *Queue) Pop(ctx context.Context) (Task, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			t := q.items[0]
			q.items[0] = Task{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return t, true
		}
		if q.closed {
			q.mu.Unlock()
			return Task{}, false
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return Task{}, false
		}
	}
}

// Pushed returns the number of tasks accepted so far.
func (q *Queue) Pushed() int64 { return q.pushed.Load() }
