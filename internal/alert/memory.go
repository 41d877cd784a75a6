package alert

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueFull is returned when a bounded queue has no free slot.
	ErrQueueFull = errors.New("alert queue full")
	// ErrQueueClosed is returned once Close has been called.
	ErrQueueClosed = errors.New("alert queue closed")
)

// MemoryQueue is a bounded in-process queue. Enqueue never blocks.
type MemoryQueue struct {
	tasks  chan Task
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a queue holding at most size tasks.
func NewMemoryQueue(size int) *MemoryQueue {
	if size < 1 {
		size = 1
	}
	return &MemoryQueue{tasks: make(chan Task, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, t Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue returns the oldest task. After Close it drains what is left and
// then returns ErrQueueClosed.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case <-ctx.Done():
		return Task{}, ctx.Err()
	case t, ok := <-q.tasks:
		if !ok {
			return Task{}, ErrQueueClosed
		}
		return t, nil
	}
}

// Len reports the number of queued tasks.
func (q *MemoryQueue) Len() int { return len(q.tasks) }

// Close stops accepting tasks. It is safe to call more than once.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
}
