package scheduler

import (
	"context"
	"sync"
)

// Queue is a FIFO of job IDs. Pushing an ID that is already waiting is a no-op.
type Queue struct {
	mu      sync.Mutex
	ids     []string
	pending map[string]bool
	ready   chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		pending: make(map[string]bool),
		ready:   make(chan struct{}, 1),
	}
}

// Push appends id unless it is already queued. Reports whether it was added.
func (q *Queue) Push(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending[id] {
		return false
	}
	q.pending[id] = true
	q.ids = append(q.ids, id)

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Pop blocks until an ID is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.ids) > 0 {
			id := q.ids[0]
			q.ids = q.ids[1:]
			delete(q.pending, id)
			more := len(q.ids) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.ready <- struct{}{}:
				default:
				}
			}
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}
