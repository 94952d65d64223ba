package queue

import (
	"context"
	"sync"

	"github.com/ghalamif/TradeReplica/internal/domain"
	"github.com/ghalamif/TradeReplica/internal/ports"
)

const compactThreshold = 1024

// MemQueue is an in-memory FIFO that preserves push order across all
// producers. A capacity of zero makes it unbounded. When bounded, Push
// blocks until space frees up, or fails with domain.ErrQueueFull if the
// queue was built with reject set.
type MemQueue struct {
	mu     sync.Mutex
	data   []domain.Envelope
	head   int
	cap    int
	reject bool
	closed bool

	notEmpty chan struct{}
	notFull  chan struct{}
	done     chan struct{}
}

func NewMemQueue(capacity int, reject bool) *MemQueue {
	if capacity < 0 {
		capacity = 0
	}
	initial := capacity
	if initial == 0 || initial > compactThreshold {
		initial = compactThreshold
	}
	return &MemQueue{
		data:     make([]domain.Envelope, 0, initial),
		cap:      capacity,
		reject:   reject,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// NewFromPolicy builds a queue from the configured capacity policy.
func NewFromPolicy(pol ports.Policy) *MemQueue {
	return NewMemQueue(pol.MaxQueueLen, pol.OnQueueFull == "reject")
}

func (q *MemQueue) Push(ctx context.Context, env domain.Envelope) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return domain.ErrQueueClosed
		}
		if q.cap == 0 || q.lenLocked() < q.cap {
			q.data = append(q.data, env)
			spare := q.cap == 0 || q.lenLocked() < q.cap
			q.mu.Unlock()
			signal(q.notEmpty)
			if spare {
				// another producer may be parked on the same slot
				signal(q.notFull)
			}
			return nil
		}
		if q.reject {
			q.mu.Unlock()
			return domain.ErrQueueFull
		}
		q.mu.Unlock()

		select {
		case <-q.notFull:
		case <-q.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *MemQueue) Pop() (domain.Envelope, bool) {
	for {
		q.mu.Lock()
		if q.lenLocked() > 0 {
			env := q.data[q.head]
			q.data[q.head] = domain.Envelope{}
			q.head++
			q.compactLocked()
			remaining := q.lenLocked()
			q.mu.Unlock()
			signal(q.notFull)
			if remaining > 0 {
				signal(q.notEmpty)
			}
			return env, true
		}
		if q.closed {
			q.mu.Unlock()
			return domain.Envelope{}, false
		}
		q.mu.Unlock()

		select {
		case <-q.notEmpty:
		case <-q.done:
		}
	}
}

// Shutdown wakes every blocked caller. Pending envelopes stay poppable;
// Pop reports false only after they are drained.
func (q *MemQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *MemQueue) lenLocked() int {
	return len(q.data) - q.head
}

func (q *MemQueue) compactLocked() {
	if q.head == len(q.data) {
		q.data = q.data[:0]
		q.head = 0
		return
	}
	if q.head < compactThreshold || q.head < len(q.data)/2 {
		return
	}
	n := copy(q.data, q.data[q.head:])
	clear(q.data[n:])
	q.data = q.data[:n]
	q.head = 0
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

var _ ports.EnvelopeQueue = (*MemQueue)(nil)
