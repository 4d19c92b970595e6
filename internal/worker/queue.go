package worker

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("worker: queue closed")

// Item is a queued payload tagged with the epoch it was enqueued in.
type Item[T any] struct {
	Payload T
	Epoch   uint64
}

// Observer is told about depth changes and discarded items.
type Observer interface {
	QueueDelta(n int)
	ChunksDropped(reason string, n int)
}

const (
	DropOverflow    = "overflow"
	DropInterrupted = "interrupted"
)

// Queue is a FIFO of epoch-tagged items for a single consumer.
//
// Put never blocks: when the queue is full the oldest item is discarded.
// Interrupt advances the epoch and purges every queued item; an item handed
// out before the interrupt reports IsStale so the consumer can stop midway.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []Item[T]
	epoch    uint64
	capacity int
	closed   bool

	notify chan struct{}
	done   chan struct{}

	obs Observer
}

// NewQueue returns a queue holding at most capacity items (0 means unbounded).
func NewQueue[T any](capacity int, obs Observer) *Queue[T] {
	return &Queue[T]{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		obs:      obs,
	}
}

// Put enqueues v in the current epoch. It reports whether an older item was
// dropped to make room. Put on a closed queue is ignored.
func (q *Queue[T]) Put(v T) (dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		var zero Item[T]
		q.items[0] = zero
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, Item[T]{Payload: v, Epoch: q.epoch})
	q.mu.Unlock()

	if dropped {
		q.dropped(DropOverflow, 1)
	} else {
		q.delta(1)
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Interrupt starts a new epoch and discards everything queued before it.
// It returns the new epoch.
func (q *Queue[T]) Interrupt() uint64 {
	q.mu.Lock()
	q.epoch++
	n := len(q.items)
	q.items = nil
	epoch := q.epoch
	q.mu.Unlock()

	if n > 0 {
		q.delta(-n)
		q.dropped(DropInterrupted, n)
	}
	return epoch
}

func (q *Queue[T]) Epoch() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.epoch
}

// IsStale reports whether it was enqueued before the latest Interrupt.
func (q *Queue[T]) IsStale(it Item[T]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return it.Epoch < q.epoch
}

// Next blocks until a current-epoch item is available, ctx is done, or the
// queue is closed and drained.
func (q *Queue[T]) Next(ctx context.Context) (Item[T], error) {
	var zero Item[T]
	for {
		q.mu.Lock()
		for len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			stale := it.Epoch < q.epoch
			q.mu.Unlock()

			q.delta(-1)
			if !stale {
				return it, nil
			}
			q.dropped(DropInterrupted, 1)
			q.mu.Lock()
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, ErrClosed
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.notify:
		case <-q.done:
		}
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close discards queued items and wakes the consumer. Safe to call more than once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	n := len(q.items)
	q.items = nil
	q.mu.Unlock()

	q.delta(-n)
	close(q.done)
}

func (q *Queue[T]) delta(n int) {
	if q.obs != nil && n != 0 {
		q.obs.QueueDelta(n)
	}
}

func (q *Queue[T]) dropped(reason string, n int) {
	if q.obs != nil {
		q.obs.ChunksDropped(reason, n)
	}
}
