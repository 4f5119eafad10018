// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO whose consumer blocks until an item
// arrives. Push never blocks; pushing to an empty queue wakes a
// pending Shift.
//
// Queue backs both the outgoing request queue of a channel and the
// mailbox of every local port.
type Queue[T any] struct {
	mu        sync.Mutex
	items     []T
	wake      chan struct{}
	closed    bool
	destroyed bool
}

// NewQueue returns an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{wake: make(chan struct{})}
}

// Push appends item. Returns ErrChannelClosed after Close or Destroy.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.destroyed {
		return ErrChannelClosed
	}
	q.items = append(q.items, item)
	if len(q.items) == 1 {
		close(q.wake)
		q.wake = make(chan struct{})
	}
	return nil
}

// Shift removes and returns the oldest item, blocking until one is
// available or ctx is done. After Close it drains the remaining items
// and then fails; after Destroy it fails at once.
func (q *Queue[T]) Shift(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if q.destroyed {
			q.mu.Unlock()
			var zero T
			return zero, ErrChannelClosed
		}
		if len(q.items) > 0 {
			item := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, ErrChannelClosed
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further pushes. Items already queued can still be
// shifted; once they are gone Shift fails with ErrChannelClosed.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.destroyed {
		return
	}
	q.closed = true
	close(q.wake)
}

// Destroy fails every pending and future Shift and Push with
// ErrChannelClosed and returns the items that were never shifted.
// Idempotent; later calls return nil.
func (q *Queue[T]) Destroy() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return nil
	}
	q.destroyed = true
	remaining := q.items
	q.items = nil
	if !q.closed {
		close(q.wake)
	}
	return remaining
}
