package queue

// https://dev.to/hvydya/how-to-build-a-thread-safe-queue-in-go-lbh

import (
	"errors"
	"sync"
)

var (
	ErrFull  = errors.New("queue is full")
	ErrEmpty = errors.New("queue is empty")
)

// Queue is a bounded, thread-safe first in, first out queue.
type Queue[T any] struct {
	mu       sync.Mutex
	capacity int
	q        []T
}

// Creates an empty queue with a specified capacity
func CreateQueue[T any](capacity int) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, errors.New("capacity should be greater than 0")
	}
	return &Queue[T]{
		capacity: capacity,
		q:        make([]T, 0, min(capacity, 1024)),
	}, nil
}

// Inserts the item at the back of the queue
func (q *Queue[T]) Insert(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.q) < q.capacity {
		q.q = append(q.q, item)
		return nil
	}
	return ErrFull
}

// Inserts the item, dropping the oldest element when full.
// Returns the dropped element and whether one was dropped.
func (q *Queue[T]) Push(item T) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var dropped T
	evicted := false
	if len(q.q) >= q.capacity {
		dropped = q.q[0]
		q.q = q.q[1:]
		evicted = true
	}
	q.q = append(q.q, item)
	return dropped, evicted
}

// Removes the oldest element from the queue
func (q *Queue[T]) Remove() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.q) == 0 {
		return zero, ErrEmpty
	}
	item := q.q[0]
	q.q[0] = zero
	q.q = q.q[1:]
	return item, nil
}

// Returns the oldest element without removing it
func (q *Queue[T]) Peek() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.q) == 0 {
		var zero T
		return zero, ErrEmpty
	}
	return q.q[0], nil
}

// Keeps only the elements for which keep returns true, preserving order.
func (q *Queue[T]) Filter(keep func(T) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.q[:0]
	for _, item := range q.q {
		if keep(item) {
			kept = append(kept, item)
		}
	}
	var zero T
	for i := len(kept); i < len(q.q); i++ {
		q.q[i] = zero
	}
	q.q = kept
}

// Returns a copy of the queued elements, oldest first
func (q *Queue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.q))
	copy(out, q.q)
	return out
}

// Returns the number of elements in the queue
func (q *Queue[T]) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.q)
}

// Returns the capacity of the queue
func (q *Queue[T]) Capacity() int {
	return q.capacity
}

// Returns true if the queue is empty
func (q *Queue[T]) IsEmpty() bool {
	return q.Length() == 0
}
