package queue

import (
	"secure-socket/lib/ds/internal"

	"github.com/pkg/errors"
)

var ErrQueueEmpty = errors.New("queue is empty")

type Queue[T any] interface {
	Enqueue(v T)
	Dequeue() (T, error)
	Peek() (T, error)
	Len() uint
}

// NaiveQueue is a slice backed FIFO. Dequeued slots are zeroed so the queue
// doesn't pin released elements, and the backing array is compacted once
// the consumed prefix dominates it.
type NaiveQueue[T any] struct {
	queue []T
	head  int
}

func NewNaive[T any](initialCap uint) *NaiveQueue[T] {
	return &NaiveQueue[T]{queue: make([]T, 0, initialCap)}
}

var _ Queue[int] = (*NaiveQueue[int])(nil)

func (q *NaiveQueue[T]) Enqueue(v T) {
	if q.head > 0 && q.head == len(q.queue) {
		// Fully drained. Reuse the array from the beginning.
		q.queue, q.head = q.queue[:0], 0
	}
	q.queue = append(q.queue, v)
}

func (q *NaiveQueue[T]) Dequeue() (T, error) {
	if q.Len() == 0 {
		return internal.Zero[T](), ErrQueueEmpty
	}

	v := q.queue[q.head]
	q.queue[q.head] = internal.Zero[T]()
	q.head++

	if q.head >= 32 && q.head*2 >= len(q.queue) {
		n := copy(q.queue, q.queue[q.head:])
		clear(q.queue[n:])
		q.queue, q.head = q.queue[:n], 0
	}

	return v, nil
}

func (q *NaiveQueue[T]) Peek() (T, error) {
	if q.Len() == 0 {
		return internal.Zero[T](), ErrQueueEmpty
	}
	return q.queue[q.head], nil
}

func (q *NaiveQueue[T]) Len() uint {
	return uint(len(q.queue) - q.head)
}

// Clear empties the queue and returns the removed elements in order.
func (q *NaiveQueue[T]) Clear() []T {
	out := make([]T, q.Len())
	copy(out, q.queue[q.head:])

	clear(q.queue)
	q.queue, q.head = q.queue[:0], 0

	return out
}
