package stack

import (
	"secure-socket/lib/ds/internal"

	"github.com/pkg/errors"
)

var ErrStackEmpty = errors.New("stack is empty")

// Stack is a LIFO. Free lists use it through Take so that recently
// released objects, which are most likely still cached, get reused first.
type Stack[T any] struct{ underlying []T }

func New[T any](cap uint) *Stack[T] {
	return &Stack[T]{underlying: make([]T, 0, cap)}
}

func (s *Stack[T]) Len() uint {
	return uint(len(s.underlying))
}

func (s *Stack[T]) Push(data T) {
	s.underlying = append(s.underlying, data)
}

func (s *Stack[T]) Pop() (T, error) {
	if s.Len() == 0 {
		return internal.Zero[T](), ErrStackEmpty
	}

	last := len(s.underlying) - 1
	data := s.underlying[last]
	s.underlying[last] = internal.Zero[T]()
	s.underlying = s.underlying[:last]

	return data, nil
}

// Take pops an element, or makes a new one when the stack is empty.
func (s *Stack[T]) Take(makeFn func() T) T {
	if data, err := s.Pop(); err == nil {
		return data
	}
	return makeFn()
}

// Reset drops every element but keeps the capacity.
func (s *Stack[T]) Reset() {
	clear(s.underlying)
	s.underlying = s.underlying[:0]
}
