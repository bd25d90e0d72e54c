package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStackNew(t *testing.T) {
	capacity := uint(10)

	stack := New[int](capacity)

	assert.Equal(t, capacity, uint(cap(stack.underlying)))
	assert.Len(t, stack.underlying, 0)
}

func TestStackPushPop(t *testing.T) {
	stack := New[int](0)

	stack.Push(1)
	stack.Push(2)
	assert.Equal(t, uint(2), stack.Len())

	got, err := stack.Pop()
	assert.NoError(t, err)
	assert.Equal(t, 2, got)

	got, err = stack.Pop()
	assert.NoError(t, err)
	assert.Equal(t, 1, got)

	got, err = stack.Pop()
	assert.ErrorIs(t, err, ErrStackEmpty)
	assert.Zero(t, got)
}

func TestStackPopClearsSlot(t *testing.T) {
	v := new(int)
	stack := New[*int](1)
	stack.Push(v)

	_, err := stack.Pop()
	assert.NoError(t, err)
	assert.Nil(t, stack.underlying[:1][0])
}

func TestStackTake(t *testing.T) {
	stack := New[*int](0)
	made := 0
	makeFn := func() *int { made++; return new(int) }

	first := stack.Take(makeFn)
	assert.Equal(t, 1, made)

	stack.Push(first)
	assert.Same(t, first, stack.Take(makeFn))
	assert.Equal(t, 1, made)
}

func TestStackReset(t *testing.T) {
	stack := New[int](0)
	stack.Push(1)
	stack.Push(2)

	stack.Reset()
	assert.Equal(t, uint(0), stack.Len())
	assert.Equal(t, 2, cap(stack.underlying))
}
