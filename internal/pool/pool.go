// Package pool provides a typed wrapper around sync.Pool for objects that
// know how to reset themselves.
package pool

import (
	"sync"
)

// Resetter is implemented by objects that can be returned to a Pool.
type Resetter interface {
	Reset()
}

// Pool is a generic pool of objects that implement the Resetter interface.
type Pool[T Resetter] struct {
	pool sync.Pool
}

// New creates a Pool that uses newFn when it has nothing to hand out.
func New[T Resetter](newFn func() T) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() interface{} {
				return newFn()
			},
		},
	}
}

// Get retrieves an object from the pool.
func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put resets obj and places it back into the pool.
func (p *Pool[T]) Put(obj T) {
	obj.Reset()
	p.pool.Put(obj)
}

// Buffer is a reusable byte buffer.
type Buffer struct {
	B []byte
}

// Reset truncates the buffer, keeping its capacity.
func (b *Buffer) Reset() {
	b.B = b.B[:0]
}

// Grow makes sure at least n more bytes fit without reallocating.
func (b *Buffer) Grow(n int) {
	if cap(b.B)-len(b.B) < n {
		grown := make([]byte, len(b.B), len(b.B)+n)
		copy(grown, b.B)
		b.B = grown
	}
}

// Buffers is a shared pool of byte buffers.
var Buffers = New(func() *Buffer { return &Buffer{B: make([]byte, 0, 2048)} })
