package fifo

import (
	"fmt"

	"github.com/aradilov/ringbuffer"
)

// Ring is a fixed-capacity container backed by a preallocated ring buffer.
// It never allocates after construction, so Append fails with ErrFull
// instead of growing.
//
// The ring buffer keeps dequeued slots as they were, so values live in a
// separate cell array that is cleared on removal. Removed values are not kept
// reachable by the ring.
type Ring[T any] struct {
	rb       *ringbuffer.MPMC[*cell[T]]
	cells    []cell[T]
	next     int
	capacity int
	n        int
}

type cell[T any] struct {
	v T
}

// NewRing creates a ring holding at most capacity values.
func NewRing[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be positive, got %d", capacity)
	}
	return &Ring[T]{
		rb:       ringbuffer.NewMPMC[*cell[T]](nextPowerOfTwo(uint64(capacity) + 1)),
		cells:    make([]cell[T], capacity),
		capacity: capacity,
	}, nil
}

// Append stores v at the tail.
func (r *Ring[T]) Append(v T) error {
	if r.n >= r.capacity {
		return ErrFull
	}
	// cells are used in FIFO order, so cells[next] was already removed
	c := &r.cells[r.next]
	c.v = v
	if !r.rb.Enqueue(c) {
		var zero T
		c.v = zero
		return ErrFull
	}
	r.next = (r.next + 1) % r.capacity
	r.n++
	return nil
}

// RemoveFront removes and returns the oldest value.
func (r *Ring[T]) RemoveFront() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	c, ok := r.rb.Dequeue()
	if !ok {
		return zero, false
	}
	v := c.v
	c.v = zero
	r.n--
	return v, true
}

// Len returns the number of stored values.
func (r *Ring[T]) Len() int {
	return r.n
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// the underlying ring indexes with a mask, so its size is a power of two
func nextPowerOfTwo(n uint64) uint64 {
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}
