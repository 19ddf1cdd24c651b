// Package fifo provides unsynchronized first-in-first-out containers.
//
// Containers hold values in arrival order and support append at the tail,
// removal from the front and a length query. They perform no locking; callers
// sharing a container between goroutines must serialize access themselves.
package fifo

import "errors"

// ErrFull is returned by Append when a container has reached its capacity.
var ErrFull = errors.New("fifo: container is full")

// Container is the FIFO capability consumed by the task queue.
type Container[T any] interface {
	// Append stores v at the tail. It fails with ErrFull when the container
	// cannot grow, in which case v is not stored.
	Append(v T) error

	// RemoveFront removes and returns the oldest value. The boolean is false
	// when the container is empty.
	RemoveFront() (T, bool)

	// Len returns the number of stored values.
	Len() int

	// Cap returns the maximum number of values, or 0 when unbounded.
	Cap() int
}

const minListSize = 8

// List is a growable circular buffer. A zero List is an empty, unbounded
// container ready to use.
type List[T any] struct {
	buf  []T
	head int
	n    int
	max  int
}

// NewList creates a list holding at most max values. A max of 0 or less
// means unbounded.
func NewList[T any](max int) *List[T] {
	if max < 0 {
		max = 0
	}
	return &List[T]{max: max}
}

// Append stores v at the tail, growing the buffer as needed.
func (l *List[T]) Append(v T) error {
	if l.max > 0 && l.n >= l.max {
		return ErrFull
	}
	if l.n == len(l.buf) {
		l.grow()
	}
	l.buf[(l.head+l.n)%len(l.buf)] = v
	l.n++
	return nil
}

// RemoveFront removes and returns the oldest value.
func (l *List[T]) RemoveFront() (T, bool) {
	var zero T
	if l.n == 0 {
		return zero, false
	}
	v := l.buf[l.head]
	// drop the reference so the popped value can be collected
	l.buf[l.head] = zero
	l.head = (l.head + 1) % len(l.buf)
	l.n--
	if l.n == 0 {
		l.head = 0
	}
	return v, true
}

// Len returns the number of stored values.
func (l *List[T]) Len() int {
	return l.n
}

// Cap returns the configured maximum, 0 when unbounded.
func (l *List[T]) Cap() int {
	return l.max
}

func (l *List[T]) grow() {
	size := len(l.buf) * 2
	if size < minListSize {
		size = minListSize
	}
	if l.max > 0 && size > l.max {
		size = l.max
	}
	buf := make([]T, size)
	for i := 0; i < l.n; i++ {
		buf[i] = l.buf[(l.head+i)%len(l.buf)]
	}
	l.buf = buf
	l.head = 0
}
