package task

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/jzx17/taskqueue/pkg/types"
)

// Allocator provides argument buffers for frozen tasks. Alloc returns a
// buffer of exactly size bytes; Free takes back a buffer returned by Alloc.
type Allocator interface {
	Alloc(size int) ([]byte, error)
	Free(buf []byte)
}

// DefaultAllocator is used by tasks built without WithAllocator
var DefaultAllocator Allocator = HeapAllocator{}

// HeapAllocator allocates from the Go heap and leaves freeing to the
// garbage collector
type HeapAllocator struct{}

// Alloc returns a new zeroed buffer
func (HeapAllocator) Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", types.ErrAllocation, size)
	}
	return make([]byte, size), nil
}

// Free is a no-op
func (HeapAllocator) Free([]byte) {}

const (
	minPoolClass = 4  // 16 bytes
	maxPoolClass = 16 // 64 KiB
)

// PoolAllocator reuses buffers through power-of-two size classes to reduce
// GC pressure for tasks frozen at a high rate. Buffers larger than the
// largest class come from the heap and are not pooled.
type PoolAllocator struct {
	classes [maxPoolClass + 1]sync.Pool
}

// NewPoolAllocator creates a new pool allocator
func NewPoolAllocator() *PoolAllocator {
	pa := &PoolAllocator{}
	for c := minPoolClass; c <= maxPoolClass; c++ {
		size := 1 << c
		pa.classes[c].New = func() interface{} {
			buf := make([]byte, size)
			return &buf
		}
	}
	return pa
}

// Alloc retrieves a buffer from the matching size class
func (pa *PoolAllocator) Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", types.ErrAllocation, size)
	}
	c := sizeClass(size)
	if c > maxPoolClass {
		return make([]byte, size), nil
	}
	buf := *(pa.classes[c].Get().(*[]byte))
	buf = buf[:size]
	// pooled buffers carry old contents
	clear(buf)
	return buf, nil
}

// Free returns a buffer to its size class
func (pa *PoolAllocator) Free(buf []byte) {
	c := sizeClass(cap(buf))
	if c > maxPoolClass || cap(buf) != 1<<c {
		return
	}
	buf = buf[:cap(buf)]
	pa.classes[c].Put(&buf)
}

func sizeClass(size int) int {
	if size <= 1<<minPoolClass {
		return minPoolClass
	}
	return bits.Len(uint(size - 1))
}

// LimitedAllocator enforces a byte budget on another allocator and counts
// allocations and frees. Alloc fails with types.ErrAllocation once the
// budget would be exceeded.
type LimitedAllocator struct {
	next  Allocator
	limit int64

	inUse  atomic.Int64
	allocs atomic.Int64
	frees  atomic.Int64
}

// NewLimitedAllocator creates an allocator allowing at most limit bytes in
// use at once. A nil next uses HeapAllocator.
func NewLimitedAllocator(limit int, next Allocator) *LimitedAllocator {
	if next == nil {
		next = HeapAllocator{}
	}
	return &LimitedAllocator{next: next, limit: int64(limit)}
}

// Alloc reserves size bytes of the budget and allocates from next
func (la *LimitedAllocator) Alloc(size int) ([]byte, error) {
	for {
		cur := la.inUse.Load()
		if cur+int64(size) > la.limit {
			return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use",
				types.ErrAllocation, size, cur, la.limit)
		}
		if la.inUse.CompareAndSwap(cur, cur+int64(size)) {
			break
		}
	}

	buf, err := la.next.Alloc(size)
	if err != nil {
		la.inUse.Add(-int64(size))
		return nil, err
	}
	la.allocs.Add(1)
	return buf, nil
}

// Free returns the buffer's bytes to the budget
func (la *LimitedAllocator) Free(buf []byte) {
	la.inUse.Add(-int64(len(buf)))
	la.frees.Add(1)
	la.next.Free(buf)
}

// InUse returns the bytes currently allocated
func (la *LimitedAllocator) InUse() int {
	return int(la.inUse.Load())
}

// Allocs returns the number of successful allocations
func (la *LimitedAllocator) Allocs() int64 {
	return la.allocs.Load()
}

// Frees returns the number of frees
func (la *LimitedAllocator) Frees() int64 {
	return la.frees.Load()
}
