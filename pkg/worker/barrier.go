package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/jzx17/taskqueue/pkg/types"
)

// Barrier is a reusable synchronization point for a fixed number of
// goroutines. Each round releases everyone once the last party arrives.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	arrived    int
	generation uint64
}

// NewBarrier creates a barrier for parties goroutines
func NewBarrier(parties int) (*Barrier, error) {
	if parties <= 0 {
		return nil, fmt.Errorf("%w: barrier parties must be positive, got %d", types.ErrInvalidConfig, parties)
	}
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b, nil
}

// Parties returns the number of goroutines the barrier waits for
func (b *Barrier) Parties() int {
	return b.parties
}

// Wait blocks until all parties have called Wait for the current round. The
// last goroutine to arrive gets last == true. If ctx is done first the
// caller leaves the round and ctx.Err() is returned.
func (b *Barrier) Wait(ctx context.Context) (last bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.generation
	b.arrived++
	if b.arrived == b.parties {
		b.arrived = 0
		b.generation++
		b.cond.Broadcast()
		return true, nil
	}

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		defer stop()
	}

	for gen == b.generation {
		if err := ctx.Err(); err != nil {
			b.arrived--
			return false, err
		}
		b.cond.Wait()
	}
	return false, nil
}
