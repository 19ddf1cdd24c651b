package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jzx17/taskqueue/internal/testutils"
	"github.com/jzx17/taskqueue/pkg/task"
	"github.com/jzx17/taskqueue/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, config *PoolConfig) *Pool {
	t.Helper()
	if config.Logger == nil {
		config.Logger = testutils.QuietLogger()
	}
	pool, err := NewPool(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestNewPool(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		pool, err := NewPool(nil)
		require.NoError(t, err)
		defer pool.Close()

		assert.Equal(t, 10, pool.Size())
		assert.Equal(t, 0, pool.Queue().Capacity())
		assert.False(t, pool.IsRunning())
		assert.False(t, pool.IsClosed())
	})

	t.Run("invalid pool size", func(t *testing.T) {
		_, err := NewPool(&PoolConfig{PoolSize: 0})
		assert.ErrorIs(t, err, types.ErrInvalidConfig)

		_, err = NewPool(&PoolConfig{PoolSize: -1})
		assert.ErrorIs(t, err, types.ErrInvalidConfig)
	})

	t.Run("invalid queue", func(t *testing.T) {
		_, err := NewPool(&PoolConfig{PoolSize: 2, BoundedQueue: true})
		assert.ErrorIs(t, err, types.ErrInvalidConfig)
	})

	t.Run("defaults filled in", func(t *testing.T) {
		config := &PoolConfig{PoolSize: 2, QueueCapacity: 8, BoundedQueue: true}
		pool := newTestPool(t, config)

		assert.Equal(t, 8, pool.Queue().Capacity())
		assert.Equal(t, DefaultPoolConfig().StopTimeout, config.StopTimeout)
		assert.NotNil(t, config.Clock)
	})
}

func TestPool_Lifecycle(t *testing.T) {
	pool := newTestPool(t, &PoolConfig{PoolSize: 2})
	ctx := testutils.Context(t)

	assert.Error(t, pool.Stop())

	require.NoError(t, pool.Start(ctx))
	assert.True(t, pool.IsRunning())
	assert.Error(t, pool.Start(ctx))

	require.NoError(t, pool.Stop())
	assert.False(t, pool.IsRunning())

	// a stopped pool can be started again
	require.NoError(t, pool.Start(ctx))
	require.NoError(t, pool.Close())
	assert.True(t, pool.IsClosed())
	assert.False(t, pool.IsRunning())

	assert.Error(t, pool.Start(ctx))
	assert.Error(t, pool.Stop())
	assert.NoError(t, pool.Close())
}

func TestPool_SubmitAndWait(t *testing.T) {
	pool := newTestPool(t, &PoolConfig{PoolSize: 4})
	ctx := testutils.Context(t)
	require.NoError(t, pool.Start(ctx))

	const numTasks = 100
	var counter int64
	for i := 0; i < numTasks; i++ {
		require.NoError(t, pool.SubmitFunc(func(ctx context.Context) error {
			atomic.AddInt64(&counter, 1)
			return nil
		}))
	}
	require.NoError(t, pool.Wait(ctx))

	assert.Equal(t, int64(numTasks), atomic.LoadInt64(&counter))
	stats := pool.Stats()
	assert.Equal(t, int64(numTasks), stats.TotalProcessed)
	assert.Equal(t, int64(0), stats.TotalFailed)
	assert.Equal(t, int64(numTasks), stats.Queue.TotalCompleted)
	assert.Equal(t, 0, stats.Queue.Outstanding())
	assert.Equal(t, 0, pool.Pending())
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	pool := newTestPool(t, &PoolConfig{PoolSize: 2})
	ctx := testutils.Context(t)

	var counter int64
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.SubmitFunc(func(ctx context.Context) error {
			atomic.AddInt64(&counter, 1)
			return nil
		}))
	}
	assert.Equal(t, 10, pool.Pending())
	assert.Equal(t, int64(0), atomic.LoadInt64(&counter))

	require.NoError(t, pool.Start(ctx))
	require.NoError(t, pool.Wait(ctx))
	assert.Equal(t, int64(10), atomic.LoadInt64(&counter))
}

func TestPool_SubmitN(t *testing.T) {
	pool := newTestPool(t, &PoolConfig{PoolSize: 3})
	ctx := testutils.Context(t)
	require.NoError(t, pool.Start(ctx))

	var total int64
	tk := task.NewWithArg(func(ctx context.Context, arg []byte) error {
		atomic.AddInt64(&total, int64(len(arg)))
		return nil
	}, []byte("four"))

	require.NoError(t, pool.SubmitN(tk, 25))
	require.NoError(t, pool.Wait(ctx))
	assert.Equal(t, int64(100), atomic.LoadInt64(&total))
}

func TestPool_Failures(t *testing.T) {
	var handled int64
	pool := newTestPool(t, &PoolConfig{
		PoolSize: 2,
		ErrorHandler: func(err error) error {
			atomic.AddInt64(&handled, 1)
			return nil
		},
	})
	ctx := testutils.Context(t)
	require.NoError(t, pool.Start(ctx))

	require.NoError(t, pool.SubmitFunc(func(ctx context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, pool.SubmitFunc(func(ctx context.Context) error {
		panic("boom")
	}))
	require.NoError(t, pool.SubmitFunc(func(ctx context.Context) error {
		return nil
	}))
	require.NoError(t, pool.Wait(ctx))

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.TotalProcessed)
	assert.Equal(t, int64(2), stats.TotalFailed)
	assert.Equal(t, int64(2), atomic.LoadInt64(&handled))
	assert.True(t, pool.IsRunning())
}

func TestPool_AverageExecutionTime(t *testing.T) {
	mock := testutils.NewMockClock(t)
	pool := newTestPool(t, &PoolConfig{
		PoolSize: 1,
		Clock:    testutils.NewClockWrapper(mock),
	})
	ctx := testutils.Context(t)

	for _, d := range []time.Duration{10 * time.Millisecond, 30 * time.Millisecond} {
		require.NoError(t, pool.SubmitFunc(func(ctx context.Context) error {
			mock.Advance(d)
			return nil
		}))
	}
	require.NoError(t, pool.Start(ctx))
	require.NoError(t, pool.Wait(ctx))

	assert.Equal(t, 20*time.Millisecond, pool.Stats().AverageExecutionTime)

	workerStats := pool.GetWorkerStats()
	require.Len(t, workerStats, 1)
	assert.Equal(t, int64(2), workerStats[0].TotalProcessed)
}

func TestPool_StopKeepsPendingTasks(t *testing.T) {
	pool := newTestPool(t, &PoolConfig{PoolSize: 1})
	ctx := testutils.Context(t)
	require.NoError(t, pool.Start(ctx))

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, pool.SubmitFunc(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	var ran int64
	require.NoError(t, pool.SubmitFunc(func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	}))
	<-started

	stopErr := make(chan error, 1)
	go func() { stopErr <- pool.Stop() }()
	testutils.Eventually(t, func() bool { return !pool.IsRunning() })
	close(release)
	require.NoError(t, testutils.Receive(t, stopErr))

	assert.Equal(t, 1, pool.Pending())
	assert.Equal(t, int64(0), atomic.LoadInt64(&ran))

	require.NoError(t, pool.Start(ctx))
	require.NoError(t, pool.Wait(ctx))
	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
}

func TestPool_StopTimeout(t *testing.T) {
	pool := newTestPool(t, &PoolConfig{PoolSize: 1, StopTimeout: 20 * time.Millisecond})
	ctx := testutils.Context(t)
	require.NoError(t, pool.Start(ctx))

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, pool.SubmitFunc(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	err := pool.Stop()
	assert.ErrorIs(t, err, types.ErrTimeout)
	var qe *types.QueueError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "stop", qe.Operation)
	assert.False(t, pool.IsRunning())

	close(release)
	require.NoError(t, pool.Wait(ctx))
}

func TestPool_CloseRetriesAfterStopTimeout(t *testing.T) {
	pool := newTestPool(t, &PoolConfig{PoolSize: 1, StopTimeout: 20 * time.Millisecond})
	require.NoError(t, pool.Start(testutils.Context(t)))

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, pool.SubmitFunc(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	alloc := task.NewLimitedAllocator(64, nil)
	require.NoError(t, pool.Submit(task.NewWithArg(func(ctx context.Context, arg []byte) error {
		return nil
	}, []byte("pending"), task.WithAllocator(alloc))))

	assert.ErrorIs(t, pool.Close(), types.ErrTimeout)
	assert.False(t, pool.IsClosed())

	// still in flight, so the queue refuses to close
	assert.ErrorIs(t, pool.Close(), types.ErrRunningTasks)
	assert.False(t, pool.IsClosed())

	close(release)
	testutils.Eventually(t, func() bool { return pool.Queue().Running() == 0 })

	require.NoError(t, pool.Close())
	assert.True(t, pool.IsClosed())
	assert.True(t, pool.Queue().IsClosed())
	assert.Equal(t, 0, alloc.InUse())
	assert.Equal(t, int64(1), pool.Stats().Queue.TotalDiscarded)
	assert.NoError(t, pool.Close())
}

func TestPool_Close(t *testing.T) {
	pool := newTestPool(t, &PoolConfig{PoolSize: 2})

	alloc := task.NewLimitedAllocator(1024, nil)
	var ran int64
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(task.NewWithArg(func(ctx context.Context, arg []byte) error {
			atomic.AddInt64(&ran, 1)
			return nil
		}, []byte("pending"), task.WithAllocator(alloc))))
	}
	assert.Equal(t, 35, alloc.InUse())

	require.NoError(t, pool.Close())
	assert.True(t, pool.IsClosed())
	assert.Equal(t, int64(0), atomic.LoadInt64(&ran))
	assert.Equal(t, 0, alloc.InUse())
	assert.Equal(t, int64(5), pool.Stats().Queue.TotalDiscarded)

	err := pool.SubmitFunc(func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, types.ErrQueueClosed)
}

func TestPool_PushBarrier(t *testing.T) {
	const poolSize = 3
	pool := newTestPool(t, &PoolConfig{PoolSize: poolSize})
	ctx := testutils.Context(t)
	require.NoError(t, pool.Start(ctx))

	var mu sync.Mutex
	var events []string
	record := func(event string) func(context.Context) error {
		return func(ctx context.Context) error {
			time.Sleep(time.Millisecond)
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
			return nil
		}
	}

	for i := 0; i < 9; i++ {
		require.NoError(t, pool.SubmitFunc(record("before")))
	}
	require.NoError(t, pool.PushBarrier())
	for i := 0; i < 9; i++ {
		require.NoError(t, pool.SubmitFunc(record("after")))
	}
	require.NoError(t, pool.Wait(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 18)
	for i, event := range events {
		if i < 9 {
			assert.Equal(t, "before", event, "event %d", i)
		} else {
			assert.Equal(t, "after", event, "event %d", i)
		}
	}
	assert.Equal(t, int64(18+poolSize), pool.Stats().TotalProcessed)
}
