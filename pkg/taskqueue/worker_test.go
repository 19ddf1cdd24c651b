package taskqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jzx17/taskqueue/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicWorker(t *testing.T) {
	q := newTestQueue(t, nil)

	var executed int64
	for i := 0; i < 50; i++ {
		require.NoError(t, q.Push(task.New(func(ctx context.Context) error {
			atomic.AddInt64(&executed, 1)
			return nil
		})))
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			BasicWorker(q)
		}()
	}

	require.NoError(t, q.WaitForComplete(context.Background()))
	assert.Equal(t, int64(50), atomic.LoadInt64(&executed))

	// BasicWorker only returns once the queue is closed
	require.NoError(t, q.Close())
	wg.Wait()
}

func TestBasicWorker_KeepsRunningAfterTaskError(t *testing.T) {
	q := newTestQueue(t, nil)

	var executed int64
	require.NoError(t, q.Push(task.New(func(ctx context.Context) error {
		return errors.New("task failed")
	})))
	require.NoError(t, q.Push(task.New(func(ctx context.Context) error {
		atomic.AddInt64(&executed, 1)
		return nil
	})))

	done := make(chan struct{})
	go func() {
		BasicWorker(q)
		close(done)
	}()

	require.NoError(t, q.WaitForComplete(context.Background()))
	assert.Equal(t, int64(1), atomic.LoadInt64(&executed))
	assert.Equal(t, int64(2), q.Stats().TotalCompleted)

	require.NoError(t, q.Close())
	<-done
}

func TestRunWorker_ErrorHandler(t *testing.T) {
	q := newTestQueue(t, nil)

	taskErr := errors.New("task failed")
	var mu sync.Mutex
	var handled []error
	handler := func(err error) error {
		mu.Lock()
		handled = append(handled, err)
		mu.Unlock()
		return errors.New("handler also failed")
	}

	require.NoError(t, q.Push(task.New(func(ctx context.Context) error { return taskErr })))
	require.NoError(t, q.Push(task.New(noop)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() { errCh <- RunWorker(ctx, q, handler) }()

	require.NoError(t, q.WaitForComplete(context.Background()))
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("RunWorker did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, handled, 1)
	assert.ErrorIs(t, handled[0], taskErr)
}

func TestRunWorker_StopsBetweenTasks(t *testing.T) {
	q := newTestQueue(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, q.Push(task.New(func(context.Context) error {
		close(started)
		<-release
		return nil
	})))
	require.NoError(t, q.Push(task.New(noop)))

	errCh := make(chan error)
	go func() { errCh <- RunWorker(ctx, q, nil) }()

	<-started
	cancel()
	close(release)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("RunWorker did not stop")
	}

	// the in-flight task completed, the second one is still queued
	stats := q.Stats()
	assert.Equal(t, 0, stats.Running)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, int64(1), stats.TotalCompleted)
}

func TestRunWorker_CompletesPanickingTask(t *testing.T) {
	q := newTestQueue(t, nil)
	require.NoError(t, q.Push(task.New(func(context.Context) error {
		panic("boom")
	})))

	tk, err := q.WaitForWork(context.Background())
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = runOne(context.Background(), q, tk.Execute)
	})
	assert.Equal(t, 0, q.Running())
	assert.Equal(t, int64(1), q.Stats().TotalCompleted)
}

func TestRunWorker_ExternalStopFlag(t *testing.T) {
	q := newTestQueue(t, nil)

	var stop atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		for !stop.Load() {
			tk, err := q.WaitForWork(ctx)
			if err != nil {
				return
			}
			_ = runOne(ctx, q, tk.Execute)
		}
	}()

	require.NoError(t, q.Push(task.New(noop)))
	require.NoError(t, q.WaitForComplete(context.Background()))

	// a stop flag plus Notify does not release WaitForWork on its own,
	// the loop observes the flag after its next task
	stop.Store(true)
	q.Notify()
	require.NoError(t, q.Push(task.New(noop)))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not observe the stop flag")
	}
}
