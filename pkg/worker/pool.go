package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jzx17/taskqueue/pkg/task"
	"github.com/jzx17/taskqueue/pkg/taskqueue"
	"github.com/jzx17/taskqueue/pkg/types"
)

const (
	poolStopped int32 = iota
	poolRunning
	poolClosed
)

// PoolConfig defines configuration for a worker pool
type PoolConfig struct {
	// PoolSize is the number of worker goroutines
	PoolSize int `validate:"gt=0"`

	// QueueCapacity is the maximum number of pending tasks, 0 for unbounded
	QueueCapacity int `validate:"required_if=BoundedQueue true,gte=0"`

	// BoundedQueue selects a preallocated ring for the queue
	BoundedQueue bool

	// StopTimeout bounds how long Stop waits for in-flight tasks
	StopTimeout time.Duration

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock `validate:"-"`

	// ErrorHandler receives task failures (optional, failures are logged)
	ErrorHandler types.ErrorHandler `validate:"-"`

	// Logger (optional, defaults to slog.Default())
	Logger *slog.Logger `validate:"-"`
}

// DefaultPoolConfig returns default configuration
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		PoolSize:    10,
		StopTimeout: 10 * time.Second,
		Clock:       types.NewRealClock(),
	}
}

// Pool runs a fixed set of workers over one task queue
type Pool struct {
	config  *PoolConfig
	queue   *taskqueue.Queue
	workers []*Worker
	logger  *slog.Logger

	// execution statistics fed by worker completion callbacks
	totalExecNanos atomic.Int64
	totalExecuted  atomic.Int64

	// state management
	state  int32
	cancel context.CancelFunc
	group  *errgroup.Group

	mu sync.Mutex
}

// NewPool creates a new worker pool. Workers are not started until Start.
func NewPool(config *PoolConfig) (*Pool, error) {
	if config == nil {
		config = DefaultPoolConfig()
	}

	if err := types.ValidateConfig(config); err != nil {
		return nil, err
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = DefaultPoolConfig().StopTimeout
	}
	if config.Clock == nil {
		config.Clock = types.NewRealClock()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	queue, err := taskqueue.New(&taskqueue.Config{
		Capacity: config.QueueCapacity,
		Bounded:  config.BoundedQueue,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	pool := &Pool{
		config:  config,
		queue:   queue,
		workers: make([]*Worker, config.PoolSize),
		logger:  logger,
	}

	// create workers
	for i := 0; i < config.PoolSize; i++ {
		w := NewWorkerWithClock(i, queue, config.Clock)
		w.SetLogger(logger)
		if config.ErrorHandler != nil {
			w.SetErrorHandler(config.ErrorHandler)
		}
		w.SetCompletionCallback(pool.recordCompletion)
		pool.workers[i] = w
	}

	return pool, nil
}

func (p *Pool) recordCompletion(d time.Duration, _ bool) {
	p.totalExecNanos.Add(int64(d))
	p.totalExecuted.Add(1)
}

// Start starts all workers. Tasks submitted before Start wait in the queue.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !atomic.CompareAndSwapInt32(&p.state, poolStopped, poolRunning) {
		if atomic.LoadInt32(&p.state) == poolRunning {
			return fmt.Errorf("worker pool is already running")
		}
		return fmt.Errorf("worker pool is closed")
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	for _, w := range p.workers {
		group.Go(func() error {
			err := w.Run(groupCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	p.cancel = cancel
	p.group = group

	p.logger.Info("worker pool started", "pool_size", len(p.workers))
	return nil
}

// Submit queues a task
func (p *Pool) Submit(t *task.Task) error {
	return p.queue.Push(t)
}

// SubmitFunc queues a closure task
func (p *Pool) SubmitFunc(fn func(ctx context.Context) error) error {
	return p.queue.Push(task.New(fn))
}

// SubmitN queues n copies of a task as one batch
func (p *Pool) SubmitN(t *task.Task, n int) error {
	return p.queue.PushN(t, n)
}

// PushBarrier queues one barrier task per worker. No task queued after the
// barrier starts before every worker has reached it. All workers must be
// running, otherwise the barrier tasks block until Stop.
func (p *Pool) PushBarrier() error {
	b, err := NewBarrier(len(p.workers))
	if err != nil {
		return err
	}
	t := task.New(func(ctx context.Context) error {
		_, err := b.Wait(ctx)
		return err
	}, task.WithID(fmt.Sprintf("barrier-%p", b)))
	return p.queue.PushN(t, len(p.workers))
}

// Wait blocks until every submitted task has finished or ctx is done
func (p *Pool) Wait(ctx context.Context) error {
	return p.queue.WaitForComplete(ctx)
}

// Stop cancels the workers and waits up to StopTimeout for in-flight tasks.
// Pending tasks stay queued and run after the next Start. After a timeout
// the pool counts as stopped, but workers still executing finish on their
// own; do not Start again before Wait reports the queue idle.
func (p *Pool) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !atomic.CompareAndSwapInt32(&p.state, poolRunning, poolStopped) {
		if atomic.LoadInt32(&p.state) == poolStopped {
			return fmt.Errorf("worker pool is not running")
		}
		return fmt.Errorf("worker pool is closed")
	}

	// cancel context to notify all workers to stop
	p.cancel()

	done := make(chan error, 1)
	group := p.group
	go func() {
		done <- group.Wait()
	}()

	timer := p.config.Clock.NewTimer(p.config.StopTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		p.logger.Info("worker pool stopped", "pending", p.queue.Count())
		return err
	case <-timer.C():
		return types.NewQueueError("stop", "",
			fmt.Errorf("%w: %d tasks still running after %v", types.ErrTimeout, p.queue.Running(), p.config.StopTimeout))
	}
}

// Close stops the pool if needed and closes its queue, discarding pending
// tasks. If tasks are still in flight, for example after a Stop timeout,
// Close fails and can be retried once they finish. Closing a closed pool is
// a no-op.
func (p *Pool) Close() error {
	if p.IsClosed() {
		return nil
	}
	if p.IsRunning() {
		if err := p.Stop(); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch atomic.LoadInt32(&p.state) {
	case poolClosed:
		return nil
	case poolRunning:
		return fmt.Errorf("worker pool was started during close")
	}

	if err := p.queue.Close(); err != nil {
		return err
	}
	atomic.StoreInt32(&p.state, poolClosed)
	return nil
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return len(p.workers)
}

// Pending returns the advisory number of queued tasks
func (p *Pool) Pending() int {
	return p.queue.Count()
}

// Queue returns the pool's task queue
func (p *Pool) Queue() *taskqueue.Queue {
	return p.queue
}

// IsRunning checks if the worker pool is running
func (p *Pool) IsRunning() bool {
	return atomic.LoadInt32(&p.state) == poolRunning
}

// IsClosed checks if the worker pool is closed
func (p *Pool) IsClosed() bool {
	return atomic.LoadInt32(&p.state) == poolClosed
}

// Stats gets pool statistics
func (p *Pool) Stats() types.PoolStats {
	stats := types.PoolStats{
		PoolSize: len(p.workers),
		Queue:    p.queue.Stats(),
	}
	for _, w := range p.workers {
		ws := w.Stats()
		if ws.IsActive() {
			stats.ActiveWorkers++
		}
		stats.TotalProcessed += ws.TotalProcessed
		stats.TotalFailed += ws.TotalFailed
	}
	if n := p.totalExecuted.Load(); n > 0 {
		stats.AverageExecutionTime = time.Duration(p.totalExecNanos.Load() / n)
	}
	return stats
}

// GetWorkerStats gets statistics of all Workers
func (p *Pool) GetWorkerStats() []WorkerStats {
	stats := make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		stats[i] = w.Stats()
	}
	return stats
}
