package taskqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jzx17/taskqueue/pkg/fifo"
	"github.com/jzx17/taskqueue/pkg/task"
	"github.com/jzx17/taskqueue/pkg/types"
)

// Config defines configuration for a task queue
type Config struct {
	// Capacity is the maximum number of pending tasks, 0 for unbounded
	Capacity int `validate:"required_if=Bounded true,gte=0"`

	// Bounded selects a preallocated ring of Capacity slots instead of a
	// growable list. Requires Capacity > 0.
	Bounded bool

	// Logger receives queue events (optional, defaults to slog.Default())
	Logger *slog.Logger `validate:"-"`
}

// DefaultConfig returns default configuration: an unbounded queue
func DefaultConfig() *Config {
	return &Config{}
}

// Queue is a FIFO of tasks shared by producers and workers.
//
// Every change to the container and to the running count happens under mu,
// and every state change broadcasts on cond. Workers and WaitForComplete
// callers sleep on the same condition, so a single Signal could wake the
// wrong kind of waiter.
type Queue struct {
	store    fifo.Container[*task.Task]
	capacity int
	logger   *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	running int
	closed  bool

	// statistics, guarded by mu
	pushed    int64
	started   int64
	completed int64
	popped    int64
	discarded int64

	// lock-free mirrors for Count and Running
	pendingGauge atomic.Int64
	runningGauge atomic.Int64
}

// New creates a task queue. A nil config uses DefaultConfig.
func New(config *Config) (*Queue, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := types.ValidateConfig(config); err != nil {
		return nil, err
	}

	var store fifo.Container[*task.Task]
	if config.Bounded {
		ring, err := fifo.NewRing[*task.Task](config.Capacity)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
		}
		store = ring
	} else {
		store = fifo.NewList[*task.Task](config.Capacity)
	}

	return NewWithContainer(store, config.Logger)
}

// NewWithContainer creates a task queue over a caller-supplied container.
// The queue takes exclusive ownership of store; it must be empty and must
// not be used by anything else afterwards.
func NewWithContainer(store fifo.Container[*task.Task], logger *slog.Logger) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: container cannot be nil", types.ErrInvalidConfig)
	}
	if store.Len() != 0 {
		return nil, fmt.Errorf("%w: container must be empty, has %d values", types.ErrInvalidConfig, store.Len())
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		store:    store,
		capacity: store.Cap(),
		logger:   logger,
	}
	q.cond = sync.NewCond(&q.mu)
	return q, nil
}

// Push appends t at the tail and wakes blocked waiters. A borrowed argument
// is frozen first. On error t is not stored and stays the caller's
// responsibility, frozen or not, so it must still be destroyed.
func (q *Queue) Push(t *task.Task) error {
	if t == nil {
		return types.NewQueueError("push", "", types.ErrNilTask)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return types.NewQueueError("push", t.ID(), types.ErrQueueClosed)
	}
	if err := t.Freeze(); err != nil {
		return types.NewQueueError("push", t.ID(), err)
	}
	if err := q.appendLocked(t); err != nil {
		return types.NewQueueError("push", t.ID(), err)
	}
	q.pushed++

	q.logger.Debug("task enqueued",
		"task_id", t.ID(),
		"queue_len", q.store.Len(),
		"queue_cap", q.capacity)

	q.cond.Broadcast()
	return nil
}

// PushN appends n copies of t as consecutive FIFO slots under one lock and
// wakes waiters once. Tasks with shared or no arguments share them across
// the copies; borrowed and owned arguments are copied per task, so every
// copy can release its own buffer.
//
// The batch is checked against the container capacity before anything is
// stored; on error nothing is stored and t stays with the caller. If a
// container rejects an append that its capacity allowed, the copies already
// stored remain queued and the returned error reports how many.
func (q *Queue) PushN(t *task.Task, n int) error {
	if t == nil {
		return types.NewQueueError("push_n", "", types.ErrNilTask)
	}
	if n < 0 {
		return types.NewQueueError("push_n", t.ID(), fmt.Errorf("%w: negative count %d", types.ErrInvalidConfig, n))
	}
	if n == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return types.NewQueueError("push_n", t.ID(), types.ErrQueueClosed)
	}
	if q.capacity > 0 && q.store.Len()+n > q.capacity {
		return types.NewQueueError("push_n", t.ID(),
			fmt.Errorf("%w: %d tasks do not fit, %d of %d slots used", types.ErrQueueFull, n, q.store.Len(), q.capacity))
	}

	batch := make([]*task.Task, 1, n)
	batch[0] = t
	for i := 1; i < n; i++ {
		r, err := t.Replicate()
		if err != nil {
			destroyAll(batch[1:])
			return types.NewQueueError("push_n", t.ID(), err)
		}
		batch = append(batch, r)
	}
	if err := t.Freeze(); err != nil {
		destroyAll(batch[1:])
		return types.NewQueueError("push_n", t.ID(), err)
	}

	for i, bt := range batch {
		if err := q.appendLocked(bt); err != nil {
			destroyAll(batch[max(i, 1):])
			if i > 0 {
				q.pushed += int64(i)
				q.cond.Broadcast()
			}
			return types.NewQueueError("push_n", t.ID(), err).WithContext("stored", i)
		}
	}
	q.pushed += int64(n)

	q.logger.Debug("task batch enqueued",
		"task_id", t.ID(),
		"copies", n,
		"queue_len", q.store.Len(),
		"queue_cap", q.capacity)

	q.cond.Broadcast()
	return nil
}

// Pop removes the front task without blocking. It returns types.ErrQueueEmpty
// when nothing is pending. The running count is not touched: the caller owns
// the task outright and must not call TaskComplete for it.
func (q *Queue) Pop() (*task.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, types.ErrQueueClosed
	}
	t, ok := q.removeLocked()
	if !ok {
		return nil, types.ErrQueueEmpty
	}
	q.popped++
	return t, nil
}

// WaitForWork removes the front task, blocking until one is available. The
// removal and the running-count increment are a single transition, so the
// task is never outside both counts. Every returned task must be followed by
// exactly one TaskComplete once it has run.
//
// It returns ctx.Err() when ctx is done while waiting and
// types.ErrQueueClosed once the queue is closed. A pending task is returned
// even if ctx is already done.
func (q *Queue) WaitForWork(ctx context.Context) (*task.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, q.Notify)
		defer stop()
	}

	for q.store.Len() == 0 {
		if q.closed {
			return nil, types.ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.cond.Wait()
	}

	t, _ := q.removeLocked()
	q.running++
	q.started++
	q.runningGauge.Store(int64(q.running))

	q.logger.Debug("task dequeued",
		"task_id", t.ID(),
		"queue_len", q.store.Len(),
		"running", q.running)

	return t, nil
}

// TaskComplete records that a task obtained from WaitForWork has finished
// and wakes waiters. Calling it without a matching WaitForWork panics.
func (q *Queue) TaskComplete() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running == 0 {
		panic("taskqueue: TaskComplete called without a running task")
	}
	q.running--
	q.completed++
	q.runningGauge.Store(int64(q.running))

	q.cond.Broadcast()
}

// WaitForComplete blocks until no task is pending and none is running. The
// result is a point-in-time observation: other goroutines may push again
// right after it returns. It returns ctx.Err() if ctx is done first.
func (q *Queue) WaitForComplete(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, q.Notify)
		defer stop()
	}

	for q.store.Len() > 0 || q.running > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
	return nil
}

// Notify wakes every goroutine blocked in WaitForWork or WaitForComplete so
// each re-checks its own condition. It changes no state.
func (q *Queue) Notify() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Count returns the number of pending tasks. It does not take the lock and
// may be stale; use it for diagnostics only.
func (q *Queue) Count() int {
	return int(q.pendingGauge.Load())
}

// Running returns the number of tasks in flight. Like Count it is advisory.
func (q *Queue) Running() int {
	return int(q.runningGauge.Load())
}

// Capacity returns the maximum number of pending tasks, 0 when unbounded
func (q *Queue) Capacity() int {
	return q.capacity
}

// IsClosed checks if the queue is closed
func (q *Queue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Stats returns a consistent snapshot of the queue counters
func (q *Queue) Stats() types.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return types.QueueStats{
		Pending:        q.store.Len(),
		Running:        q.running,
		Capacity:       q.capacity,
		TotalPushed:    q.pushed,
		TotalStarted:   q.started,
		TotalCompleted: q.completed,
		TotalPopped:    q.popped,
		TotalDiscarded: q.discarded,
	}
}

// Close tears the queue down. Pending tasks are destroyed without running
// and blocked workers return types.ErrQueueClosed. Close fails with
// types.ErrRunningTasks while tasks are in flight, leaving the queue usable.
// Closing a closed queue is a no-op.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	if q.running > 0 {
		return types.NewQueueError("close", "",
			fmt.Errorf("%w: %d in flight", types.ErrRunningTasks, q.running))
	}

	q.closed = true
	var discarded int64
	for {
		t, ok := q.removeLocked()
		if !ok {
			break
		}
		if err := t.Destroy(); err != nil {
			q.logger.Warn("failed to destroy pending task", "task_id", t.ID(), "error", err)
		}
		discarded++
	}
	q.discarded += discarded

	q.logger.Info("task queue closed",
		"discarded", discarded,
		"completed", q.completed)

	q.cond.Broadcast()
	return nil
}

func (q *Queue) appendLocked(t *task.Task) error {
	if err := q.store.Append(t); err != nil {
		return fmt.Errorf("%w: %w", types.ErrQueueFull, err)
	}
	q.pendingGauge.Store(int64(q.store.Len()))
	return nil
}

func (q *Queue) removeLocked() (*task.Task, bool) {
	t, ok := q.store.RemoveFront()
	if ok {
		q.pendingGauge.Store(int64(q.store.Len()))
	}
	return t, ok
}

func destroyAll(tasks []*task.Task) {
	for _, t := range tasks {
		_ = t.Destroy()
	}
}
