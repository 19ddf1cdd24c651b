package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jzx17/taskqueue/pkg/task"
	"github.com/jzx17/taskqueue/pkg/taskqueue"
	"github.com/jzx17/taskqueue/pkg/types"
)

// WorkerState defines the state of a Worker
type WorkerState int32

const (
	// WorkerStateIdle represents idle worker state
	WorkerStateIdle WorkerState = iota
	// WorkerStateWorking represents working worker state
	WorkerStateWorking
	// WorkerStateStopped represents stopped worker state
	WorkerStateStopped
)

// String returns the string representation of WorkerState
func (ws WorkerState) String() string {
	switch ws {
	case WorkerStateIdle:
		return "idle"
	case WorkerStateWorking:
		return "working"
	case WorkerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker is an instrumented worker loop over a task queue
type Worker struct {
	id    int
	state int32 // atomic state
	queue *taskqueue.Queue

	// statistics
	totalProcessed int64
	totalFailed    int64
	lastTaskTime   int64 // Unix nanosecond timestamp

	// error handling
	errorHandler types.ErrorHandler

	// pool callback for syncing statistics
	completionCallback func(time.Duration, bool)

	clock  types.Clock
	logger *slog.Logger

	// synchronization
	mu sync.RWMutex
}

// NewWorker creates a new Worker with default real clock
func NewWorker(id int, queue *taskqueue.Queue) *Worker {
	return NewWorkerWithClock(id, queue, types.NewRealClock())
}

// NewWorkerWithClock creates a new Worker with specified clock
func NewWorkerWithClock(id int, queue *taskqueue.Queue, clock types.Clock) *Worker {
	if clock == nil {
		clock = types.NewRealClock()
	}

	return &Worker{
		id:     id,
		state:  int32(WorkerStateStopped),
		queue:  queue,
		clock:  clock,
		logger: slog.Default().With("worker_id", id),
	}
}

// ID returns the Worker ID
func (w *Worker) ID() int {
	return w.id
}

// State returns the current Worker state
func (w *Worker) State() WorkerState {
	return WorkerState(atomic.LoadInt32(&w.state))
}

// SetErrorHandler sets the error handler
func (w *Worker) SetErrorHandler(handler types.ErrorHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errorHandler = handler
}

// SetCompletionCallback sets the task completion callback
func (w *Worker) SetCompletionCallback(callback func(time.Duration, bool)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.completionCallback = callback
}

// SetLogger sets the logger; a nil logger is ignored
func (w *Worker) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logger = logger.With("worker_id", w.id)
}

// Run consumes tasks until ctx is done or the queue is closed. It checks ctx
// before waiting for each task, so cancellation takes effect once the
// current task returns. The result is ctx.Err() on cancellation and nil
// after the queue closed.
func (w *Worker) Run(ctx context.Context) error {
	atomic.StoreInt32(&w.state, int32(WorkerStateIdle))
	defer atomic.StoreInt32(&w.state, int32(WorkerStateStopped))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		t, err := w.queue.WaitForWork(ctx)
		if err != nil {
			if errors.Is(err, types.ErrQueueClosed) {
				return nil
			}
			return err
		}
		w.processTask(ctx, t)
	}
}

// processTask processes a single task obtained from WaitForWork
func (w *Worker) processTask(ctx context.Context, t *task.Task) {
	defer w.queue.TaskComplete()

	// set to working state
	atomic.StoreInt32(&w.state, int32(WorkerStateWorking))
	defer atomic.StoreInt32(&w.state, int32(WorkerStateIdle))

	// record start time
	startTime := w.clock.Now()
	atomic.StoreInt64(&w.lastTaskTime, startTime.UnixNano())

	err := w.executeTask(ctx, t)

	executionTime := w.clock.Since(startTime)

	failed := err != nil
	if failed {
		atomic.AddInt64(&w.totalFailed, 1)
		w.handleError(err, t)
	} else {
		atomic.AddInt64(&w.totalProcessed, 1)
	}

	w.mu.RLock()
	callback := w.completionCallback
	w.mu.RUnlock()

	if callback != nil {
		callback(executionTime, failed)
	}
}

// executeTask executes a task with panic recovery support
func (w *Worker) executeTask(ctx context.Context, t *task.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			// record panic information
			var buf [4096]byte
			n := runtime.Stack(buf[:], false)

			var cause error
			switch v := r.(type) {
			case error:
				cause = fmt.Errorf("panic: %w", v)
			default:
				cause = fmt.Errorf("panic: %v", v)
			}

			err = types.NewQueueError("worker", t.ID(), cause).
				WithContext("stack_trace", string(buf[:n])).
				WithContext("worker_id", w.id)
		}
	}()

	return t.Execute(ctx)
}

// handleError handles errors
func (w *Worker) handleError(err error, t *task.Task) {
	w.mu.RLock()
	handler := w.errorHandler
	logger := w.logger
	w.mu.RUnlock()

	if handler == nil {
		logger.Warn("task failed", "task_id", t.ID(), "error", err)
		return
	}
	if handledErr := handler(err); handledErr != nil {
		logger.Error("error handler failed", "task_id", t.ID(), "error", handledErr)
	}
}

// Stats gets Worker statistics
func (w *Worker) Stats() WorkerStats {
	var last time.Time
	if ns := atomic.LoadInt64(&w.lastTaskTime); ns != 0 {
		last = time.Unix(0, ns)
	}
	return WorkerStats{
		ID:             w.id,
		State:          w.State(),
		TotalProcessed: atomic.LoadInt64(&w.totalProcessed),
		TotalFailed:    atomic.LoadInt64(&w.totalFailed),
		LastTaskTime:   last,
	}
}

// WorkerStats defines Worker statistics
type WorkerStats struct {
	ID             int
	State          WorkerState
	TotalProcessed int64
	TotalFailed    int64
	LastTaskTime   time.Time
}

// IsActive checks if Worker is active
func (ws WorkerStats) IsActive() bool {
	return ws.State == WorkerStateWorking
}

// IsIdle checks if Worker is idle
func (ws WorkerStats) IsIdle() bool {
	return ws.State == WorkerStateIdle
}

// GetSuccessRate gets the success rate
func (ws WorkerStats) GetSuccessRate() float64 {
	total := ws.TotalProcessed + ws.TotalFailed
	if total == 0 {
		return 0
	}
	return float64(ws.TotalProcessed) / float64(total)
}

// GetErrorRate gets the error rate
func (ws WorkerStats) GetErrorRate() float64 {
	total := ws.TotalProcessed + ws.TotalFailed
	if total == 0 {
		return 0
	}
	return float64(ws.TotalFailed) / float64(total)
}
