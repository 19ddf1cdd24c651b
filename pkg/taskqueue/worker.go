package taskqueue

import (
	"context"
	"errors"

	"github.com/jzx17/taskqueue/pkg/types"
)

// BasicWorker is the minimal worker loop: wait for a task, execute it,
// report completion, forever. It has no stop condition of its own and only
// returns once q is closed, so it can be started directly with
//
//	go taskqueue.BasicWorker(q)
//
// Task errors are logged by the queue's logger.
func BasicWorker(q *Queue) {
	_ = RunWorker(context.Background(), q, nil)
}

// RunWorker runs the worker loop until ctx is done or q is closed. It checks
// ctx before taking each task, so a cancelled worker stops after the task it
// is executing. Task errors go to handler, or to the queue's logger when
// handler is nil. It returns ctx.Err() on cancellation and nil when the
// queue was closed.
func RunWorker(ctx context.Context, q *Queue, handler types.ErrorHandler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		t, err := q.WaitForWork(ctx)
		if err != nil {
			if errors.Is(err, types.ErrQueueClosed) {
				return nil
			}
			return err
		}

		if err := runOne(ctx, q, t.Execute); err != nil {
			if handler == nil {
				q.logger.Warn("task failed", "task_id", t.ID(), "error", err)
			} else if herr := handler(err); herr != nil {
				q.logger.Error("error handler failed", "task_id", t.ID(), "error", herr)
			}
		}
	}
}

// runOne executes a dequeued task and reports completion even if it panics.
func runOne(ctx context.Context, q *Queue, execute func(context.Context) error) error {
	defer q.TaskComplete()
	return execute(ctx)
}
