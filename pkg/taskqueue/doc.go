/*
Package taskqueue provides a goroutine-safe FIFO of tasks consumed by worker
goroutines, with a drain operation that waits until every accepted task has
finished.

# Overview

A Queue is a monitor: one mutex and one condition variable around a
fifo.Container of *task.Task plus a count of running tasks. Producers call
Push or PushN. Workers call WaitForWork, execute the task, then call
TaskComplete. Any goroutine may call WaitForComplete to block until the queue
is empty and no task is running.

	q, err := taskqueue.New(nil)
	if err != nil {
		log.Fatal(err)
	}

	for i := 0; i < runtime.NumCPU(); i++ {
		go taskqueue.BasicWorker(q)
	}

	arg := []byte("hello")
	if err := q.Push(task.NewWithArg(work, arg)); err != nil {
		log.Printf("push failed: %v", err)
	}

	_ = q.WaitForComplete(ctx)

# Accounting

Pending tasks count in Count, tasks handed out by WaitForWork count in
Running, never both. Pop hands a task out without counting it as running;
the caller owns it completely.

# Shutdown

Workers started with RunWorker stop when their context is cancelled.
BasicWorker has no stop condition and returns only after Close. Notify wakes
every blocked goroutine without changing state, for callers layering their
own stop flag on top.

# Contract

Close refuses to run while tasks are in flight. TaskComplete without a
matching WaitForWork panics. Executing or destroying a task twice returns
types.ErrTaskConsumed.
*/
package taskqueue
