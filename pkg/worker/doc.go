/*
Package worker runs tasks from a taskqueue.Queue on a fixed set of goroutines.

# Overview

The package builds on the queue's worker contract (WaitForWork followed by
exactly one TaskComplete) and adds what long-running services need around it:
- Per-worker state and statistics
- Panic recovery, reported as types.QueueError with a stack trace
- Configurable error handlers and completion callbacks
- A Pool with Start, Stop and Close lifecycle management
- A reusable Barrier and a PushBarrier helper for phased work

# Core Components

## Worker

Worker is an instrumented worker loop. Run blocks until its context is done
or the queue is closed. Cancellation is observed between tasks, so a task
that is already running always completes and is always followed by
TaskComplete.

## Pool

Pool owns one queue and PoolSize workers, supervised by an errgroup. Tasks
may be submitted before Start; they wait in the queue. Stop cancels the
workers and waits up to StopTimeout for in-flight tasks, leaving pending
tasks queued. Close stops the pool and closes the queue, which destroys
pending tasks without running them.

## Barrier

Barrier releases a fixed number of goroutines once all have arrived and then
resets for the next round. Pool.PushBarrier queues one barrier task per
worker, which splits the queue into phases: nothing queued after the barrier
starts while something queued before it is still running.

# Usage Examples

Basic usage:

	pool, err := worker.NewPool(&worker.PoolConfig{PoolSize: 4})
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	if err := pool.Start(ctx); err != nil {
		log.Fatal(err)
	}

	err = pool.SubmitFunc(func(ctx context.Context) error {
		// Execute work
		return nil
	})

	// Block until the queue drains
	if err := pool.Wait(ctx); err != nil {
		log.Printf("wait: %v", err)
	}

Retrieve statistics:

	stats := pool.Stats()
	fmt.Printf("Active Workers: %d/%d\n", stats.ActiveWorkers, stats.PoolSize)
	fmt.Printf("Total Processed: %d\n", stats.TotalProcessed)
	fmt.Printf("Average Execution Time: %v\n", stats.AverageExecutionTime)

# Configuration Options

PoolConfig supports the following configurations:
- PoolSize: Number of worker goroutines
- QueueCapacity: Maximum pending tasks, 0 for unbounded
- BoundedQueue: Preallocated ring instead of a growable list
- StopTimeout: How long Stop waits for in-flight tasks
- Clock: Time source for execution statistics and the stop timer
- ErrorHandler: Receives task failures instead of the logger
- Logger: slog logger for lifecycle and failure events
*/
package worker
