package types

import "time"

// QueueStats is a point-in-time snapshot of a task queue.
//
// At any snapshot Pending+Running equals
// TotalPushed-TotalCompleted-TotalPopped-TotalDiscarded.
type QueueStats struct {
	// Pending is the number of tasks waiting in the FIFO
	Pending int

	// Running is the number of tasks taken by WaitForWork and not yet completed
	Running int

	// Capacity is the container capacity, 0 when unbounded
	Capacity int

	// TotalPushed counts every task accepted by Push or PushN
	TotalPushed int64

	// TotalStarted counts tasks handed out by WaitForWork
	TotalStarted int64

	// TotalCompleted counts TaskComplete calls
	TotalCompleted int64

	// TotalPopped counts tasks taken by the non-blocking Pop
	TotalPopped int64

	// TotalDiscarded counts pending tasks destroyed at close
	TotalDiscarded int64
}

// Outstanding returns accepted work that has not finished.
func (s QueueStats) Outstanding() int {
	return s.Pending + s.Running
}

// PoolStats defines basic statistics for worker pools
type PoolStats struct {
	// PoolSize is the size of the pool
	PoolSize int

	// ActiveWorkers is the number of workers currently executing a task
	ActiveWorkers int

	// TotalProcessed is the number of tasks that finished without error
	TotalProcessed int64

	// TotalFailed is the number of tasks that returned an error or panicked
	TotalFailed int64

	// AverageExecutionTime is the mean task execution time
	AverageExecutionTime time.Duration

	// Queue is the snapshot of the pool's queue
	Queue QueueStats
}
