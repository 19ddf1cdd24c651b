// Package types defines error types
package types

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrQueueEmpty indicates a non-blocking pop found nothing to take
	ErrQueueEmpty = errors.New("task queue is empty")

	// ErrQueueFull indicates the underlying container cannot grow
	ErrQueueFull = errors.New("task queue is full")

	// ErrQueueClosed indicates the queue has been closed
	ErrQueueClosed = errors.New("task queue is closed")

	// ErrRunningTasks indicates tasks are still executing
	ErrRunningTasks = errors.New("there are running tasks")

	// ErrAllocation indicates an argument buffer could not be allocated
	ErrAllocation = errors.New("argument allocation failed")

	// ErrTaskConsumed indicates a task was already executed or destroyed
	ErrTaskConsumed = errors.New("task already consumed")

	// ErrNilTask indicates a nil task was submitted
	ErrNilTask = errors.New("task cannot be nil")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTimeout indicates operation timeout
	ErrTimeout = errors.New("operation timeout")
)

// QueueError represents an error raised while queueing or running a task
type QueueError struct {
	// Operation is the name of the operation where the error occurred
	Operation string

	// TaskID identifies the task involved, if any
	TaskID string

	// Cause is the underlying error
	Cause error

	// Context contains error context information
	Context map[string]interface{}
}

// Error implements the error interface
func (e *QueueError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("taskqueue error in operation %s: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("taskqueue error in operation %s (task %s): %v", e.Operation, e.TaskID, e.Cause)
}

// Unwrap returns the underlying error
func (e *QueueError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is a specific error
func (e *QueueError) Is(target error) bool {
	return errors.Is(e.Cause, target)
}

// NewQueueError creates a new queue error
func NewQueueError(operation, taskID string, cause error) *QueueError {
	return &QueueError{
		Operation: operation,
		TaskID:    taskID,
		Cause:     cause,
		Context:   make(map[string]interface{}),
	}
}

// WithContext adds error context
func (e *QueueError) WithContext(key string, value interface{}) *QueueError {
	e.Context[key] = value
	return e
}

// ErrorHandler receives task failures observed by a worker. Its return value
// is logged when non-nil and otherwise ignored.
type ErrorHandler func(error) error
