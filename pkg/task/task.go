// Package task provides the deferred unit of work executed by queue workers.
//
// A Task bundles a function with an argument buffer. Ownership of an owned
// buffer belongs to the task: it is released exactly once, either after the
// task has been executed or when it is destroyed without running. A task is
// consumed by the first Execute or Destroy; later calls report
// types.ErrTaskConsumed and have no effect.
package task

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jzx17/taskqueue/pkg/types"
)

// Func is the callable stored in a task. arg is the task's argument buffer
// and must not be retained after the call returns.
type Func func(ctx context.Context, arg []byte) error

// ArgMode describes who owns a task's argument buffer
type ArgMode int32

const (
	// ArgNone means the task carries no buffer; a closure holds its state
	ArgNone ArgMode = iota
	// ArgBorrowed references caller memory and must be frozen before the
	// task leaves the goroutine that built it
	ArgBorrowed
	// ArgOwned is a private copy released by Execute or Destroy
	ArgOwned
	// ArgShared is immutable, externally owned memory never released by the task
	ArgShared
)

// String returns the string representation of ArgMode
func (m ArgMode) String() string {
	switch m {
	case ArgNone:
		return "none"
	case ArgBorrowed:
		return "borrowed"
	case ArgOwned:
		return "owned"
	case ArgShared:
		return "shared"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a task
type State int32

const (
	// StatePending is a task that has not been consumed yet
	StatePending State = iota
	// StateExecuted is a task whose function has been called
	StateExecuted
	// StateDestroyed is a task released without running
	StateDestroyed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExecuted:
		return "executed"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// taskIDCounter is the global task ID counter
var taskIDCounter int64

func nextID() string {
	return fmt.Sprintf("task-%d", atomic.AddInt64(&taskIDCounter, 1))
}

// Task is a deferred call. Use it through a pointer; copying a Task breaks
// the exactly-once guarantee.
type Task struct {
	id    string
	fn    Func
	arg   []byte
	size  int
	mode  ArgMode
	alloc Allocator
	state atomic.Int32
}

// Option configures a task at construction
type Option func(*Task)

// WithID sets a custom task ID
func WithID(id string) Option {
	return func(t *Task) {
		t.id = id
	}
}

// WithAllocator sets the allocator used by Freeze and Replicate, and to
// release owned buffers
func WithAllocator(a Allocator) Option {
	return func(t *Task) {
		if a != nil {
			t.alloc = a
		}
	}
}

func newTask(fn Func, arg []byte, mode ArgMode, opts []Option) *Task {
	t := &Task{
		id:    nextID(),
		fn:    fn,
		arg:   arg,
		size:  len(arg),
		mode:  mode,
		alloc: DefaultAllocator,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// New creates a task from a closure. The closure's captured variables are
// its argument, so there is nothing to freeze.
func New(fn func(ctx context.Context) error, opts ...Option) *Task {
	var f Func
	if fn != nil {
		f = func(ctx context.Context, _ []byte) error {
			return fn(ctx)
		}
	}
	return newTask(f, nil, ArgNone, opts)
}

// NewWithArg creates a task that borrows arg. The task must be frozen
// before arg goes out of scope or is modified; Queue.Push does this itself.
func NewWithArg(fn Func, arg []byte, opts ...Option) *Task {
	return newTask(fn, arg, ArgBorrowed, opts)
}

// NewOwned creates a task that takes ownership of arg. The caller must not
// touch arg afterwards. If arg did not come from the task's allocator, use
// the default HeapAllocator.
func NewOwned(fn Func, arg []byte, opts ...Option) *Task {
	return newTask(fn, arg, ArgOwned, opts)
}

// NewShared creates a task reading immutable memory owned elsewhere. Shared
// tasks can be replicated without copying and never release arg.
func NewShared(fn Func, arg []byte, opts ...Option) *Task {
	return newTask(fn, arg, ArgShared, opts)
}

// ID returns the task ID
func (t *Task) ID() string {
	return t.id
}

// Size returns the argument size in bytes
func (t *Task) Size() int {
	return t.size
}

// Mode returns the argument ownership mode
func (t *Task) Mode() ArgMode {
	return t.mode
}

// Arg returns the argument buffer. It is nil once the task is consumed.
func (t *Task) Arg() []byte {
	return t.arg
}

// State returns the lifecycle state
func (t *Task) State() State {
	return State(t.state.Load())
}

// Freeze replaces a borrowed argument with a private copy from the task's
// allocator. Tasks that do not borrow are left alone. On failure the task is
// unchanged.
func (t *Task) Freeze() error {
	if t.State() != StatePending {
		return fmt.Errorf("freeze task %s: %w", t.id, types.ErrTaskConsumed)
	}
	if t.mode != ArgBorrowed {
		return nil
	}
	if len(t.arg) == 0 {
		t.arg = nil
		t.mode = ArgOwned
		return nil
	}

	buf, err := t.clone()
	if err != nil {
		return fmt.Errorf("freeze task %s: %w", t.id, err)
	}
	t.arg = buf
	t.mode = ArgOwned
	return nil
}

// Execute calls the task function and then releases an owned argument, also
// when the function panics. The function's error is returned untouched.
func (t *Task) Execute(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(StatePending), int32(StateExecuted)) {
		return fmt.Errorf("execute task %s: %w", t.id, types.ErrTaskConsumed)
	}
	defer t.release()

	if t.fn == nil {
		return fmt.Errorf("task %s has no execution function", t.id)
	}
	return t.fn(ctx, t.arg)
}

// Destroy releases an owned argument without executing the task.
func (t *Task) Destroy() error {
	if !t.state.CompareAndSwap(int32(StatePending), int32(StateDestroyed)) {
		return fmt.Errorf("destroy task %s: %w", t.id, types.ErrTaskConsumed)
	}
	t.release()
	return nil
}

// Replicate returns an independent pending copy of the task description
// with the same ID and function. Shared and closure tasks reuse the
// argument; borrowed and owned tasks get a private copy.
func (t *Task) Replicate() (*Task, error) {
	if t.State() != StatePending {
		return nil, fmt.Errorf("replicate task %s: %w", t.id, types.ErrTaskConsumed)
	}

	r := &Task{
		id:    t.id,
		fn:    t.fn,
		arg:   t.arg,
		size:  t.size,
		mode:  t.mode,
		alloc: t.alloc,
	}
	switch t.mode {
	case ArgBorrowed, ArgOwned:
		r.mode = ArgOwned
		if len(t.arg) == 0 {
			r.arg = nil
			break
		}
		buf, err := t.clone()
		if err != nil {
			return nil, fmt.Errorf("replicate task %s: %w", t.id, err)
		}
		r.arg = buf
	}
	return r, nil
}

func (t *Task) clone() ([]byte, error) {
	buf, err := t.alloc.Alloc(len(t.arg))
	if err != nil {
		return nil, err
	}
	copy(buf, t.arg)
	return buf, nil
}

func (t *Task) release() {
	if t.mode == ArgOwned && t.arg != nil {
		t.alloc.Free(t.arg)
	}
	t.arg = nil
}
