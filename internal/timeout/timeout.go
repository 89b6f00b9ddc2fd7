// Package timeout bounds the wall-clock time of controller calls.
//
// Go cannot stop a running goroutine, so expiry is cooperative: the task's
// context is cancelled, the caller gets ErrExpired right away, and whatever
// the abandoned goroutine produces afterwards is discarded.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// State is the lifecycle state of a Task.
type State int

const (
	Pending State = iota
	Running
	Succeeded
	Failed
	TimedOut
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	// ErrExpired is returned when the budget elapses before fn returns.
	ErrExpired = errors.New("deadline exceeded")
	// ErrCancelled is returned when Cancel is called or the parent context ends.
	ErrCancelled = errors.New("cancelled")
)

// PanicError wraps a panic recovered from the task function.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string { return fmt.Sprintf("panic: %v", p.Value) }

// Task runs fn once with a time budget.
type Task[T any] struct {
	fn     func(ctx context.Context) (T, error)
	budget time.Duration

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	early  bool
}

// New creates a pending task. A non-positive budget means no limit.
func New[T any](budget time.Duration, fn func(ctx context.Context) (T, error)) *Task[T] {
	return &Task[T]{fn: fn, budget: budget}
}

// State returns the current state.
func (t *Task[T]) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Cancel stops the task. Cancelling a pending task makes Run return
// ErrCancelled without calling fn.
func (t *Task[T]) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case Pending:
		t.early = true
	case Running:
		if t.cancel != nil {
			t.cancel()
		}
	}
}

type outcome[T any] struct {
	val T
	err error
}

// Run executes the task and blocks until it finishes, the budget elapses or
// the task is cancelled. Run may be called only once.
func (t *Task[T]) Run(ctx context.Context) (T, error) {
	var zero T

	t.mu.Lock()
	if t.state != Pending {
		t.mu.Unlock()
		return zero, fmt.Errorf("task already %s", t.state)
	}
	if t.early {
		t.state = Cancelled
		t.mu.Unlock()
		return zero, ErrCancelled
	}
	var runCtx context.Context
	var cancel context.CancelFunc
	if t.budget > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.budget)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	t.cancel = cancel
	t.state = Running
	t.mu.Unlock()
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		var o outcome[T]
		defer func() {
			if r := recover(); r != nil {
				o = outcome[T]{err: &PanicError{Value: r, Stack: debug.Stack()}}
			}
			done <- o
		}()
		o.val, o.err = t.fn(runCtx)
	}()

	select {
	case o := <-done:
		if o.err != nil {
			t.finish(Failed)
			return zero, o.err
		}
		t.finish(Succeeded)
		return o.val, nil
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			t.finish(TimedOut)
			return zero, ErrExpired
		}
		t.finish(Cancelled)
		return zero, ErrCancelled
	}
}

func (t *Task[T]) finish(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Run is a convenience for New(budget, fn).Run(ctx).
func Run[T any](ctx context.Context, budget time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	return New(budget, fn).Run(ctx)
}
