// Package future provides a two-phase deferred value.
//
// Phase one runs synchronously inside New and must only kick off background work
// (for example launching subprocesses). Phase two runs on the first Get, blocks
// until that work is done and produces the value. The outcome, value or error, is
// memoised: phase two never runs twice and a failure is returned again on every
// later Get.
package future

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrPanicked wraps a panic raised inside phase two.
var ErrPanicked = errors.New("future: finish phase panicked")

// State is the lifecycle position of a Task.
type State int32

const (
	// Started means phase one has run and phase two has not.
	Started State = iota
	// Resolved means phase two has run and the outcome is cached.
	Resolved
)

func (s State) String() string {
	switch s {
	case Started:
		return "started"
	case Resolved:
		return "resolved"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Finish is the blocking second phase of a task.
type Finish[T any] func() (T, error)

// Start is the non-blocking first phase; it returns the Finish to run later.
type Start[T any] func() (Finish[T], error)

// Task is a memoised deferred value.
type Task[T any] struct {
	once   sync.Once
	finish Finish[T]
	state  atomic.Int32
	value  T
	err    error
}

// New runs start immediately and returns a task whose Get runs the returned
// Finish at most once. If start fails, the task is resolved with that error.
func New[T any](start Start[T]) *Task[T] {
	t := &Task[T]{}
	finish, err := start()
	if err != nil {
		t.resolve(*new(T), err)
		return t
	}
	if finish == nil {
		t.resolve(*new(T), nil)
		return t
	}
	t.finish = finish
	return t
}

// Ready returns a task already resolved to value.
func Ready[T any](value T) *Task[T] {
	t := &Task[T]{}
	t.resolve(value, nil)
	return t
}

// Failed returns a task already resolved to err.
func Failed[T any](err error) *Task[T] {
	t := &Task[T]{}
	t.resolve(*new(T), err)
	return t
}

func (t *Task[T]) resolve(value T, err error) {
	t.once.Do(func() {
		t.value = value
		t.err = err
		t.finish = nil
		t.state.Store(int32(Resolved))
	})
}

// Get blocks until the value is available. Concurrent callers share one run of
// the finish phase.
func (t *Task[T]) Get() (T, error) {
	t.once.Do(func() {
		t.value, t.err = t.runFinish()
		t.finish = nil
		t.state.Store(int32(Resolved))
	})
	return t.value, t.err
}

func (t *Task[T]) runFinish() (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			value = zero
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	return t.finish()
}

// MustGet is Get for callers that treat a failure as a programming error.
func (t *Task[T]) MustGet() T {
	v, err := t.Get()
	if err != nil {
		panic(err)
	}
	return v
}

// Resolved reports whether Get would return without blocking.
func (t *Task[T]) Resolved() bool {
	return t.State() == Resolved
}

// State returns the current lifecycle state.
func (t *Task[T]) State() State {
	return State(t.state.Load())
}

// Peek returns the cached outcome when resolved; ok is false otherwise.
func (t *Task[T]) Peek() (value T, ok bool, err error) {
	if !t.Resolved() {
		var zero T
		return zero, false, nil
	}
	return t.value, true, t.err
}
