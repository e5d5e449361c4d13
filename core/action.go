package core

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Action is the canonical unit of work: a cancellation-aware callable that
// produces a T. ctx is cancelled when the owning scheduler shuts down;
// well-behaved actions watch ctx.Done() and return ctx.Err().
type Action[T any] func(ctx context.Context) (T, error)

// None is the value type of actions that produce nothing.
type None = struct{}

// Func adapts a no-value action.
func Func(fn func(ctx context.Context) error) Action[None] {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context) (None, error) {
		return None{}, fn(ctx)
	}
}

// Async adapts an asynchronous action: fn starts the work and returns
// something to await. The drain loop does not advance until the awaitable
// resolves. The await itself ignores scheduler cancellation; fn already holds
// ctx and is expected to stop its own work cooperatively.
func Async[T any](fn func(ctx context.Context) Awaitable[T]) Action[T] {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context) (T, error) {
		pending := fn(ctx)
		if pending == nil {
			var zero T
			return zero, ErrNilAction
		}
		return pending.Wait(context.WithoutCancel(ctx))
	}
}

// AsyncFunc adapts an asynchronous action that produces no value.
func AsyncFunc(fn func(ctx context.Context) Awaitable[None]) Action[None] {
	return Async(fn)
}

// Discard drops the value of action.
func Discard[T any](action Action[T]) Action[None] {
	if action == nil {
		return nil
	}
	return func(ctx context.Context) (None, error) {
		_, err := action(ctx)
		return None{}, err
	}
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// invokeRecovered runs action and turns a panic into a *panicError.
func invokeRecovered[T any](ctx context.Context, action Action[T]) (v T, err error) {
	if action == nil {
		return v, ErrNilAction
	}
	defer func() {
		if rec := recover(); rec != nil {
			var zero T
			v = zero
			err = &panicError{value: rec, stack: debug.Stack()}
		}
	}()
	return action(ctx)
}

// classify converts a raw action error into the error stored on the Future.
// Cancellation passes through untouched; anything else becomes an ActionError.
func classify(err error, schedulerName string, lane Lane, id uint64) error {
	if err == nil || IsCancelled(err) {
		return err
	}
	actionErr := &ActionError{
		SchedulerName: schedulerName,
		Lane:          lane,
		SubmissionID:  id,
		Cause:         err,
	}
	if pe, ok := err.(*panicError); ok {
		actionErr.Panicked = true
		actionErr.PanicValue = pe.value
		actionErr.Stack = pe.stack
	}
	return actionErr
}
