package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Outcome is the resolution kind of a Future.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeValue
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeValue:
		return "value"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Awaitable is anything an asynchronous action can hand back for the drain loop
// to wait on. *Future implements it.
type Awaitable[T any] interface {
	Wait(ctx context.Context) (T, error)
}

// Future is the single-assignment result handle of one submission. The first
// resolution wins; later attempts are ignored.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	outcome   Outcome
	value     T
	err       error
	callbacks []func(T, error)

	// onCallbackPanic reports a recovered callback panic. Nil logs through the
	// global zap logger.
	onCallbackPanic func(rec any, stack []byte)
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a Future already resolved with v.
func Completed[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.resolve(v)
	return f
}

// Failed returns a Future already resolved with err. A cancellation error
// produces a cancelled Future.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	f.settle(err)
	return f
}

// Go runs action on a new goroutine and returns its Future. It is the usual way
// to build an Awaitable for SubmitAsync.
func Go[T any](ctx context.Context, action Action[T]) *Future[T] {
	f := newFuture[T]()
	go func() {
		v, err := invokeRecovered(ctx, action)
		if err != nil {
			f.settle(classify(err, "", LaneNormal, 0))
			return
		}
		f.resolve(v)
	}()
	return f
}

func (f *Future[T]) resolve(v T) bool {
	return f.complete(OutcomeValue, v, nil)
}

func (f *Future[T]) fail(err error) bool {
	var zero T
	return f.complete(OutcomeFailed, zero, err)
}

func (f *Future[T]) cancel(err error) bool {
	if err == nil {
		err = ErrCancelled
	}
	var zero T
	return f.complete(OutcomeCancelled, zero, err)
}

// settle classifies err as cancellation or failure.
func (f *Future[T]) settle(err error) bool {
	if IsCancelled(err) {
		return f.cancel(err)
	}
	return f.fail(err)
}

func (f *Future[T]) complete(outcome Outcome, v T, err error) bool {
	f.mu.Lock()
	if f.outcome != OutcomePending {
		f.mu.Unlock()
		return false
	}
	f.outcome = outcome
	f.value = v
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		f.runCallback(cb, v, err)
	}
	return true
}

// runCallback keeps a panicking callback from unwinding the resolving
// goroutine, which for a submission is its scheduler's drain loop.
func (f *Future[T]) runCallback(cb func(T, error), v T, err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		stack := debug.Stack()
		if f.onCallbackPanic != nil {
			f.onCallbackPanic(rec, stack)
			return
		}
		NewDefaultLogger().Error("future callback panicked",
			F("panic", fmt.Sprint(rec)),
			F("stack", string(stack)),
		)
	}()
	cb(v, err)
}

// Done is closed once the Future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the Future resolves or ctx ends. When ctx ends first the
// context error is returned and the Future stays pending.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	return f.value, f.err
}

// Get blocks until the Future resolves.
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.value, f.err
}

// TryResult returns the outcome without blocking. ok is false while pending.
func (f *Future[T]) TryResult() (v T, err error, ok bool) {
	select {
	case <-f.done:
		return f.value, f.err, true
	default:
		return v, nil, false
	}
}

func (f *Future[T]) Outcome() Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome
}

// OnComplete registers fn to run once the Future resolves. If it already has,
// fn runs synchronously on the caller's goroutine.
//
// Otherwise fn runs on the goroutine that resolves the Future. For a Future
// returned by Submit that is the scheduler's drain loop: the next submission
// waits until fn returns, so fn should be quick and hand anything slow to
// another scheduler or goroutine. A panic in fn is recovered and logged.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	if f.outcome == OutcomePending {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
}
