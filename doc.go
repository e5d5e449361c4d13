// Package asyncscheduler serializes work submitted from many goroutines onto one
// lazily started drain loop.
//
// A Scheduler has two lanes. Actions on the normal lane run in submission order;
// actions on the priority lane run in submission order too, but always before any
// waiting normal-lane action. At most one action runs at any instant, so state
// owned by a Scheduler needs no locks.
//
// # Quick Start
//
//	s := asyncscheduler.New(asyncscheduler.WithName("indexer"))
//	defer s.Shutdown()
//
//	f := asyncscheduler.AddValue(s, func(ctx context.Context) (int, error) {
//		return 42, nil
//	})
//	v, err := f.Wait(ctx)
//
// # Key Concepts
//
// Action: a func(ctx) (T, error). ctx is cancelled when the Scheduler shuts down;
// long actions should watch ctx.Done().
//
// Future: the result of one submission. It resolves exactly once with a value, a
// failure (*ActionError, which also covers panics) or cancellation (ErrCancelled).
//
// Lanes: Add* submits to the normal lane and Interrupt* to the priority lane. A
// priority submission never preempts the action already running.
//
// Asynchronous actions return an Awaitable. The loop waits for it before popping
// the next submission, so an action that suspends still holds its turn.
//
// # Execution Environments
//
// By default every burst of activity spawns one goroutine that exits when both
// lanes are empty. WithThreadPool runs the loop on a GoroutineThreadPool or a
// DedicatedThread instead.
//
// # Shutdown
//
// Shutdown cancels the Scheduler and waits until everything queued before it has
// resolved; queued actions that had not started resolve as cancelled. Later
// submissions resolve immediately with ErrRejected.
//
// The running action is never interrupted. An action that never returns keeps the
// loop, and Shutdown, waiting forever; use ShutdownContext to bound the wait.
package asyncscheduler
