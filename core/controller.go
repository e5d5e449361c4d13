package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
)

// WorkerState is the drain loop's lifecycle state.
type WorkerState int32

const (
	// StateIdle: no loop exists; the next submission must start one.
	StateIdle WorkerState = iota
	// StateStarting: a caller won the right to start a loop and has posted it,
	// but it has not begun popping yet.
	StateStarting
	// StateActive: a loop is popping and running submissions.
	StateActive
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// controller owns the tri-state word and the drain loop built on it.
//
// Transitions:
//
//	Idle -> Starting   CompareAndSwap by whoever wants activity; only the winner
//	                   posts a loop, losers return at once
//	Starting -> Active the loop itself, on entry
//	Active -> Idle     the loop itself, after observing both lanes empty
//
// After flipping to Idle the loop re-checks the lanes once. A submitter that lost
// the CAS pushed before it lost, so its item is either seen by that re-check or
// by the loop that a later winner posts.
type controller struct {
	state       atomic.Int32
	activeLoops atomic.Int32

	pool   ThreadPool
	logger Logger

	// runNext pops and runs one submission; false when both lanes were empty.
	runNext func() bool
	// hasWork reports whether either lane holds a submission.
	hasWork func() bool
	// onStart is called for every loop start, posted or inline.
	onStart func(inline bool)
}

func (c *controller) State() WorkerState {
	return WorkerState(c.state.Load())
}

// tryStart performs Idle -> Starting and reports whether this caller won.
func (c *controller) tryStart() bool {
	return c.state.CompareAndSwap(int32(StateIdle), int32(StateStarting))
}

// signal makes sure a loop will observe work pushed before the call.
func (c *controller) signal(traits TaskTraits) {
	if c.tryStart() {
		c.post(traits)
	}
}

// post hands the loop to the pool. Must only be called by the tryStart winner.
func (c *controller) post(traits TaskTraits) {
	c.onStart(false)
	if err := c.pool.PostInternal(c.runLoop, traits); err != nil {
		c.logger.Warn("thread pool refused drain loop, running on a new goroutine",
			F("pool", c.pool.ID()),
			F("error", err),
		)
		go c.runLoop(context.Background())
	}
}

// runInline drains on the caller's goroutine. Must only be called by the
// tryStart winner.
func (c *controller) runInline() {
	c.onStart(true)
	c.runLoop(context.Background())
}

// runLoop is the drain loop. The pool's context is not used: actions see the
// scheduler's own cancellation signal. It panics if it finds another loop
// running for the same scheduler.
func (c *controller) runLoop(_ context.Context) {
	for {
		c.state.Store(int32(StateActive))

		if n := c.activeLoops.Add(1); n > 1 {
			panic(fmt.Sprintf("asyncscheduler: concurrent drain loop detected (count=%d)", n))
		}
		for c.step() {
		}
		c.activeLoops.Add(-1)

		if !c.state.CompareAndSwap(int32(StateActive), int32(StateIdle)) {
			panic(fmt.Sprintf("asyncscheduler: drain loop left in state %s", c.State()))
		}

		// Work pushed by a submitter that saw Active is visible here
		if !c.hasWork() {
			return
		}
		if !c.tryStart() {
			// A submitter already started the next loop
			return
		}
		c.onStart(true)
	}
}

// step runs one submission. A panic escaping runNext is logged and the loop
// moves on to the next submission.
func (c *controller) step() (more bool) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("drain step panicked",
				F("pool", c.pool.ID()),
				F("panic", fmt.Sprint(rec)),
				F("stack", string(debug.Stack())),
			)
			more = true
		}
	}()
	return c.runNext()
}
