package core

import (
	"context"
	"sync/atomic"
)

// cancellation is a scheduler's one-shot cancel flag. The flag is the
// cancellation of ctx, so every action receives it as its cooperative signal.
type cancellation struct {
	ctx    context.Context
	cancel context.CancelFunc
	fired  atomic.Bool
}

func newCancellation(parent context.Context) *cancellation {
	ctx, cancel := context.WithCancel(parent)
	return &cancellation{ctx: ctx, cancel: cancel}
}

// Context is the signal handed to actions.
func (c *cancellation) Context() context.Context {
	return c.ctx
}

// Cancel sets the flag. It reports true only for the call that set it.
func (c *cancellation) Cancel() bool {
	if !c.fired.CompareAndSwap(false, true) {
		return false
	}
	c.cancel()
	return true
}

func (c *cancellation) IsCancelled() bool {
	return c.fired.Load()
}
