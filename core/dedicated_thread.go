package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// DedicatedThread is a ThreadPool of exactly one resident goroutine. Every task
// posted to it, and so every drain loop of every Scheduler bound to it, runs on
// that goroutine.
//
// Use cases:
// 1. Schedulers whose actions need goroutine affinity (e.g. runtime.LockOSThread)
// 2. Keeping a warm loop instead of spawning one per activity burst
// 3. Simulating Main Thread / UI Thread behavior
type DedicatedThread struct {
	id     string
	queue  *FIFOTaskQueue
	signal chan struct{}

	// Lifecycle control
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
	closed  atomic.Bool
	// posting is held for reading across the closed check and the push
	posting sync.RWMutex

	logger Logger
	active atomic.Int32
}

// NewDedicatedThread creates and starts a DedicatedThread.
// It immediately spawns its goroutine.
func NewDedicatedThread(id string, logger Logger) *DedicatedThread {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &DedicatedThread{
		id:      id,
		queue:   NewFIFOTaskQueue(),
		signal:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
		logger:  logger,
	}

	go t.runLoop()

	return t
}

func (t *DedicatedThread) ID() string {
	return t.id
}

// PostInternal queues task. Traits are ignored: there is only one goroutine.
func (t *DedicatedThread) PostInternal(task Task, traits TaskTraits) error {
	t.posting.RLock()
	defer t.posting.RUnlock()
	if t.closed.Load() {
		return ErrPoolNotRunning
	}

	t.queue.Push(task, traits)
	select {
	case t.signal <- struct{}{}:
	default:
	}
	return nil
}

// IsClosed returns true once Stop has been called
func (t *DedicatedThread) IsClosed() bool {
	return t.closed.Load()
}

// Stop refuses new tasks, runs the ones already queued and waits for the
// goroutine to exit. Calling it from a task on this thread deadlocks.
func (t *DedicatedThread) Stop() {
	t.once.Do(func() {
		t.posting.Lock()
		t.closed.Store(true)
		t.posting.Unlock()
		t.cancel()
		<-t.stopped
	})
}

func (t *DedicatedThread) Stats() PoolStats {
	return PoolStats{
		ID:      t.id,
		Workers: 1,
		Queued:  t.queue.Len(),
		Active:  int(t.active.Load()),
		Running: !t.closed.Load(),
	}
}

// runLoop occupies the dedicated goroutine
func (t *DedicatedThread) runLoop() {
	defer close(t.stopped)

	for {
		for {
			item, ok := t.queue.Pop()
			if !ok {
				break
			}
			t.run(item.Task)
		}

		select {
		case <-t.signal:
		case <-t.ctx.Done():
			// A post may have raced with Stop; it still runs.
			for {
				item, ok := t.queue.Pop()
				if !ok {
					return
				}
				t.run(item.Task)
			}
		}
	}
}

func (t *DedicatedThread) run(task Task) {
	t.active.Add(1)
	defer t.active.Add(-1)
	defer func() {
		if rec := recover(); rec != nil {
			t.logger.Error("task panicked on dedicated thread",
				F("thread", t.id),
				F("panic", fmt.Sprint(rec)),
				F("stack", string(debug.Stack())),
			)
		}
	}()
	task(t.ctx)
}
