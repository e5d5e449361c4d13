package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

// testThreadPool is a minimal ThreadPool over a TaskScheduler with a fixed
// number of workers.
type testThreadPool struct {
	scheduler *TaskScheduler
	workers   int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newTestThreadPool(workers int) *testThreadPool {
	return &testThreadPool{
		scheduler: NewFIFOTaskScheduler(workers, nil),
		workers:   workers,
	}
}

func (tp *testThreadPool) start() {
	tp.ctx, tp.cancel = context.WithCancel(context.Background())
	for i := 0; i < tp.workers; i++ {
		tp.wg.Add(1)
		go tp.worker()
	}
}

func (tp *testThreadPool) worker() {
	defer tp.wg.Done()
	for {
		task, ok := tp.scheduler.GetWork(tp.ctx.Done())
		if !ok {
			return
		}
		tp.scheduler.OnTaskStart()
		func() {
			defer tp.scheduler.OnTaskEnd()
			task(tp.ctx)
		}()
	}
}

func (tp *testThreadPool) stop() {
	leftover := tp.scheduler.Shutdown()
	if tp.cancel != nil {
		tp.cancel()
	}
	tp.wg.Wait()
	for _, item := range leftover {
		go item.Task(context.Background())
	}
}

func (tp *testThreadPool) PostInternal(task Task, traits TaskTraits) error {
	return tp.scheduler.PostInternal(task, traits)
}

func (tp *testThreadPool) ID() string { return "test-pool" }

// failingPool refuses every task.
type failingPool struct{}

func (failingPool) PostInternal(Task, TaskTraits) error { return ErrPoolNotRunning }
func (failingPool) ID() string                          { return "failing-pool" }

// newTestScheduler creates a quiet scheduler that is shut down with the test.
func newTestScheduler(t *testing.T, pool ThreadPool) *Scheduler {
	t.Helper()
	s := NewScheduler(pool, &Config{Name: t.Name(), Logger: NewNoOpLogger()})
	t.Cleanup(s.Shutdown)
	return s
}

// await waits for f, failing the test if it stays pending for too long.
func await[T any](t *testing.T, f *Future[T]) (T, error) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("future still pending after 5s")
	}
	return f.Get()
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
