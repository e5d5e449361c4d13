package asyncscheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Swind/go-async-scheduler/core"
)

var _ core.ThreadPool = (*GoroutineThreadPool)(nil)

// GoroutineThreadPool manages a set of worker goroutines
// Responsible for pulling tasks (drain loops) from its TaskScheduler and executing them
type GoroutineThreadPool struct {
	id        string
	workers   int
	scheduler *core.TaskScheduler
	logger    core.Logger
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex
}

// NewGoroutineThreadPool creates a pool whose ready queue is FIFO.
func NewGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithLogger(id, workers, false, nil)
}

// NewPriorityGoroutineThreadPool creates a pool whose ready queue is ordered by
// TaskPriority, so loops started from the priority lane are picked up first.
func NewPriorityGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithLogger(id, workers, true, nil)
}

// NewGoroutineThreadPoolWithLogger is the full constructor. A nil logger
// discards worker panic reports.
func NewGoroutineThreadPoolWithLogger(id string, workers int, priority bool, logger core.Logger) *GoroutineThreadPool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = core.NewNoOpLogger()
	}
	tg := &GoroutineThreadPool{
		id:      id,
		workers: workers,
		logger:  logger,
	}
	if priority {
		tg.scheduler = core.NewPriorityTaskScheduler(workers, logger)
	} else {
		tg.scheduler = core.NewFIFOTaskScheduler(workers, logger)
	}
	return tg
}

// Start starts all worker goroutines. Tasks posted before Start wait in the
// ready queue.
func (tg *GoroutineThreadPool) Start(ctx context.Context) {
	tg.runningMu.Lock()
	defer tg.runningMu.Unlock()

	if tg.running {
		return // Already running
	}

	tg.ctx, tg.cancel = context.WithCancel(ctx)
	tg.running = true

	for i := 0; i < tg.workers; i++ {
		tg.wg.Add(1)
		go tg.workerLoop(i, tg.ctx)
	}
}

// Stop stops the thread pool. Tasks still queued are handed to fresh goroutines
// rather than dropped, so no scheduler is left with a posted loop that never runs.
func (tg *GoroutineThreadPool) Stop() {
	leftover := tg.scheduler.Shutdown()

	tg.runningMu.Lock()
	wasRunning := tg.running
	tg.running = false
	tg.runningMu.Unlock()

	if wasRunning {
		if tg.cancel != nil {
			tg.cancel()
		}
		tg.Join()
	}

	tg.handOff(leftover)
}

// StopGraceful stops the thread pool gracefully, waiting for queued tasks to complete
// Returns error if timeout is exceeded before tasks complete
func (tg *GoroutineThreadPool) StopGraceful(timeout time.Duration) error {
	tg.runningMu.RLock()
	running := tg.running
	tg.runningMu.RUnlock()
	if !running {
		tg.Stop()
		return nil
	}

	leftover, err := tg.scheduler.ShutdownGraceful(timeout)

	if tg.cancel != nil {
		tg.cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()

	tg.handOff(leftover)
	return err
}

func (tg *GoroutineThreadPool) handOff(items []core.TaskItem) {
	if len(items) == 0 {
		return
	}
	tg.logger.Warn("thread pool stopped with queued tasks, running them on new goroutines",
		core.F("pool", tg.id),
		core.F("tasks", len(items)),
	)
	for _, item := range items {
		go item.Task(context.Background())
	}
}

// ID returns the ID of the thread pool
func (tg *GoroutineThreadPool) ID() string {
	return tg.id
}

// IsRunning returns whether the thread pool is running
func (tg *GoroutineThreadPool) IsRunning() bool {
	tg.runningMu.RLock()
	defer tg.runningMu.RUnlock()
	return tg.running
}

// workerLoop is the main loop for each worker
func (tg *GoroutineThreadPool) workerLoop(id int, ctx context.Context) {
	defer tg.wg.Done()
	stopCh := ctx.Done()

	for {
		task, ok := tg.scheduler.GetWork(stopCh)
		if !ok {
			return
		}

		tg.scheduler.OnTaskStart()

		func() {
			defer func() {
				tg.scheduler.OnTaskEnd()
				if r := recover(); r != nil {
					tg.logger.Error("task panicked on pool worker",
						core.F("pool", tg.id),
						core.F("worker", id),
						core.F("panic", fmt.Sprint(r)),
						core.F("stack", string(debug.Stack())),
					)
				}
			}()
			task(ctx)
		}()
	}
}

// Join waits for all worker goroutines to finish
func (tg *GoroutineThreadPool) Join() {
	tg.wg.Wait()
}

// WorkerCount returns the number of workers
func (tg *GoroutineThreadPool) WorkerCount() int {
	return tg.workers
}

func (tg *GoroutineThreadPool) QueuedTaskCount() int {
	return tg.scheduler.QueuedTaskCount()
}

func (tg *GoroutineThreadPool) ActiveTaskCount() int {
	return tg.scheduler.ActiveTaskCount()
}

func (tg *GoroutineThreadPool) PostInternal(task core.Task, traits core.TaskTraits) error {
	return tg.scheduler.PostInternal(task, traits)
}

func (tg *GoroutineThreadPool) Stats() core.PoolStats {
	return core.PoolStats{
		ID:      tg.id,
		Workers: tg.workers,
		Queued:  tg.QueuedTaskCount(),
		Active:  tg.ActiveTaskCount(),
		Running: tg.IsRunning(),
	}
}

// =============================================================================
// Global Thread Pool Helper (Singleton)
// =============================================================================

var (
	globalThreadPool *GoroutineThreadPool
	globalMu         sync.Mutex
)

// InitGlobalThreadPool initializes the global thread pool with specified number of workers.
// It starts the pool immediately. The pool orders loops by priority.
func InitGlobalThreadPool(workers int) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool != nil {
		return // Already initialized
	}

	globalThreadPool = NewPriorityGoroutineThreadPool("global-pool", workers)
	globalThreadPool.Start(context.Background())
}

// GetGlobalThreadPool returns the global thread pool instance.
// It panics if InitGlobalThreadPool has not been called.
func GetGlobalThreadPool() *GoroutineThreadPool {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool == nil {
		panic("GlobalThreadPool not initialized. Call InitGlobalThreadPool() first.")
	}
	return globalThreadPool
}

// ShutdownGlobalThreadPool stops the global thread pool.
func ShutdownGlobalThreadPool() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool != nil {
		globalThreadPool.Stop()
		globalThreadPool = nil
	}
}

// CreateScheduler creates a Scheduler whose drain loop runs on the global thread
// pool. A WithThreadPool option is overridden.
func CreateScheduler(opts ...Option) *Scheduler {
	pool := GetGlobalThreadPool()
	return New(append(opts, WithThreadPool(pool))...)
}
