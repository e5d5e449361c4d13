package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// TaskScheduler is the ready queue and wake-up signal shared by the workers of a
// GoroutineThreadPool.
type TaskScheduler struct {
	queue       TaskQueue
	signal      chan struct{}
	workerCount int

	metricQueued   int32 // Waiting in ReadyQueue
	metricActive   int32 // Executing in Worker
	metricRejected int64

	logger Logger

	// Lifecycle. Pushes hold lifecycle for reading, so once Shutdown has set
	// shuttingDown under the write lock no push can land behind its drain.
	lifecycle    sync.RWMutex
	shuttingDown int32 // atomic flag
}

func newTaskScheduler(workerCount int, queue TaskQueue, logger Logger) *TaskScheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &TaskScheduler{
		queue:       queue,
		signal:      make(chan struct{}, workerCount*2),
		workerCount: workerCount,
		logger:      logger,
	}
}

// NewPriorityTaskScheduler orders ready tasks by TaskPriority, FIFO within a
// priority. Drain loops started by priority-lane submissions jump the queue.
func NewPriorityTaskScheduler(workerCount int, logger Logger) *TaskScheduler {
	return newTaskScheduler(workerCount, NewPriorityTaskQueue(), logger)
}

func NewFIFOTaskScheduler(workerCount int, logger Logger) *TaskScheduler {
	return newTaskScheduler(workerCount, NewFIFOTaskQueue(), logger)
}

// PostInternal queues task for the next free worker.
func (s *TaskScheduler) PostInternal(task Task, traits TaskTraits) error {
	s.lifecycle.RLock()
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		s.lifecycle.RUnlock()
		atomic.AddInt64(&s.metricRejected, 1)
		return ErrPoolNotRunning
	}
	s.queue.Push(task, traits)
	atomic.AddInt32(&s.metricQueued, 1) // Metric++
	s.lifecycle.RUnlock()

	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full, but task is already queued
	}
	return nil
}

// GetWork (Called by Worker)
func (s *TaskScheduler) GetWork(stopCh <-chan struct{}) (Task, bool) {
	for {
		// Try to pop one task
		if item, ok := s.queue.Pop(); ok {
			atomic.AddInt32(&s.metricQueued, -1) // Metric-- (Left Queue)
			return item.Task, true
		}

		select {
		case <-s.signal:
			continue
		case <-stopCh:
			return nil, false
		}
	}
}

// Shutdown stops accepting tasks and returns the ones still queued. The caller
// owns them: a dropped drain loop would strand its scheduler.
func (s *TaskScheduler) Shutdown() []TaskItem {
	s.stopAccepting()

	var leftover []TaskItem
	for {
		item, ok := s.queue.Pop()
		if !ok {
			break
		}
		atomic.AddInt32(&s.metricQueued, -1)
		leftover = append(leftover, item)
	}
	return leftover
}

// stopAccepting returns once no PostInternal call can still push.
func (s *TaskScheduler) stopAccepting() {
	s.lifecycle.Lock()
	atomic.StoreInt32(&s.shuttingDown, 1)
	s.lifecycle.Unlock()
}

// ShutdownGraceful stops accepting tasks and waits for queued and active tasks
// to complete. On timeout the still-queued tasks are returned with the error.
func (s *TaskScheduler) ShutdownGraceful(timeout time.Duration) ([]TaskItem, error) {
	s.stopAccepting()

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return s.Shutdown(), fmt.Errorf("shutdown graceful timeout after %v", timeout)
		case <-ticker.C:
			if s.QueuedTaskCount() == 0 && s.ActiveTaskCount() == 0 {
				return nil, nil
			}
		}
	}
}

// Metrics
func (s *TaskScheduler) WorkerCount() int         { return s.workerCount }
func (s *TaskScheduler) QueuedTaskCount() int     { return int(atomic.LoadInt32(&s.metricQueued)) }
func (s *TaskScheduler) ActiveTaskCount() int     { return int(atomic.LoadInt32(&s.metricActive)) }
func (s *TaskScheduler) RejectedTaskCount() int64 { return atomic.LoadInt64(&s.metricRejected) }

func (s *TaskScheduler) OnTaskStart() {
	atomic.AddInt32(&s.metricActive, 1)
}

func (s *TaskScheduler) OnTaskEnd() {
	atomic.AddInt32(&s.metricActive, -1)
}

// Logger returns the logger workers report task panics to.
func (s *TaskScheduler) Logger() Logger {
	return s.logger
}
