package core

import (
	"container/heap"
	"sync"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// =============================================================================
// FIFOQueue: unbounded multi-producer FIFO used for both scheduler lanes
// =============================================================================

// FIFOQueue is an unbounded FIFO safe for any number of concurrent producers and
// consumers. Push and TryPop only hold the internal mutex for a slice operation,
// never while the popped item is being processed.
type FIFOQueue[T any] struct {
	mu    sync.Mutex
	items []T
}

func NewFIFOQueue[T any]() *FIFOQueue[T] {
	return &FIFOQueue[T]{
		items: make([]T, 0, defaultQueueCap),
	}
}

func (q *FIFOQueue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// TryPop removes the oldest item. ok is false only when the queue was empty at
// the instant of the call.
func (q *FIFOQueue[T]) TryPop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return item, false
	}

	item = q.items[0]
	// Zero out the slot so the popped submission can be collected
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	q.maybeCompactLocked()

	return item, true
}

func (q *FIFOQueue[T]) maybeCompactLocked() {
	n := len(q.items)
	c := cap(q.items)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.items = make([]T, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]T, n, newCap)
	copy(newSlice, q.items)
	q.items = newSlice
}

func (q *FIFOQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *FIFOQueue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Clear drops all items and releases their references
func (q *FIFOQueue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make([]T, 0, defaultQueueCap)
}

// =============================================================================
// TaskQueue: ready queue of a GoroutineThreadPool
// =============================================================================

type TaskItem struct {
	Task   Task
	Traits TaskTraits
}

// TaskQueue defines the ready-queue used by TaskScheduler
type TaskQueue interface {
	Push(t Task, traits TaskTraits)
	Pop() (TaskItem, bool)
	Len() int
	IsEmpty() bool
	Clear()
}

// FIFOTaskQueue ignores traits and runs tasks in post order
type FIFOTaskQueue struct {
	q *FIFOQueue[TaskItem]
}

func NewFIFOTaskQueue() *FIFOTaskQueue {
	return &FIFOTaskQueue{q: NewFIFOQueue[TaskItem]()}
}

func (q *FIFOTaskQueue) Push(t Task, traits TaskTraits) {
	q.q.Push(TaskItem{Task: t, Traits: traits})
}

func (q *FIFOTaskQueue) Pop() (TaskItem, bool) { return q.q.TryPop() }
func (q *FIFOTaskQueue) Len() int              { return q.q.Len() }
func (q *FIFOTaskQueue) IsEmpty() bool         { return q.q.IsEmpty() }
func (q *FIFOTaskQueue) Clear()                { q.q.Clear() }

// =============================================================================
// PriorityTaskQueue: Min-Heap based queue with Stability (FIFO for same priority)
// =============================================================================

type priorityItem struct {
	TaskItem
	sequence uint64 // For stability
	index    int    // For heap
}

// priorityHeap implements heap.Interface
type priorityHeap []*priorityItem

func (h priorityHeap) Len() int { return len(h) }

// Less: higher priority first, then smaller sequence first (FIFO)
func (h priorityHeap) Less(i, j int) bool {
	if h[i].Traits.Priority != h[j].Traits.Priority {
		return h[i].Traits.Priority > h[j].Traits.Priority
	}
	return h[i].sequence < h[j].sequence
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	item := x.(*priorityItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // Avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

type PriorityTaskQueue struct {
	mu           sync.Mutex
	pq           priorityHeap
	nextSequence uint64
}

func NewPriorityTaskQueue() *PriorityTaskQueue {
	return &PriorityTaskQueue{
		pq: make(priorityHeap, 0, defaultQueueCap),
	}
}

func (q *PriorityTaskQueue) Push(t Task, traits TaskTraits) {
	q.mu.Lock()
	defer q.mu.Unlock()

	heap.Push(&q.pq, &priorityItem{
		TaskItem: TaskItem{Task: t, Traits: traits},
		sequence: q.nextSequence,
	})
	q.nextSequence++
}

func (q *PriorityTaskQueue) Pop() (TaskItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pq) == 0 {
		return TaskItem{}, false
	}
	return heap.Pop(&q.pq).(*priorityItem).TaskItem, true
}

func (q *PriorityTaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pq)
}

func (q *PriorityTaskQueue) IsEmpty() bool {
	return q.Len() == 0
}

func (q *PriorityTaskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pq = make(priorityHeap, 0, defaultQueueCap)
	q.nextSequence = 0
}
