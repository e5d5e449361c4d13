package core

import "time"

// ActionRecord captures one popped submission and how it resolved.
type ActionRecord struct {
	SubmissionID  uint64
	SchedulerName string
	Lane          Lane
	Outcome       Outcome
	EnqueuedAt    time.Time
	StartedAt     time.Time
	FinishedAt    time.Time
	Duration      time.Duration
	Panicked      bool
}

// Wait is how long the submission sat in its lane.
func (r ActionRecord) Wait() time.Duration {
	return r.StartedAt.Sub(r.EnqueuedAt)
}

// SchedulerStats represents runtime observability state for a scheduler.
type SchedulerStats struct {
	ID              string
	Name            string
	State           WorkerState
	PendingNormal   int
	PendingPriority int
	Submitted       uint64
	Completed       uint64
	Failed          uint64
	Cancelled       uint64
	Rejected        uint64
	LoopStarts      uint64
	Closed          bool
	LastActionAt    time.Time
}

// Pending is the total number of queued submissions.
func (s SchedulerStats) Pending() int {
	return s.PendingNormal + s.PendingPriority
}

// PoolStats represents runtime observability state for a thread pool.
type PoolStats struct {
	ID      string
	Workers int
	Queued  int
	Active  int
	Running bool
}
