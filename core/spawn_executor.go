package core

import (
	"context"
	"sync/atomic"
)

// SpawnExecutor runs every posted task on a fresh goroutine. It is the default
// execution environment of a Scheduler: a loop exists only while there is work.
type SpawnExecutor struct {
	active atomic.Int32
}

func NewSpawnExecutor() *SpawnExecutor {
	return &SpawnExecutor{}
}

func (e *SpawnExecutor) ID() string {
	return "spawn"
}

func (e *SpawnExecutor) PostInternal(task Task, _ TaskTraits) error {
	e.active.Add(1)
	go func() {
		defer e.active.Add(-1)
		task(context.Background())
	}()
	return nil
}

func (e *SpawnExecutor) Stats() PoolStats {
	return PoolStats{
		ID:      e.ID(),
		Active:  int(e.active.Load()),
		Running: true,
	}
}
