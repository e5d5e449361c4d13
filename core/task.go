package core

import (
	"context"
)

// Task is the unit of work handed to a ThreadPool (Closure)
type Task func(ctx context.Context)

// =============================================================================
// TaskTraits: attributes a ThreadPool uses to order posted work
// =============================================================================

type TaskPriority int

const (
	// TaskPriorityBestEffort: Lowest priority
	TaskPriorityBestEffort TaskPriority = iota

	// TaskPriorityUserVisible: Default priority
	TaskPriorityUserVisible

	// TaskPriorityUserBlocking: Highest priority
	// Drain loops started by a priority-lane submission are posted with this priority
	// so a priority-ordered pool picks them up ahead of other work.
	TaskPriorityUserBlocking
)

func (p TaskPriority) String() string {
	switch p {
	case TaskPriorityBestEffort:
		return "best_effort"
	case TaskPriorityUserVisible:
		return "user_visible"
	case TaskPriorityUserBlocking:
		return "user_blocking"
	default:
		return "unknown"
	}
}

type TaskTraits struct {
	Priority TaskPriority
	Category string
}

func DefaultTaskTraits() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserVisible}
}

func TraitsUserBlocking() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserBlocking}
}

func TraitsBestEffort() TaskTraits {
	return TaskTraits{Priority: TaskPriorityBestEffort}
}

func TraitsUserVisible() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserVisible}
}

// =============================================================================
// ThreadPool: the execution environment a Scheduler borrows goroutines from
// =============================================================================

// ThreadPool runs posted tasks on some goroutine. A Scheduler posts its drain loop
// here only on an Idle→Starting transition, so at most one loop per scheduler is
// ever outstanding in the pool.
//
// PostInternal must either guarantee the task eventually runs or return an error
// (ErrPoolNotRunning); a silently dropped drain loop strands its scheduler.
type ThreadPool interface {
	PostInternal(task Task, traits TaskTraits) error
	ID() string
}

// =============================================================================
// Context Helper
// =============================================================================
type schedulerKeyType struct{}

var schedulerKey schedulerKeyType

// CurrentScheduler returns the Scheduler whose drain loop is executing the action
// that owns ctx, or nil outside of an action.
func CurrentScheduler(ctx context.Context) *Scheduler {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(schedulerKey); v != nil {
		return v.(*Scheduler)
	}
	return nil
}
