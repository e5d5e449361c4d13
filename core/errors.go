package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCancelled is the outcome of a submission whose action was skipped or
	// stopped because the scheduler was cancelled.
	ErrCancelled = errors.New("asyncscheduler: action cancelled")

	// ErrRejected is returned for submissions made after Shutdown. It matches
	// ErrCancelled under errors.Is.
	ErrRejected = fmt.Errorf("%w: scheduler is shut down", ErrCancelled)

	// ErrNilAction is the failure recorded for a nil action.
	ErrNilAction = errors.New("asyncscheduler: nil action")

	// ErrInvalidLane is the failure recorded for a submission to an unknown lane.
	ErrInvalidLane = errors.New("asyncscheduler: invalid lane")

	// ErrPoolNotRunning is reported when a drain loop is posted to a stopped pool.
	ErrPoolNotRunning = errors.New("asyncscheduler: thread pool is not running")
)

// ActionError is the failure outcome of an action that returned an error or
// panicked. It unwraps to the action's own error.
type ActionError struct {
	SchedulerName string
	Lane          Lane
	SubmissionID  uint64
	Cause         error

	Panicked   bool
	PanicValue any
	Stack      []byte
}

func (e *ActionError) Error() string {
	where := "action"
	if e.SchedulerName != "" {
		where = fmt.Sprintf("action %d on %s/%s", e.SubmissionID, e.SchedulerName, e.Lane)
	}
	if e.Panicked {
		return fmt.Sprintf("%s panicked: %v", where, e.PanicValue)
	}
	return fmt.Sprintf("%s failed: %v", where, e.Cause)
}

func (e *ActionError) Unwrap() error {
	return e.Cause
}

// IsCancelled reports whether err is a cancellation outcome, including
// rejection after shutdown and a context.Canceled surfaced by an action.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// IsRejected reports whether err is the outcome of a submission made after Shutdown.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// AsActionError extracts the ActionError from err if there is one.
func AsActionError(err error) (*ActionError, bool) {
	var actionErr *ActionError
	if errors.As(err, &actionErr) {
		return actionErr, true
	}
	return nil, false
}
