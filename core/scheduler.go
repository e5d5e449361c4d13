package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// submission is one queued action bound to its Future. It is pushed exactly once
// into exactly one lane.
type submission struct {
	id         uint64
	lane       Lane
	enqueuedAt time.Time
	barrier    bool

	// run resolves the submission's Future and reports how.
	run func(ctx context.Context) (outcome Outcome, panicked bool)
}

// Scheduler serializes actions submitted from any number of goroutines: at most
// one action runs at a time, priority-lane submissions go before normal ones, and
// each lane is FIFO.
//
// The drain loop is started lazily on the first submission and stops when both
// lanes are empty, so an idle Scheduler holds no goroutine.
type Scheduler struct {
	id    string
	name  string
	pool  ThreadPool
	lanes *Lanes[*submission]
	ctrl  *controller
	sig   *cancellation

	logger          Logger
	metrics         Metrics
	panicHandler    PanicHandler
	rejectedHandler RejectedHandler
	history         *actionHistory

	seq          atomic.Uint64
	completed    atomic.Uint64
	failed       atomic.Uint64
	cancelled    atomic.Uint64
	rejected     atomic.Uint64
	loopStarts   atomic.Uint64
	lastActionAt atomic.Int64

	// drained is closed by the teardown barrier
	drained chan struct{}
}

// NewScheduler creates an idle Scheduler whose drain loop runs on pool. A nil pool
// means a SpawnExecutor; a nil cfg means DefaultConfig().
func NewScheduler(pool ThreadPool, cfg *Config) *Scheduler {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if err := c.applyDefaults(); err != nil {
		panic(fmt.Sprintf("asyncscheduler: %v", err))
	}
	if pool == nil {
		pool = NewSpawnExecutor()
	}

	s := &Scheduler{
		id:              uuid.NewString(),
		name:            c.Name,
		pool:            pool,
		lanes:           NewLanes[*submission](),
		logger:          c.Logger,
		metrics:         c.Metrics,
		panicHandler:    c.PanicHandler,
		rejectedHandler: c.RejectedHandler,
		history:         newActionHistory(c.HistoryCapacity),
		drained:         make(chan struct{}),
	}
	s.sig = newCancellation(context.WithValue(context.Background(), schedulerKey, s))
	s.ctrl = &controller{
		pool:    pool,
		logger:  c.Logger,
		runNext: s.runNext,
		hasWork: func() bool { return !s.lanes.IsEmpty() },
		onStart: s.onLoopStart,
	}
	return s
}

// Submit queues action on lane and returns its Future immediately.
//
// After Shutdown the Future is already resolved with ErrRejected and nothing is
// queued. Otherwise the action runs once its turn comes, unless the scheduler is
// shut down first, in which case it resolves as cancelled without running.
func Submit[T any](s *Scheduler, lane Lane, action Action[T]) *Future[T] {
	if !lane.valid() {
		return Failed[T](fmt.Errorf("%w: %s", ErrInvalidLane, lane))
	}
	if s.sig.IsCancelled() {
		s.reject(lane, "shut down")
		return Failed[T](ErrRejected)
	}

	f := newFuture[T]()
	id := s.seq.Add(1)
	f.onCallbackPanic = func(rec any, stack []byte) {
		s.logger.Error("completion callback panicked",
			F("scheduler", s.name),
			F("submission", id),
			F("panic", fmt.Sprint(rec)),
			F("stack", string(stack)),
		)
	}
	sub := &submission{
		id:         id,
		lane:       lane,
		enqueuedAt: time.Now(),
	}
	sub.run = func(ctx context.Context) (Outcome, bool) {
		if s.sig.IsCancelled() {
			f.cancel(ErrCancelled)
			return OutcomeCancelled, false
		}

		v, err := invokeRecovered(ctx, action)
		if err == nil {
			f.resolve(v)
			return OutcomeValue, false
		}

		err = classify(err, s.name, lane, id)
		panicked := false
		if actionErr, ok := AsActionError(err); ok && actionErr.Panicked {
			panicked = true
			s.guard("panic handler", func() {
				s.panicHandler.HandlePanic(ctx, s.name, id, actionErr.PanicValue, actionErr.Stack)
			})
		}
		f.settle(err)
		if IsCancelled(err) {
			return OutcomeCancelled, panicked
		}
		return OutcomeFailed, panicked
	}

	s.lanes.Push(lane, sub)
	s.guard("metrics", func() { s.metrics.RecordQueueDepth(s.name, lane, s.lanes.Len(lane)) })
	s.ctrl.signal(lane.traits())
	return f
}

// Post queues an action that produces no value.
func Post(s *Scheduler, lane Lane, fn func(ctx context.Context) error) *Future[None] {
	return Submit(s, lane, Func(fn))
}

// SubmitAsync queues an asynchronous action. The loop does not pop the next
// submission until the returned Awaitable resolves.
func SubmitAsync[T any](s *Scheduler, lane Lane, fn func(ctx context.Context) Awaitable[T]) *Future[T] {
	return Submit(s, lane, Async(fn))
}

// PostAsync queues an asynchronous action that produces no value.
func PostAsync(s *Scheduler, lane Lane, fn func(ctx context.Context) Awaitable[None]) *Future[None] {
	return Submit(s, lane, AsyncFunc(fn))
}

func (s *Scheduler) reject(lane Lane, reason string) {
	s.rejected.Add(1)
	s.guard("rejected handler", func() { s.rejectedHandler.HandleRejected(s.name, lane, reason) })
	s.guard("metrics", func() { s.metrics.RecordRejected(s.name, reason) })
}

// guard runs a user-supplied hook. A panic in it is logged and swallowed.
func (s *Scheduler) guard(hook string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("scheduler hook panicked",
				F("scheduler", s.name),
				F("hook", hook),
				F("panic", fmt.Sprint(rec)),
				F("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
}

func (s *Scheduler) onLoopStart(inline bool) {
	s.loopStarts.Add(1)
	s.guard("metrics", func() { s.metrics.RecordLoopStart(s.name) })
	s.logger.Debug("drain loop starting",
		F("scheduler", s.name),
		F("inline", inline),
	)
}

// runNext pops one submission and runs it on the current goroutine.
func (s *Scheduler) runNext() bool {
	sub, lane, ok := s.lanes.TryPop()
	if !ok {
		return false
	}
	if sub.barrier {
		sub.run(s.sig.Context())
		return true
	}

	s.guard("metrics", func() { s.metrics.RecordQueueDepth(s.name, lane, s.lanes.Len(lane)) })

	startedAt := time.Now()
	outcome, panicked := sub.run(s.sig.Context())
	finishedAt := time.Now()
	duration := finishedAt.Sub(startedAt)

	switch outcome {
	case OutcomeValue:
		s.completed.Add(1)
	case OutcomeFailed:
		s.failed.Add(1)
	case OutcomeCancelled:
		s.cancelled.Add(1)
	}
	s.lastActionAt.Store(finishedAt.UnixNano())

	s.guard("metrics", func() {
		s.metrics.RecordActionOutcome(s.name, lane, outcome)
		s.metrics.RecordActionDuration(s.name, lane, duration)
	})
	s.history.Add(ActionRecord{
		SubmissionID:  sub.id,
		SchedulerName: s.name,
		Lane:          lane,
		Outcome:       outcome,
		EnqueuedAt:    sub.enqueuedAt,
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
		Duration:      duration,
		Panicked:      panicked,
	})
	return true
}

// =============================================================================
// Teardown
// =============================================================================

// Shutdown cancels the scheduler and blocks until every submission queued before
// it has resolved. Submissions that had not started resolve as cancelled; the one
// running, if any, is allowed to finish. Later submissions are rejected.
// Shutdown is idempotent.
//
// Inside an action of this scheduler use ShutdownContext with the action's ctx;
// Shutdown cannot tell it is being called from the loop and would wait forever.
func (s *Scheduler) Shutdown() {
	_ = s.ShutdownContext(context.Background())
}

// ShutdownContext is Shutdown with a bound on the wait. If ctx ends first it
// returns ctx.Err(); the drain still completes in the background. Called with
// the ctx of one of this scheduler's own actions it cancels without waiting.
func (s *Scheduler) ShutdownContext(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if s.sig.Cancel() {
		s.logger.Info("scheduler shutting down",
			F("scheduler", s.name),
			F("pending_normal", s.lanes.Len(LaneNormal)),
			F("pending_priority", s.lanes.Len(LanePriority)),
		)

		// The barrier goes straight onto the lane; Submit would reject it.
		s.lanes.Push(LaneNormal, &submission{
			lane:       LaneNormal,
			enqueuedAt: time.Now(),
			barrier:    true,
			run: func(context.Context) (Outcome, bool) {
				close(s.drained)
				s.logger.Info("scheduler drained", F("scheduler", s.name))
				return OutcomeValue, false
			},
		})
		if s.ctrl.tryStart() {
			s.ctrl.runInline()
		}
	}

	if CurrentScheduler(ctx) == s {
		return nil
	}

	select {
	case <-s.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drained is closed once teardown has resolved every submission queued before it.
func (s *Scheduler) Drained() <-chan struct{} {
	return s.drained
}

// =============================================================================
// Introspection
// =============================================================================

func (s *Scheduler) ID() string   { return s.id }
func (s *Scheduler) Name() string { return s.name }

// ThreadPool returns the execution environment the drain loop is posted to.
func (s *Scheduler) ThreadPool() ThreadPool { return s.pool }

// State returns the controller state. It is a snapshot and may be stale at once.
func (s *Scheduler) State() WorkerState {
	return s.ctrl.State()
}

// IsClosed reports whether Shutdown has been called.
func (s *Scheduler) IsClosed() bool {
	return s.sig.IsCancelled()
}

// PendingCount returns the number of submissions waiting in lane.
func (s *Scheduler) PendingCount(lane Lane) int {
	return s.lanes.Len(lane)
}

func (s *Scheduler) Stats() SchedulerStats {
	stats := SchedulerStats{
		ID:              s.id,
		Name:            s.name,
		State:           s.State(),
		PendingNormal:   s.lanes.Len(LaneNormal),
		PendingPriority: s.lanes.Len(LanePriority),
		Submitted:       s.seq.Load(),
		Completed:       s.completed.Load(),
		Failed:          s.failed.Load(),
		Cancelled:       s.cancelled.Load(),
		Rejected:        s.rejected.Load(),
		LoopStarts:      s.loopStarts.Load(),
		Closed:          s.IsClosed(),
	}
	if ns := s.lastActionAt.Load(); ns != 0 {
		stats.LastActionAt = time.Unix(0, ns)
	}
	return stats
}

// RecentActions returns up to limit records of resolved submissions, newest
// first. limit <= 0 returns everything retained.
func (s *Scheduler) RecentActions(limit int) []ActionRecord {
	return s.history.Recent(limit)
}

// LastAction returns the most recently resolved submission.
func (s *Scheduler) LastAction() (ActionRecord, bool) {
	return s.history.Last()
}
