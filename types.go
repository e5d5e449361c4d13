package asyncscheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/Swind/go-async-scheduler/core"
)

// Re-export commonly used types from core package for convenience.
// This allows users to import only the asyncscheduler package for most use cases.

// Scheduler serializes submitted actions on one lazily started drain loop
type Scheduler = core.Scheduler

// Action is the unit of work (cancellation-aware callable producing a T)
type Action[T any] = core.Action[T]

// Future is the result handle of one submission
type Future[T any] = core.Future[T]

// Awaitable is what an asynchronous action hands back to be awaited
type Awaitable[T any] = core.Awaitable[T]

// None is the value type of actions that produce nothing
type None = core.None

// Lane selects the normal or the priority queue
type Lane = core.Lane

// Outcome is the resolution kind of a Future
type Outcome = core.Outcome

// WorkerState is the drain loop state
type WorkerState = core.WorkerState

// ThreadPool is re-exported for type compatibility
type ThreadPool = core.ThreadPool

// Config holds Scheduler options
type Config = core.Config

type (
	Logger          = core.Logger
	Metrics         = core.Metrics
	PanicHandler    = core.PanicHandler
	RejectedHandler = core.RejectedHandler
	ActionError     = core.ActionError
	ActionRecord    = core.ActionRecord
	SchedulerStats  = core.SchedulerStats
	PoolStats       = core.PoolStats
	DedicatedThread = core.DedicatedThread
	SpawnExecutor   = core.SpawnExecutor
)

const (
	LaneNormal   = core.LaneNormal
	LanePriority = core.LanePriority

	StateIdle     = core.StateIdle
	StateStarting = core.StateStarting
	StateActive   = core.StateActive

	OutcomePending   = core.OutcomePending
	OutcomeValue     = core.OutcomeValue
	OutcomeFailed    = core.OutcomeFailed
	OutcomeCancelled = core.OutcomeCancelled
)

var (
	ErrCancelled      = core.ErrCancelled
	ErrRejected       = core.ErrRejected
	ErrNilAction      = core.ErrNilAction
	ErrInvalidLane    = core.ErrInvalidLane
	ErrPoolNotRunning = core.ErrPoolNotRunning

	IsCancelled   = core.IsCancelled
	IsRejected    = core.IsRejected
	AsActionError = core.AsActionError

	// CurrentScheduler retrieves the Scheduler running the current action from ctx
	CurrentScheduler = core.CurrentScheduler

	NewDedicatedThread = core.NewDedicatedThread
	NewSpawnExecutor   = core.NewSpawnExecutor
	NewZapLogger       = core.NewZapLogger
	NewNoOpLogger      = core.NewNoOpLogger
)

// =============================================================================
// Options
// =============================================================================

type options struct {
	pool ThreadPool
	cfg  core.Config
}

// Option configures New.
type Option func(*options)

// WithName labels the scheduler in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.cfg.Name = name }
}

func WithLogger(logger Logger) Option {
	return func(o *options) { o.cfg.Logger = logger }
}

// WithZapLogger logs through l.
func WithZapLogger(l *zap.Logger) Option {
	return func(o *options) { o.cfg.Logger = core.NewZapLogger(l) }
}

func WithMetrics(metrics Metrics) Option {
	return func(o *options) { o.cfg.Metrics = metrics }
}

func WithPanicHandler(h PanicHandler) Option {
	return func(o *options) { o.cfg.PanicHandler = h }
}

func WithRejectedHandler(h RejectedHandler) Option {
	return func(o *options) { o.cfg.RejectedHandler = h }
}

// WithHistoryCapacity bounds how many ActionRecords RecentActions retains.
func WithHistoryCapacity(n int) Option {
	return func(o *options) { o.cfg.HistoryCapacity = n }
}

// WithThreadPool runs the drain loop on pool instead of spawning a goroutine per
// activity burst.
func WithThreadPool(pool ThreadPool) Option {
	return func(o *options) { o.pool = pool }
}

// New creates an idle Scheduler.
func New(opts ...Option) *Scheduler {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return core.NewScheduler(o.pool, &o.cfg)
}

// =============================================================================
// Submission
// =============================================================================

// Submit queues a value-returning action on lane.
func Submit[T any](s *Scheduler, lane Lane, action Action[T]) *Future[T] {
	return core.Submit(s, lane, action)
}

// Post queues an action that produces no value on lane.
func Post(s *Scheduler, lane Lane, fn func(ctx context.Context) error) *Future[None] {
	return core.Post(s, lane, fn)
}

// SubmitAsync queues an asynchronous value-returning action on lane.
func SubmitAsync[T any](s *Scheduler, lane Lane, fn func(ctx context.Context) Awaitable[T]) *Future[T] {
	return core.SubmitAsync(s, lane, fn)
}

// PostAsync queues an asynchronous action that produces no value on lane.
func PostAsync(s *Scheduler, lane Lane, fn func(ctx context.Context) Awaitable[None]) *Future[None] {
	return core.PostAsync(s, lane, fn)
}

// SubmitAndReply runs action on s, then posts reply with its outcome to replyTo.
func SubmitAndReply[T any](s *Scheduler, lane Lane, action Action[T], reply core.Reply[T], replyTo *Scheduler) *Future[T] {
	return core.SubmitAndReply(s, lane, action, reply, replyTo)
}

// Go runs action on its own goroutine and returns a Future for it, ready to be
// returned from an asynchronous action.
func Go[T any](ctx context.Context, action Action[T]) *Future[T] {
	return core.Go(ctx, action)
}

// Add queues fn on the normal lane.
func Add(s *Scheduler, fn func(ctx context.Context) error) *Future[None] {
	return core.Post(s, core.LaneNormal, fn)
}

// AddValue queues a value-returning action on the normal lane.
func AddValue[T any](s *Scheduler, action Action[T]) *Future[T] {
	return core.Submit(s, core.LaneNormal, action)
}

// AddAsync queues an asynchronous action on the normal lane.
func AddAsync(s *Scheduler, fn func(ctx context.Context) Awaitable[None]) *Future[None] {
	return core.PostAsync(s, core.LaneNormal, fn)
}

// AddAsyncValue queues an asynchronous value-returning action on the normal lane.
func AddAsyncValue[T any](s *Scheduler, fn func(ctx context.Context) Awaitable[T]) *Future[T] {
	return core.SubmitAsync(s, core.LaneNormal, fn)
}

// Interrupt queues fn on the priority lane. It runs after the current action,
// ahead of every normal-lane submission.
func Interrupt(s *Scheduler, fn func(ctx context.Context) error) *Future[None] {
	return core.Post(s, core.LanePriority, fn)
}

func InterruptValue[T any](s *Scheduler, action Action[T]) *Future[T] {
	return core.Submit(s, core.LanePriority, action)
}

func InterruptAsync(s *Scheduler, fn func(ctx context.Context) Awaitable[None]) *Future[None] {
	return core.PostAsync(s, core.LanePriority, fn)
}

func InterruptAsyncValue[T any](s *Scheduler, fn func(ctx context.Context) Awaitable[T]) *Future[T] {
	return core.SubmitAsync(s, core.LanePriority, fn)
}
