package core

import (
	"context"
	"fmt"
	"time"

	"github.com/creasty/defaults"
)

// =============================================================================
// PanicHandler: Interface for handling action panics
// =============================================================================

// PanicHandler is called when an action panics inside a drain loop. The panic is
// already recovered and recorded on the submission's Future; the handler only
// observes it.
//
// Implementations should be thread-safe as they may be called concurrently by
// different schedulers.
type PanicHandler interface {
	// HandlePanic is called when an action panics.
	//
	// Parameters:
	// - ctx: The action's context (carries the current scheduler)
	// - schedulerName: The name of the scheduler whose loop ran the action
	// - submissionID: The sequence number of the submission
	// - panicInfo: The panic value recovered from the action
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, schedulerName string, submissionID uint64, panicInfo any, stackTrace []byte)
}

// LoggingPanicHandler reports panics through a Logger.
type LoggingPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic at error level.
func (h *LoggingPanicHandler) HandlePanic(ctx context.Context, schedulerName string, submissionID uint64, panicInfo any, stackTrace []byte) {
	h.Logger.Error("action panicked",
		F("scheduler", schedulerName),
		F("submission", submissionID),
		F("panic", fmt.Sprint(panicInfo)),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called from drain loops and submitters, so they must be
// non-blocking and fast.
type Metrics interface {
	// RecordActionDuration records how long an action took, including the time
	// its awaitable spent suspended.
	RecordActionDuration(schedulerName string, lane Lane, duration time.Duration)

	// RecordActionOutcome records how a popped submission resolved.
	RecordActionOutcome(schedulerName string, lane Lane, outcome Outcome)

	// RecordQueueDepth records the number of submissions waiting in a lane.
	RecordQueueDepth(schedulerName string, lane Lane, depth int)

	// RecordRejected records a submission refused before it reached a lane.
	RecordRejected(schedulerName string, reason string)

	// RecordLoopStart records a drain loop being posted to the execution
	// environment or restarted inline.
	RecordLoopStart(schedulerName string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordActionDuration(schedulerName string, lane Lane, duration time.Duration) {
}

func (m *NilMetrics) RecordActionOutcome(schedulerName string, lane Lane, outcome Outcome) {}

func (m *NilMetrics) RecordQueueDepth(schedulerName string, lane Lane, depth int) {}

func (m *NilMetrics) RecordRejected(schedulerName string, reason string) {}

func (m *NilMetrics) RecordLoopStart(schedulerName string) {}

// =============================================================================
// RejectedHandler: Interface for handling rejected submissions
// =============================================================================

// RejectedHandler is called when a submission is refused because the scheduler
// has been shut down. The submission's Future is already resolved as cancelled.
type RejectedHandler interface {
	HandleRejected(schedulerName string, lane Lane, reason string)
}

// LoggingRejectedHandler reports rejections at debug level.
type LoggingRejectedHandler struct {
	Logger Logger
}

func (h *LoggingRejectedHandler) HandleRejected(schedulerName string, lane Lane, reason string) {
	h.Logger.Debug("submission rejected",
		F("scheduler", schedulerName),
		F("lane", lane.String()),
		F("reason", reason),
	)
}

// =============================================================================
// Config: Configuration for Scheduler
// =============================================================================

// Config holds the options of a Scheduler. Scalar fields carry `default` tags;
// nil handlers are replaced with the logging defaults.
type Config struct {
	// Name labels logs and metrics. Defaults to "scheduler".
	Name string `default:"scheduler"`

	// HistoryCapacity bounds the ring buffer behind RecentActions.
	HistoryCapacity int `default:"100"`

	Logger          Logger
	Metrics         Metrics
	PanicHandler    PanicHandler
	RejectedHandler RejectedHandler
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := cfg.applyDefaults(); err != nil {
		panic(fmt.Sprintf("asyncscheduler: invalid default config: %v", err))
	}
	return cfg
}

func (c *Config) applyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("apply config defaults: %w", err)
	}
	if c.HistoryCapacity < 1 {
		c.HistoryCapacity = defaultHistoryCapacity
	}
	if c.Logger == nil {
		c.Logger = NewDefaultLogger()
	}
	if c.Metrics == nil {
		c.Metrics = &NilMetrics{}
	}
	if c.PanicHandler == nil {
		c.PanicHandler = &LoggingPanicHandler{Logger: c.Logger}
	}
	if c.RejectedHandler == nil {
		c.RejectedHandler = &LoggingRejectedHandler{Logger: c.Logger}
	}
	return nil
}
