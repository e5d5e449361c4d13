package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-async-scheduler/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	actionDurationSeconds *prom.HistogramVec
	actionOutcomeTotal    *prom.CounterVec
	rejectedTotal         *prom.CounterVec
	loopStartsTotal       *prom.CounterVec
	queueDepth            *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "asyncscheduler"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "action_duration_seconds",
		Help:      "Action execution duration in seconds, including time spent awaiting.",
		Buckets:   buckets,
	}, []string{"scheduler", "lane"})
	outcomeVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "action_outcome_total",
		Help:      "Total number of resolved submissions by outcome.",
	}, []string{"scheduler", "lane", "outcome"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "submission_rejected_total",
		Help:      "Total number of submissions rejected after shutdown.",
	}, []string{"scheduler", "reason"})
	loopStartsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "loop_starts_total",
		Help:      "Total number of drain loop starts.",
	}, []string{"scheduler"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current number of queued submissions per lane.",
	}, []string{"scheduler", "lane"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if outcomeVec, err = registerCollector(reg, outcomeVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if loopStartsVec, err = registerCollector(reg, loopStartsVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		actionDurationSeconds: durationVec,
		actionOutcomeTotal:    outcomeVec,
		rejectedTotal:         rejectedVec,
		loopStartsTotal:       loopStartsVec,
		queueDepth:            queueDepthVec,
	}, nil
}

// RecordActionDuration records action execution duration.
func (m *MetricsExporter) RecordActionDuration(schedulerName string, lane core.Lane, duration time.Duration) {
	if m == nil {
		return
	}
	m.actionDurationSeconds.WithLabelValues(normalizeLabel(schedulerName, "unknown"), lane.String()).Observe(duration.Seconds())
}

func (m *MetricsExporter) RecordActionOutcome(schedulerName string, lane core.Lane, outcome core.Outcome) {
	if m == nil {
		return
	}
	m.actionOutcomeTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown"), lane.String(), outcome.String()).Inc()
}

// RecordQueueDepth records lane depth.
func (m *MetricsExporter) RecordQueueDepth(schedulerName string, lane core.Lane, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(schedulerName, "unknown"), lane.String()).Set(float64(depth))
}

func (m *MetricsExporter) RecordRejected(schedulerName string, reason string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

func (m *MetricsExporter) RecordLoopStart(schedulerName string) {
	if m == nil {
		return
	}
	m.loopStartsTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
