package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-async-scheduler/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
// *core.Scheduler implements it.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// PoolSnapshotProvider provides current pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// SnapshotPoller periodically exports scheduler/pool Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	schedulerPending   *prom.GaugeVec
	schedulerState     *prom.GaugeVec
	schedulerSubmitted *prom.GaugeVec
	schedulerRejected  *prom.GaugeVec
	schedulerClosed    *prom.GaugeVec

	poolQueued  *prom.GaugeVec
	poolActive  *prom.GaugeVec
	poolWorkers *prom.GaugeVec
	poolRunning *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	schedulerPending := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "asyncscheduler",
		Name:      "scheduler_pending",
		Help:      "Number of queued submissions per scheduler and lane.",
	}, []string{"scheduler", "lane"})
	schedulerState := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "asyncscheduler",
		Name:      "scheduler_state",
		Help:      "Drain loop state (0=idle, 1=starting, 2=active).",
	}, []string{"scheduler"})
	schedulerSubmitted := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "asyncscheduler",
		Name:      "scheduler_submitted_total",
		Help:      "Scheduler accepted submission count snapshot.",
	}, []string{"scheduler"})
	schedulerRejected := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "asyncscheduler",
		Name:      "scheduler_rejected_total",
		Help:      "Scheduler rejected submission count snapshot.",
	}, []string{"scheduler"})
	schedulerClosed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "asyncscheduler",
		Name:      "scheduler_closed",
		Help:      "Scheduler closed state (1=closed, 0=open).",
	}, []string{"scheduler"})

	poolQueued := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "asyncscheduler",
		Name:      "pool_queued",
		Help:      "Queued tasks per pool.",
	}, []string{"pool"})
	poolActive := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "asyncscheduler",
		Name:      "pool_active",
		Help:      "Active tasks per pool.",
	}, []string{"pool"})
	poolWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "asyncscheduler",
		Name:      "pool_workers",
		Help:      "Worker count per pool.",
	}, []string{"pool"})
	poolRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "asyncscheduler",
		Name:      "pool_running",
		Help:      "Pool running state (1=running, 0=stopped).",
	}, []string{"pool"})

	var err error
	if schedulerPending, err = registerCollector(reg, schedulerPending); err != nil {
		return nil, err
	}
	if schedulerState, err = registerCollector(reg, schedulerState); err != nil {
		return nil, err
	}
	if schedulerSubmitted, err = registerCollector(reg, schedulerSubmitted); err != nil {
		return nil, err
	}
	if schedulerRejected, err = registerCollector(reg, schedulerRejected); err != nil {
		return nil, err
	}
	if schedulerClosed, err = registerCollector(reg, schedulerClosed); err != nil {
		return nil, err
	}
	if poolQueued, err = registerCollector(reg, poolQueued); err != nil {
		return nil, err
	}
	if poolActive, err = registerCollector(reg, poolActive); err != nil {
		return nil, err
	}
	if poolWorkers, err = registerCollector(reg, poolWorkers); err != nil {
		return nil, err
	}
	if poolRunning, err = registerCollector(reg, poolRunning); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:           interval,
		schedulers:         make(map[string]SchedulerSnapshotProvider),
		pools:              make(map[string]PoolSnapshotProvider),
		schedulerPending:   schedulerPending,
		schedulerState:     schedulerState,
		schedulerSubmitted: schedulerSubmitted,
		schedulerRejected:  schedulerRejected,
		schedulerClosed:    schedulerClosed,
		poolQueued:         poolQueued,
		poolActive:         poolActive,
		poolWorkers:        poolWorkers,
		poolRunning:        poolRunning,
	}, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// RemoveScheduler stops polling a scheduler and drops its series.
func (p *SnapshotPoller) RemoveScheduler(name string) {
	if p == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	delete(p.schedulers, name)
	p.schedulersMu.Unlock()

	labels := prom.Labels{"scheduler": name}
	p.schedulerPending.DeletePartialMatch(labels)
	p.schedulerState.DeletePartialMatch(labels)
	p.schedulerSubmitted.DeletePartialMatch(labels)
	p.schedulerRejected.DeletePartialMatch(labels)
	p.schedulerClosed.DeletePartialMatch(labels)
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx, p.done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

// CollectOnce takes one snapshot of every provider immediately.
func (p *SnapshotPoller) CollectOnce() {
	if p == nil {
		return
	}
	p.collectOnce()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	for name, provider := range p.schedulers {
		stats := provider.Stats()
		p.schedulerPending.WithLabelValues(name, core.LaneNormal.String()).Set(float64(stats.PendingNormal))
		p.schedulerPending.WithLabelValues(name, core.LanePriority.String()).Set(float64(stats.PendingPriority))
		p.schedulerState.WithLabelValues(name).Set(float64(stats.State))
		p.schedulerSubmitted.WithLabelValues(name).Set(float64(stats.Submitted))
		p.schedulerRejected.WithLabelValues(name).Set(float64(stats.Rejected))
		if stats.Closed {
			p.schedulerClosed.WithLabelValues(name).Set(1)
		} else {
			p.schedulerClosed.WithLabelValues(name).Set(0)
		}
	}
	p.schedulersMu.RUnlock()

	p.poolsMu.RLock()
	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.poolActive.WithLabelValues(name).Set(float64(stats.Active))
		p.poolWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		if stats.Running {
			p.poolRunning.WithLabelValues(name).Set(1)
		} else {
			p.poolRunning.WithLabelValues(name).Set(0)
		}
	}
	p.poolsMu.RUnlock()
}
