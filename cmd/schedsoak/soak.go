package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	asyncscheduler "github.com/Swind/go-async-scheduler"
	obs "github.com/Swind/go-async-scheduler/observability/prometheus"
)

// Report summarizes one soak run. Violations lists every broken ordering,
// exclusion or resolution property; an empty list is a pass.
type Report struct {
	Submitted  int
	Completed  int
	Cancelled  int
	Rejected   int
	Failed     int
	Elapsed    time.Duration
	Violations []string
}

func (r Report) OK() bool { return len(r.Violations) == 0 }

// laneKey identifies one FIFO stream: what a single producer submitted on one
// lane of one scheduler.
type laneKey struct {
	scheduler int
	producer  int
	lane      asyncscheduler.Lane
}

// tracker observes actions as they run. Per-scheduler state is only touched
// from that scheduler's actions, so it relies on mutual exclusion instead of
// a lock; inFlight catches the case where that does not hold.
type tracker struct {
	inFlight []atomic.Int32
	lastSeq  []map[laneKey]int

	mu         sync.Mutex
	violations []string
}

func newTracker(schedulers int) *tracker {
	t := &tracker{
		inFlight: make([]atomic.Int32, schedulers),
		lastSeq:  make([]map[laneKey]int, schedulers),
	}
	for i := range t.lastSeq {
		t.lastSeq[i] = make(map[laneKey]int)
	}
	return t
}

func (t *tracker) violate(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.violations = append(t.violations, fmt.Sprintf(format, args...))
}

func (t *tracker) enter(key laneKey, seq int) {
	if n := t.inFlight[key.scheduler].Add(1); n != 1 {
		t.violate("scheduler %d: %d actions in flight", key.scheduler, n)
	}
	if last, ok := t.lastSeq[key.scheduler][key]; ok && seq <= last {
		t.violate("scheduler %d producer %d %s lane: seq %d ran after %d", key.scheduler, key.producer, key.lane, seq, last)
	}
	t.lastSeq[key.scheduler][key] = seq
}

func (t *tracker) exit(key laneKey) {
	t.inFlight[key.scheduler].Add(-1)
}

type soak struct {
	cfg    Config
	logger *zap.Logger
}

func (s *soak) run(ctx context.Context) (Report, error) {
	reg := prom.NewRegistry()
	exporter, err := obs.NewMetricsExporter("asyncscheduler", reg, obs.ExporterOptions{})
	if err != nil {
		return Report{}, fmt.Errorf("create metrics exporter: %w", err)
	}
	poller, err := obs.NewSnapshotPoller(reg, 100*time.Millisecond)
	if err != nil {
		return Report{}, fmt.Errorf("create snapshot poller: %w", err)
	}

	if s.cfg.MetricsAddr != "" {
		stop, err := s.serveMetrics(reg)
		if err != nil {
			return Report{}, err
		}
		defer func() {
			if s.cfg.Linger > 0 {
				s.logger.Info("lingering for scrapes", zap.Duration("linger", s.cfg.Linger))
				select {
				case <-time.After(s.cfg.Linger):
				case <-ctx.Done():
				}
			}
			stop()
		}()
	}

	threadPool := asyncscheduler.NewGoroutineThreadPoolWithLogger("soak-pool", s.cfg.Workers, true, asyncscheduler.NewZapLogger(s.logger))
	threadPool.Start(ctx)
	defer threadPool.Stop()
	poller.AddPool("soak-pool", threadPool)

	schedulers := make([]*asyncscheduler.Scheduler, s.cfg.Schedulers)
	for i := range schedulers {
		name := fmt.Sprintf("soak-%d", i)
		schedulers[i] = asyncscheduler.New(
			asyncscheduler.WithName(name),
			asyncscheduler.WithThreadPool(threadPool),
			asyncscheduler.WithZapLogger(s.logger),
			asyncscheduler.WithMetrics(exporter),
		)
		poller.AddScheduler(name, schedulers[i])
	}
	poller.Start(ctx)
	defer poller.Stop()

	track := newTracker(len(schedulers))
	futures := make([][]*asyncscheduler.Future[int], s.cfg.Producers)

	var submitted atomic.Int64
	total := int64(s.cfg.Producers * s.cfg.Submissions)
	shutdownAfter := int64(float64(total) * s.cfg.ShutdownAt)
	var shutdownOnce sync.Once
	shutdownAll := func() {
		shutdownOnce.Do(func() {
			s.logger.Info("shutting down schedulers", zap.Int64("submitted", submitted.Load()))
			var wg sync.WaitGroup
			for _, sched := range schedulers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					sched.Shutdown()
				}()
			}
			wg.Wait()
		})
	}

	start := time.Now()
	producers := pool.New().WithErrors().WithMaxGoroutines(s.cfg.Producers)
	for p := range s.cfg.Producers {
		producers.Go(func() error {
			out := make([]*asyncscheduler.Future[int], 0, s.cfg.Submissions)
			defer func() { futures[p] = out }()

			for seq := range s.cfg.Submissions {
				if err := ctx.Err(); err != nil {
					return err
				}
				key := laneKey{
					scheduler: (p + seq) % len(schedulers),
					producer:  p,
					lane:      asyncscheduler.LaneNormal,
				}
				if (p*s.cfg.Submissions+seq)%100 < s.cfg.PriorityPct {
					key.lane = asyncscheduler.LanePriority
				}
				out = append(out, asyncscheduler.Submit(schedulers[key.scheduler], key.lane,
					func(ctx context.Context) (int, error) {
						track.enter(key, seq)
						defer track.exit(key)
						if s.cfg.ActionDelay > 0 {
							time.Sleep(s.cfg.ActionDelay)
						}
						return seq, nil
					}))

				if submitted.Add(1) == shutdownAfter {
					go shutdownAll()
				}
			}
			return nil
		})
	}
	if err := producers.Wait(); err != nil {
		return Report{}, fmt.Errorf("producers: %w", err)
	}

	shutdownAll()

	report := Report{Elapsed: time.Since(start)}
	for p, out := range futures {
		for i, f := range out {
			report.Submitted++
			select {
			case <-f.Done():
			default:
				report.Violations = append(report.Violations, fmt.Sprintf("producer %d submission %d still pending after shutdown", p, i))
				continue
			}
			_, err := f.Get()
			switch {
			case err == nil:
				report.Completed++
			case errors.Is(err, asyncscheduler.ErrRejected):
				report.Rejected++
			case asyncscheduler.IsCancelled(err):
				report.Cancelled++
			default:
				report.Failed++
				report.Violations = append(report.Violations, fmt.Sprintf("producer %d submission %d failed: %v", p, i, err))
			}
		}
	}

	track.mu.Lock()
	report.Violations = append(report.Violations, track.violations...)
	track.mu.Unlock()

	poller.CollectOnce()
	return report, nil
}

func (s *soak) serveMetrics(reg *prom.Registry) (stop func(), err error) {
	ln, err := net.Listen("tcp", s.cfg.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.cfg.MetricsAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
