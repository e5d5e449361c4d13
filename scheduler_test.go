package asyncscheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	asyncscheduler "github.com/Swind/go-async-scheduler"
)

// result waits for f and returns its value and error.
func result[T any](f *asyncscheduler.Future[T]) (T, error) {
	GinkgoHelper()
	Eventually(f.Done(), 2*time.Second).Should(BeClosed())
	return f.Get()
}

var _ = Describe("Scheduler", func() {
	var s *asyncscheduler.Scheduler

	AfterEach(func() {
		if s != nil {
			s.Shutdown()
			s = nil
		}
	})

	Describe("New", func() {
		It("should apply options", func() {
			core, logs := observer.New(zapcore.DebugLevel)
			s = asyncscheduler.New(
				asyncscheduler.WithName("orders"),
				asyncscheduler.WithZapLogger(zap.New(core)),
				asyncscheduler.WithHistoryCapacity(2),
			)

			Expect(s.Name()).To(Equal("orders"))
			Expect(s.State()).To(Equal(asyncscheduler.StateIdle))
			Expect(s.ThreadPool().ID()).To(Equal("spawn"))

			for i := range 3 {
				_, err := result(asyncscheduler.AddValue(s, func(ctx context.Context) (int, error) { return i, nil }))
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(s.RecentActions(0)).To(HaveLen(2))
			Expect(logs.FilterField(zap.String("scheduler", "orders")).Len()).To(BeNumerically(">", 0))
		})

		It("should default the name", func() {
			s = asyncscheduler.New()
			Expect(s.Name()).To(Equal("scheduler"))
			Expect(s.ID()).NotTo(BeEmpty())
		})
	})

	Describe("Lane shortcuts", func() {
		It("should run Interrupt submissions before queued Add submissions", func() {
			thread := asyncscheduler.NewDedicatedThread("shortcuts", nil)
			DeferCleanup(thread.Stop)
			s = asyncscheduler.New(asyncscheduler.WithThreadPool(thread))

			var mu sync.Mutex
			var order []string
			record := func(name string) func(context.Context) error {
				return func(context.Context) error {
					mu.Lock()
					defer mu.Unlock()
					order = append(order, name)
					return nil
				}
			}

			gate := make(chan struct{})
			asyncscheduler.Add(s, func(context.Context) error {
				<-gate
				return nil
			})
			asyncscheduler.Add(s, record("a"))
			asyncscheduler.Add(s, record("b"))
			last := asyncscheduler.Interrupt(s, record("c"))
			close(gate)

			_, err := result(last)
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() []string {
				mu.Lock()
				defer mu.Unlock()
				return append([]string(nil), order...)
			}, 2*time.Second).Should(Equal([]string{"c", "a", "b"}))
		})

		It("should return values from the value variants", func() {
			s = asyncscheduler.New()

			v, err := result(asyncscheduler.InterruptValue(s, func(context.Context) (string, error) { return "urgent", nil }))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("urgent"))

			inner := asyncscheduler.Go(context.Background(), func(context.Context) (int, error) { return 7, nil })
			n, err := result(asyncscheduler.AddAsyncValue(s, func(context.Context) asyncscheduler.Awaitable[int] { return inner }))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(7))

			done := asyncscheduler.Go(context.Background(), func(context.Context) (asyncscheduler.None, error) {
				return asyncscheduler.None{}, nil
			})
			_, err = result(asyncscheduler.InterruptAsync(s, func(context.Context) asyncscheduler.Awaitable[asyncscheduler.None] { return done }))
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Failures", func() {
		It("should report an action error without stopping the scheduler", func() {
			s = asyncscheduler.New()
			boom := errors.New("boom")

			_, err := result(asyncscheduler.Add(s, func(context.Context) error { return boom }))
			Expect(err).To(MatchError(boom))

			actionErr, ok := asyncscheduler.AsActionError(err)
			Expect(ok).To(BeTrue())
			Expect(actionErr.Lane).To(Equal(asyncscheduler.LaneNormal))

			v, err := result(asyncscheduler.AddValue(s, func(context.Context) (int, error) { return 1, nil }))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(1))
		})

		It("should turn a panic into a failed future", func() {
			s = asyncscheduler.New()

			f := asyncscheduler.Add(s, func(context.Context) error { panic("kaboom") })
			_, err := result(f)

			Expect(f.Outcome()).To(Equal(asyncscheduler.OutcomeFailed))
			actionErr, ok := asyncscheduler.AsActionError(err)
			Expect(ok).To(BeTrue())
			Expect(actionErr.Panicked).To(BeTrue())
			Expect(actionErr.PanicValue).To(Equal("kaboom"))
		})
	})

	Describe("Shutdown", func() {
		It("should cancel pending submissions and reject new ones", func() {
			s = asyncscheduler.New()

			started := make(chan struct{})
			release := make(chan struct{})
			running := asyncscheduler.Add(s, func(context.Context) error {
				close(started)
				<-release
				return nil
			})
			Eventually(started).Should(BeClosed())

			pending := make([]*asyncscheduler.Future[asyncscheduler.None], 5)
			for i := range pending {
				pending[i] = asyncscheduler.Add(s, func(context.Context) error { return nil })
			}

			shutdownDone := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				s.Shutdown()
				close(shutdownDone)
			}()
			Consistently(shutdownDone, 50*time.Millisecond).ShouldNot(BeClosed())
			close(release)
			Eventually(shutdownDone, 2*time.Second).Should(BeClosed())

			_, err := result(running)
			Expect(err).NotTo(HaveOccurred())
			for _, f := range pending {
				Expect(f.Outcome()).To(Equal(asyncscheduler.OutcomeCancelled))
			}

			_, err = result(asyncscheduler.Add(s, func(context.Context) error { return nil }))
			Expect(asyncscheduler.IsRejected(err)).To(BeTrue())
			Expect(s.IsClosed()).To(BeTrue())
			Expect(s.Stats().Pending()).To(BeZero())
		})

		It("should be idempotent", func() {
			s = asyncscheduler.New()
			s.Shutdown()
			s.Shutdown()
			Expect(s.Drained()).To(BeClosed())
		})

		It("should give up waiting when the context expires", func() {
			s = asyncscheduler.New()
			release := make(chan struct{})
			asyncscheduler.Add(s, func(context.Context) error {
				<-release
				return nil
			})

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			Expect(s.ShutdownContext(ctx)).To(MatchError(context.DeadlineExceeded))
			Expect(s.IsClosed()).To(BeTrue())

			close(release)
			Eventually(s.Drained(), 2*time.Second).Should(BeClosed())
		})
	})
})

var _ = Describe("GoroutineThreadPool", func() {
	It("should keep submissions of one scheduler mutually exclusive", func() {
		pool := asyncscheduler.NewGoroutineThreadPool("exclusive", 4)
		pool.Start(context.Background())
		DeferCleanup(pool.Stop)

		s := asyncscheduler.New(asyncscheduler.WithThreadPool(pool))
		DeferCleanup(s.Shutdown)

		var inFlight, maxInFlight atomic.Int32
		var last *asyncscheduler.Future[asyncscheduler.None]
		for range 200 {
			last = asyncscheduler.Add(s, func(context.Context) error {
				n := inFlight.Add(1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						break
					}
				}
				inFlight.Add(-1)
				return nil
			})
		}

		_, err := result(last)
		Expect(err).NotTo(HaveOccurred())
		Expect(maxInFlight.Load()).To(Equal(int32(1)))
	})

	It("should share workers between schedulers", func() {
		pool := asyncscheduler.NewPriorityGoroutineThreadPool("shared", 2)
		pool.Start(context.Background())
		DeferCleanup(pool.Stop)

		a := asyncscheduler.New(asyncscheduler.WithThreadPool(pool), asyncscheduler.WithName("a"))
		b := asyncscheduler.New(asyncscheduler.WithThreadPool(pool), asyncscheduler.WithName("b"))
		DeferCleanup(a.Shutdown)
		DeferCleanup(b.Shutdown)

		va, errA := result(asyncscheduler.AddValue(a, func(ctx context.Context) (string, error) {
			return asyncscheduler.CurrentScheduler(ctx).Name(), nil
		}))
		vb, errB := result(asyncscheduler.InterruptValue(b, func(ctx context.Context) (string, error) {
			return asyncscheduler.CurrentScheduler(ctx).Name(), nil
		}))

		Expect(errA).NotTo(HaveOccurred())
		Expect(errB).NotTo(HaveOccurred())
		Expect(va).To(Equal("a"))
		Expect(vb).To(Equal("b"))
		Expect(pool.Stats().Workers).To(Equal(2))
	})

	It("should still run loops posted before Stop", func() {
		pool := asyncscheduler.NewGoroutineThreadPool("stopped", 1)
		s := asyncscheduler.New(asyncscheduler.WithThreadPool(pool))
		DeferCleanup(s.Shutdown)

		// The pool never starts, so the loop waits in its ready queue.
		f := asyncscheduler.AddValue(s, func(context.Context) (int, error) { return 3, nil })
		Consistently(f.Done(), 30*time.Millisecond).ShouldNot(BeClosed())

		pool.Stop()

		v, err := result(f)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(3))
	})

	It("should report stats", func() {
		pool := asyncscheduler.NewGoroutineThreadPool("stats", 3)
		Expect(pool.IsRunning()).To(BeFalse())
		pool.Start(context.Background())
		DeferCleanup(pool.Stop)

		stats := pool.Stats()
		Expect(stats.ID).To(Equal("stats"))
		Expect(stats.Workers).To(Equal(3))
		Expect(stats.Running).To(BeTrue())
	})

	It("should stop gracefully", func() {
		pool := asyncscheduler.NewGoroutineThreadPool("graceful", 2)
		pool.Start(context.Background())

		Expect(pool.StopGraceful(time.Second)).To(Succeed())
		Expect(pool.IsRunning()).To(BeFalse())
	})
})

var _ = Describe("Global thread pool", func() {
	It("should panic before initialization", func() {
		Expect(func() { asyncscheduler.GetGlobalThreadPool() }).To(Panic())
	})

	It("should run schedulers created with CreateScheduler", func() {
		asyncscheduler.InitGlobalThreadPool(2)
		DeferCleanup(asyncscheduler.ShutdownGlobalThreadPool)

		s := asyncscheduler.CreateScheduler(asyncscheduler.WithName("global"))
		DeferCleanup(s.Shutdown)

		Expect(s.ThreadPool()).To(BeIdenticalTo(asyncscheduler.GetGlobalThreadPool()))
		v, err := result(asyncscheduler.AddValue(s, func(context.Context) (int, error) { return 42, nil }))
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(42))
	})
})

var _ = Describe("SubmitAndReply", func() {
	It("should deliver the result on the reply scheduler", func() {
		worker := asyncscheduler.New(asyncscheduler.WithName("worker"))
		ui := asyncscheduler.New(asyncscheduler.WithName("ui"))
		DeferCleanup(worker.Shutdown)
		DeferCleanup(ui.Shutdown)

		replies := make(chan string, 1)
		asyncscheduler.SubmitAndReply(worker, asyncscheduler.LaneNormal,
			func(context.Context) (int, error) { return 2, nil },
			func(ctx context.Context, v int, err error) {
				defer GinkgoRecover()
				Expect(err).NotTo(HaveOccurred())
				Expect(v).To(Equal(2))
				replies <- asyncscheduler.CurrentScheduler(ctx).Name()
			},
			ui,
		)

		Eventually(replies, 2*time.Second).Should(Receive(Equal("ui")))
	})
})
