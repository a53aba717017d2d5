// Package scheduler drives feed update cycles. A single tick loop claims due
// schedules in batches and hands them to a worker pool; the store-level claim
// guarantees a feed is never run by two workers at once.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/quotient-labs/price-oracle/internal/app/domain/feed"
	"github.com/quotient-labs/price-oracle/internal/app/metrics"
	"github.com/quotient-labs/price-oracle/internal/app/storage"
	"github.com/quotient-labs/price-oracle/internal/app/system"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

// Defaults for the claim loop.
const (
	DefaultTickInterval = time.Second
	DefaultBatchSize    = 32
	DefaultWorkers      = 8
)

const gaugeRefreshInterval = 30 * time.Second

// Scheduler is the update-cycle driver service.
type Scheduler struct {
	schedules storage.ScheduleStore
	runner    *Runner
	log       *logger.Logger

	tick    time.Duration
	batch   int
	workers int
	now     func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New constructs a scheduler with default tick, batch and pool sizes.
func New(schedules storage.ScheduleStore, runner *Runner, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	return &Scheduler{
		schedules: schedules,
		runner:    runner,
		log:       log,
		tick:      DefaultTickInterval,
		batch:     DefaultBatchSize,
		workers:   DefaultWorkers,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithTick overrides the claim loop interval. Call before Start.
func (s *Scheduler) WithTick(d time.Duration) *Scheduler {
	if d > 0 {
		s.tick = d
	}
	return s
}

// WithBatch overrides the per-tick claim limit. Call before Start.
func (s *Scheduler) WithBatch(n int) *Scheduler {
	if n > 0 {
		s.batch = n
	}
	return s
}

// WithWorkers overrides the cycle pool size. Call before Start.
func (s *Scheduler) WithWorkers(n int) *Scheduler {
	if n > 0 {
		s.workers = n
	}
	return s
}

func (s *Scheduler) Name() string { return "feed-scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	jobs := make(chan feed.Schedule)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for sched := range jobs {
				s.runner.RunCycle(runCtx, sched)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(jobs)
		s.claimLoop(runCtx, jobs)
	}()

	s.log.WithField("workers", s.workers).
		WithField("tick", s.tick.String()).
		Info("feed scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("feed scheduler stopped")
	return nil
}

func (s *Scheduler) claimLoop(ctx context.Context, jobs chan<- feed.Schedule) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	gauge := time.NewTicker(gaugeRefreshInterval)
	defer gauge.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gauge.C:
			s.refreshPausedGauge(ctx)
		case <-ticker.C:
			due, err := s.schedules.ClaimDue(ctx, s.now(), s.batch)
			if err != nil {
				s.log.WithError(err).Warn("claim due schedules failed")
				continue
			}
			for _, sched := range due {
				select {
				case jobs <- sched:
				case <-ctx.Done():
					// Release the claim so the next start picks the feed up.
					if err := s.schedules.CompleteSchedule(ctx, sched); err != nil {
						s.log.WithError(err).WithField("feed_id", sched.FeedID).Warn("release claimed schedule failed")
					}
					return
				}
			}
		}
	}
}

func (s *Scheduler) refreshPausedGauge(ctx context.Context) {
	all, err := s.schedules.ListSchedules(ctx)
	if err != nil {
		return
	}
	paused := 0
	for _, sched := range all {
		if sched.IsPaused {
			paused++
		}
	}
	metrics.SetPausedFeeds(paused)
}
