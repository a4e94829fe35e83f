package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"CoinPull/internal/domain/models"
	drepo "CoinPull/internal/domain/repository"
	"CoinPull/pkg/clock"
	applogger "CoinPull/pkg/logger"
)

var ErrSchedulerRunning = errors.New("scheduler already running")

// Scheduler proactively refreshes the price cache on a fixed period,
// switching to exponential backoff while the upstream is failing.
type Scheduler struct {
	source  drepo.PriceSource
	deliver SnapshotDeliverer
	state   *FetchAttemptState
	clock   clock.Clock
	period  time.Duration
	timeout time.Duration
	metrics drepo.Metrics
	log     *applogger.Logger

	running   atomic.Bool
	mu        sync.Mutex
	nextRunAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// SchedulerConfig holds the scheduler timings.
type SchedulerConfig struct {
	Period      time.Duration
	RetryBase   time.Duration
	RetryFactor float64
	RetryMax    time.Duration
	Timeout     time.Duration
}

// NewScheduler creates a scheduler.
func NewScheduler(source drepo.PriceSource, deliver SnapshotDeliverer, cfg SchedulerConfig, clk clock.Clock, metrics drepo.Metrics, l *applogger.Logger) *Scheduler {
	return &Scheduler{
		source:  source,
		deliver: deliver,
		state:   NewFetchAttemptState(cfg.RetryBase, cfg.RetryFactor, cfg.RetryMax),
		clock:   clk,
		period:  cfg.Period,
		timeout: cfg.Timeout,
		metrics: metrics,
		log:     l,
	}
}

// Run fetches immediately, then keeps fetching until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSchedulerRunning
	}
	defer s.running.Store(false)

	s.log.Info("price scheduler started", applogger.Duration("period_ms", s.period))
	var delay time.Duration
	for {
		s.setNextRun(s.clock.Now().Add(delay))
		select {
		case <-ctx.Done():
			s.log.Info("price scheduler stopped")
			return nil
		case <-s.clock.After(delay):
		}
		delay = s.RunOnce(ctx)
	}
}

// Start runs the loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := s.Run(ctx); err != nil {
			s.log.Warn("price scheduler not started", applogger.Error(err))
		}
	}()
}

// Stop cancels the loop and waits for the current cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce performs one fetch cycle and returns the delay before the next one.
func (s *Scheduler) RunOnce(ctx context.Context) (next time.Duration) {
	start := s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordError("scheduler_panic")
			next = s.fail(fmt.Errorf("panic in fetch cycle: %v", r), start)
		}
	}()

	fctx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	snap, err := s.source.FetchSnapshot(fctx)
	if err == nil {
		snap, err = s.deliver.Deliver(ctx, snap)
	}
	if err != nil {
		return s.fail(err, start)
	}

	now := s.clock.Now()
	s.state.RecordSuccess(now)
	s.metrics.RecordFetch("scheduler", true, now.Sub(start).Seconds())
	s.metrics.RecordRetryInterval(0)
	s.log.Info("prices refreshed",
		applogger.Int("tickers", snap.Len()),
		applogger.Duration("took_ms", now.Sub(start)),
	)
	return s.period
}

func (s *Scheduler) fail(err error, start time.Time) time.Duration {
	delay := s.state.RecordFailure()
	attempts, _, _ := s.state.Snapshot()
	s.metrics.RecordFetch("scheduler", false, s.clock.Now().Sub(start).Seconds())
	s.metrics.RecordRetryInterval(delay)
	s.log.Warn("price refresh failed",
		applogger.Error(err),
		applogger.Int("attempt", attempts),
		applogger.Duration("retry_in_ms", delay),
	)
	return delay
}

func (s *Scheduler) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRunAt = t
	s.mu.Unlock()
}

// Status reports the loop state.
func (s *Scheduler) Status() models.SchedulerStatus {
	attempts, retry, last := s.state.Snapshot()
	st := models.SchedulerStatus{
		IsRunning:              s.running.Load(),
		AttemptCount:           attempts,
		CurrentRetryIntervalMs: retry.Milliseconds(),
	}
	if !last.IsZero() {
		st.LastSuccessAt = &last
	}
	s.mu.Lock()
	if next := s.nextRunAt; st.IsRunning && !next.IsZero() {
		st.NextRunAt = &next
	}
	s.mu.Unlock()
	return st
}
