package usecase

import (
	"context"
	"sync"
	"time"

	drepo "CoinPull/internal/domain/repository"
	"CoinPull/pkg/clock"
	applogger "CoinPull/pkg/logger"
)

// Sweeper periodically removes too-old and unreadable cache records.
type Sweeper struct {
	store    drepo.SnapshotStore
	interval time.Duration
	clock    clock.Clock
	log      *applogger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(store drepo.SnapshotStore, interval time.Duration, clk clock.Clock, l *applogger.Logger) *Sweeper {
	return &Sweeper{store: store, interval: interval, clock: clk, log: l}
}

// Run sweeps every interval until ctx is cancelled. Sweep errors are logged only.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.interval):
		}
		n, err := s.store.Sweep(ctx)
		if err != nil {
			s.log.Warn("cache sweep failed", applogger.Error(err))
			continue
		}
		if n > 0 {
			s.log.Info("cache sweep removed records", applogger.Int("removed", n))
		}
	}
}

// Start runs the loop in the background.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.Run(ctx)
	}()
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
