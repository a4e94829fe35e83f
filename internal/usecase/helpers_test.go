package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"CoinPull/internal/domain/models"
	drepo "CoinPull/internal/domain/repository"
	mid "CoinPull/internal/middleware"
	"CoinPull/internal/repository"
	"CoinPull/pkg/cache"
	"CoinPull/pkg/clock"
	"CoinPull/pkg/metrics"

	"github.com/shopspring/decimal"
)

const testKey = "crypto-prices"

var errUpstream = errors.New("upstream down")

// scriptedSource returns queued results in order, repeating the last one.
type scriptedSource struct {
	mu      sync.Mutex
	results []error
	calls   atomic.Int32
	clock   clock.Clock
	block   chan struct{}
	entered chan struct{}
	panics  bool
}

func (s *scriptedSource) FetchSnapshot(ctx context.Context) (*models.PriceSnapshot, error) {
	s.calls.Add(1)
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.panics {
		panic("boom")
	}

	s.mu.Lock()
	var err error
	if len(s.results) > 0 {
		err = s.results[0]
		if len(s.results) > 1 {
			s.results = s.results[1:]
		}
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return testSnapshot(s.clock.Now()), nil
}

type nopBroadcaster struct{ calls atomic.Int32 }

func (b *nopBroadcaster) Broadcast(context.Context, *models.PriceSnapshot, bool) drepo.BroadcastResult {
	b.calls.Add(1)
	return drepo.BroadcastResult{}
}

func testSnapshot(at time.Time) *models.PriceSnapshot {
	return models.NewPriceSnapshot(at, []models.Ticker{
		{Symbol: "BTC", Name: "Bitcoin", Price: decimal.NewFromInt(67000), ChangePercent24h: decimal.RequireFromString("3")},
		{Symbol: "ETH", Name: "Ethereum", Price: decimal.NewFromInt(3500)},
	})
}

type fixture struct {
	clock  *clock.Mock
	store  *repository.SnapshotStore
	fan    *nopBroadcaster
	pipe   *mid.SnapshotPipeline
	source *scriptedSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewMock(time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC))
	mem := cache.NewMemoryCache(cache.WithMemoryNow(clk.Now))
	t.Cleanup(func() { _ = mem.Close() })
	store := repository.NewSnapshotStore(mem, 10*time.Minute, 24*time.Hour, repository.WithStoreClock(clk))
	fan := &nopBroadcaster{}
	return &fixture{
		clock:  clk,
		store:  store,
		fan:    fan,
		pipe:   mid.NewSnapshotPipeline(testKey, store, fan, metrics.Nop{}),
		source: &scriptedSource{clock: clk},
	}
}

// seed stores a snapshot and then advances the clock by age.
func (f *fixture) seed(t *testing.T, age time.Duration) {
	t.Helper()
	if err := f.store.Set(context.Background(), testKey, testSnapshot(f.clock.Now())); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.clock.Add(age)
}
