package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	"CoinPull/pkg/metrics"

	"github.com/shopspring/decimal"
)

type memStore struct {
	data   map[string]*models.PriceSnapshot
	setErr error
}

func (s *memStore) Set(_ context.Context, key string, snap *models.PriceSnapshot) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = snap
	return nil
}

func (s *memStore) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	if snap, ok := s.data[key]; ok {
		return &models.CacheEntry{Data: snap}, nil
	}
	return nil, nil
}

func (s *memStore) GetAged(_ context.Context, key string, _ time.Duration) (*models.PriceSnapshot, error) {
	return s.data[key], nil
}

func (s *memStore) Sweep(context.Context) (int, error) { return 0, nil }

type checkingFanout struct {
	store      *memStore
	calls      int
	sawStored  bool
	lastSymbol []string
}

func (f *checkingFanout) Broadcast(_ context.Context, snap *models.PriceSnapshot, _ bool) domrepo.BroadcastResult {
	f.calls++
	f.sawStored = f.store.data["k"] == snap
	f.lastSymbol = snap.Symbols()
	return domrepo.BroadcastResult{Delivered: 1}
}

type fakePublisher struct {
	calls int
	err   error
}

func (p *fakePublisher) Publish(context.Context, *models.PriceSnapshot) error {
	p.calls++
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

func tk(sym string, price int64) models.Ticker {
	return models.Ticker{Symbol: sym, Price: decimal.NewFromInt(price)}
}

func newTestPipeline() (*SnapshotPipeline, *memStore, *checkingFanout, *fakePublisher) {
	store := &memStore{data: map[string]*models.PriceSnapshot{}}
	fan := &checkingFanout{store: store}
	pub := &fakePublisher{}
	return NewSnapshotPipeline("k", store, fan, metrics.Nop{}, WithPublisher(pub)), store, fan, pub
}

func TestDeliverCommitsBeforeBroadcast(t *testing.T) {
	p, store, fan, pub := newTestPipeline()

	snap := models.NewPriceSnapshot(time.Unix(100, 0), []models.Ticker{tk("BTC", 1), tk("", 2), tk("ETH", 0), tk("SOL", 3), tk("BTC", 4)})
	got, err := p.Deliver(context.Background(), snap)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got.Len() != 2 || store.data["k"] != got {
		t.Fatalf("unexpected committed snapshot %v", got.Symbols())
	}
	if fan.calls != 1 || !fan.sawStored {
		t.Fatalf("broadcast did not observe the committed snapshot")
	}
	if pub.calls != 1 {
		t.Fatalf("expected publish")
	}
}

func TestDeliverEmptySnapshotSuppressesFanout(t *testing.T) {
	p, store, fan, pub := newTestPipeline()

	_, err := p.Deliver(context.Background(), models.NewPriceSnapshot(time.Unix(1, 0), []models.Ticker{tk("BTC", -1)}))
	if !errors.Is(err, ErrEmptySnapshot) {
		t.Fatalf("expected ErrEmptySnapshot, got %v", err)
	}
	if len(store.data) != 0 || fan.calls != 0 || pub.calls != 0 {
		t.Fatalf("empty snapshot leaked downstream")
	}
}

func TestDeliverStoreFailureSuppressesFanout(t *testing.T) {
	p, store, fan, _ := newTestPipeline()
	store.setErr = errors.New("disk full")

	if _, err := p.Deliver(context.Background(), models.NewPriceSnapshot(time.Unix(1, 0), []models.Ticker{tk("BTC", 1)})); err == nil {
		t.Fatalf("expected error")
	}
	if fan.calls != 0 {
		t.Fatalf("broadcast after failed commit")
	}
}

func TestDeliverPublishFailureIsNotFatal(t *testing.T) {
	p, _, fan, pub := newTestPipeline()
	pub.err = errors.New("broker down")

	if _, err := p.Deliver(context.Background(), models.NewPriceSnapshot(time.Unix(1, 0), []models.Ticker{tk("BTC", 1)})); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if fan.calls != 1 {
		t.Fatalf("expected broadcast")
	}
}

func TestRelayDoesNotRepublish(t *testing.T) {
	p, _, fan, pub := newTestPipeline()

	if _, err := p.Relay(context.Background(), models.NewPriceSnapshot(time.Unix(1, 0), []models.Ticker{tk("BTC", 1)})); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if fan.calls != 1 || pub.calls != 0 {
		t.Fatalf("unexpected calls fanout=%d publish=%d", fan.calls, pub.calls)
	}
}
