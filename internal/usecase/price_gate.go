package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CoinPull/internal/domain/models"
	drepo "CoinPull/internal/domain/repository"
	"CoinPull/pkg/clock"
	applogger "CoinPull/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// ErrPricesUnavailable means there was no cached data and the upstream fetch failed.
var ErrPricesUnavailable = errors.New("price data temporarily unavailable")

// Outcomes reported by the gate.
const (
	OutcomeFresh       = "fresh"
	OutcomeStale       = "stale"
	OutcomeFetched     = "fetched"
	OutcomeFallback    = "fallback"
	OutcomeUnavailable = "unavailable"
)

// GateResult is a snapshot plus how it was obtained.
type GateResult struct {
	Snapshot *models.PriceSnapshot
	Cached   bool
	Stale    bool
	Age      time.Duration
	Outcome  string
}

// GateConfig holds the freshness thresholds.
type GateConfig struct {
	Key            string
	StaleThreshold time.Duration
	TTL            time.Duration
	FetchTimeout   time.Duration
}

// PriceGate answers price requests from the cache whenever it can, revalidating
// stale data in the background and fetching synchronously only when the cache
// is too old or empty.
type PriceGate struct {
	cfg     GateConfig
	store   drepo.SnapshotStore
	source  drepo.PriceSource
	commit  SnapshotCommitter
	guard   *InFlightGuard
	group   singleflight.Group
	bg      func(func())
	clock   clock.Clock
	metrics drepo.Metrics
	log     *applogger.Logger
}

// GateOption configures PriceGate.
type GateOption func(*PriceGate)

// WithBackground replaces how background refreshes are launched.
func WithBackground(run func(func())) GateOption {
	return func(g *PriceGate) { g.bg = run }
}

// WithGuard shares an in-flight guard with other components.
func WithGuard(guard *InFlightGuard) GateOption {
	return func(g *PriceGate) { g.guard = guard }
}

// WithGateClock sets the clock used to time upstream fetches.
func WithGateClock(clk clock.Clock) GateOption {
	return func(g *PriceGate) { g.clock = clk }
}

func NewPriceGate(cfg GateConfig, store drepo.SnapshotStore, source drepo.PriceSource, commit SnapshotCommitter, metrics drepo.Metrics, l *applogger.Logger, opts ...GateOption) *PriceGate {
	g := &PriceGate{
		cfg:     cfg,
		store:   store,
		source:  source,
		commit:  commit,
		guard:   NewInFlightGuard(),
		bg:      func(f func()) { go f() },
		clock:   clock.New(),
		metrics: metrics,
		log:     l,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Get returns the best available snapshot.
func (g *PriceGate) Get(ctx context.Context) (*GateResult, error) {
	entry, readErr := g.store.Get(ctx, g.cfg.Key)
	if readErr != nil {
		g.log.Warn("cache read failed, treating as miss", applogger.Error(readErr))
		entry = nil
	}

	if entry != nil {
		switch {
		case entry.Age < g.cfg.StaleThreshold:
			return g.result(entry.Data, true, false, entry.Age, OutcomeFresh), nil
		case entry.Age < g.cfg.TTL:
			g.refreshInBackground()
			return g.result(entry.Data, true, true, entry.Age, OutcomeStale), nil
		}
	}

	snap, err := g.fetch(ctx)
	if err == nil {
		return g.result(snap, false, false, 0, OutcomeFetched), nil
	}

	g.log.Warn("synchronous price fetch failed", applogger.Error(err))
	if entry == nil && readErr != nil {
		// The first read failed rather than missed; the backend may be back.
		if retry, rerr := g.store.Get(ctx, g.cfg.Key); rerr == nil {
			entry = retry
		} else {
			g.log.Warn("cache re-read failed", applogger.Error(rerr))
		}
	}
	if entry != nil {
		return g.result(entry.Data, true, true, entry.Age, OutcomeFallback), nil
	}
	g.metrics.RecordCacheOutcome(OutcomeUnavailable)
	return nil, fmt.Errorf("%w: %v", ErrPricesUnavailable, err)
}

// RefreshInFlight reports whether a background refresh is running.
func (g *PriceGate) RefreshInFlight() bool {
	return g.guard.Busy(g.cfg.Key)
}

func (g *PriceGate) result(snap *models.PriceSnapshot, cached, stale bool, age time.Duration, outcome string) *GateResult {
	g.metrics.RecordCacheOutcome(outcome)
	return &GateResult{Snapshot: snap, Cached: cached, Stale: stale, Age: age, Outcome: outcome}
}

func (g *PriceGate) refreshInBackground() {
	key := g.cfg.Key
	if !g.guard.TryAcquire(key) {
		return
	}
	g.bg(func() {
		defer g.guard.Release(key)
		defer func() {
			if r := recover(); r != nil {
				g.metrics.RecordError("gate_refresh_panic")
				g.log.Error("background refresh panic", applogger.Any("panic", r))
			}
		}()
		if _, err, _ := g.group.Do(key, g.fetchAndCommit(context.Background(), "background")); err != nil {
			g.log.Warn("background refresh failed", applogger.Error(err))
		}
	})
}

// fetch coalesces concurrent callers onto one upstream request. The request
// runs detached from ctx so an abandoned caller does not cancel it for the others.
func (g *PriceGate) fetch(ctx context.Context) (*models.PriceSnapshot, error) {
	ch := g.group.DoChan(g.cfg.Key, g.fetchAndCommit(context.WithoutCancel(ctx), "request"))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.PriceSnapshot), nil
	}
}

func (g *PriceGate) fetchAndCommit(parent context.Context, source string) func() (interface{}, error) {
	return func() (interface{}, error) {
		ctx := parent
		if g.cfg.FetchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parent, g.cfg.FetchTimeout)
			defer cancel()
		}
		start := g.clock.Now()
		snap, err := g.source.FetchSnapshot(ctx)
		if err == nil {
			snap, err = g.commit.Commit(ctx, snap)
		}
		g.metrics.RecordFetch(source, err == nil, g.clock.Now().Sub(start).Seconds())
		if err != nil {
			return nil, err
		}
		return snap, nil
	}
}
