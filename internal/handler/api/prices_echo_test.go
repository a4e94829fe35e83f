package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	models "CoinPull/internal/domain/models"
	"CoinPull/internal/repository"
	"CoinPull/internal/service/ratelimit"
	"CoinPull/internal/usecase"
	"CoinPull/pkg/cache"
	"CoinPull/pkg/clock"
	xlogger "CoinPull/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

const testKey = "crypto-prices"

type fakeGate struct {
	res *usecase.GateResult
	err error
}

func (g *fakeGate) Get(context.Context) (*usecase.GateResult, error) { return g.res, g.err }

type fakeScheduler struct{ st models.SchedulerStatus }

func (s fakeScheduler) Status() models.SchedulerStatus { return s.st }

type fakeCounter int

func (c fakeCounter) Count() int { return int(c) }

var capturedAt = time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC)

func snapshot() *models.PriceSnapshot {
	return models.NewPriceSnapshot(capturedAt, []models.Ticker{
		{Symbol: "BTC", Name: "Bitcoin", Price: decimal.NewFromInt(67000), ChangePercent24h: decimal.RequireFromString("2.5")},
		{Symbol: "ETH", Name: "Ethereum", Price: decimal.NewFromInt(3500)},
		{Symbol: "SOL", Name: "Solana", Price: decimal.NewFromInt(150)},
	})
}

type harness struct {
	e     *echo.Echo
	gate  *fakeGate
	clock *clock.Mock
	store *repository.SnapshotStore
}

func newHarness(t *testing.T, opts ...PricesOption) *harness {
	t.Helper()
	clk := clock.NewMock(capturedAt)
	mem := cache.NewMemoryCache(cache.WithMemoryNow(clk.Now))
	t.Cleanup(func() { _ = mem.Close() })
	store := repository.NewSnapshotStore(mem, 10*time.Minute, 24*time.Hour, repository.WithStoreClock(clk))

	gate := &fakeGate{}
	opts = append([]PricesOption{WithHandlerClock(clk)}, opts...)
	h := NewPricesEchoHandler(xlogger.Nop(), gate, fakeScheduler{st: models.SchedulerStatus{IsRunning: true, AttemptCount: 2}},
		fakeCounter(3), store, testKey, 30*time.Second, opts...)
	e := echo.New()
	h.RegisterRoutes(e)
	return &harness{e: e, gate: gate, clock: clk, store: store}
}

func (h *harness) do(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

func decodePrices(t *testing.T, rec *httptest.ResponseRecorder) models.PricesResponse {
	t.Helper()
	var out models.PricesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestPricesFreshHit(t *testing.T) {
	h := newHarness(t)
	h.gate.res = &usecase.GateResult{Snapshot: snapshot(), Cached: true, Age: 10 * time.Second, Outcome: usecase.OutcomeFresh}

	rec := h.do(t, "/api/prices")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	out := decodePrices(t, rec)
	if !out.Success || !out.Cached || out.Stale || len(out.Data) != 3 {
		t.Fatalf("unexpected body %+v", out)
	}
	if out.Timestamp != capturedAt.UnixMilli() {
		t.Fatalf("timestamp %d", out.Timestamp)
	}
	if got := rec.Header().Get(echo.HeaderCacheControl); got != "public, max-age=20" {
		t.Fatalf("cache-control %q", got)
	}
	if rec.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("x-cache %q", rec.Header().Get("X-Cache"))
	}
}

func TestPricesStaleStillServed(t *testing.T) {
	h := newHarness(t)
	h.gate.res = &usecase.GateResult{Snapshot: snapshot(), Cached: true, Stale: true, Age: 40 * time.Second, Outcome: usecase.OutcomeStale}

	rec := h.do(t, "/api/prices")
	if rec.Code != http.StatusOK {
		t.Fatalf("stale data must be served with 200, got %d", rec.Code)
	}
	out := decodePrices(t, rec)
	if !out.Success || !out.Stale || !out.Cached {
		t.Fatalf("unexpected body %+v", out)
	}
	if rec.Header().Get(echo.HeaderCacheControl) != "no-cache" || rec.Header().Get("X-Cache") != "STALE" {
		t.Fatalf("unexpected headers %v", rec.Header())
	}
}

func TestPricesFilterBySymbols(t *testing.T) {
	h := newHarness(t)
	h.gate.res = &usecase.GateResult{Snapshot: snapshot(), Outcome: usecase.OutcomeFetched}

	out := decodePrices(t, h.do(t, "/api/prices?symbols=sol,btc,DOGE"))
	if len(out.Data) != 2 || out.Data[0].Symbol != "BTC" || out.Data[1].Symbol != "SOL" {
		t.Fatalf("unexpected filtered data %+v", out.Data)
	}
	if out.Cached {
		t.Fatalf("fetched result must not be marked cached")
	}
}

func TestPricesColdStartFailure(t *testing.T) {
	h := newHarness(t)
	h.gate.err = fmt.Errorf("%w: boom", usecase.ErrPricesUnavailable)

	rec := h.do(t, "/api/prices")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rec.Code)
	}
	out := decodePrices(t, rec)
	if out.Success || out.Error != "price data temporarily unavailable" || out.Data == nil || len(out.Data) != 0 {
		t.Fatalf("unexpected body %+v", out)
	}
	if out.Timestamp != h.clock.Now().UnixMilli() {
		t.Fatalf("timestamp %d", out.Timestamp)
	}
}

func TestSymbolLookup(t *testing.T) {
	h := newHarness(t)
	h.gate.res = &usecase.GateResult{Snapshot: snapshot(), Cached: true, Outcome: usecase.OutcomeFresh}

	out := decodePrices(t, h.do(t, "/api/prices/eth"))
	if len(out.Data) != 1 || out.Data[0].Symbol != "ETH" {
		t.Fatalf("unexpected data %+v", out.Data)
	}

	if rec := h.do(t, "/api/prices/DOGE"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStatusReportsCacheAge(t *testing.T) {
	h := newHarness(t)
	if err := h.store.Set(context.Background(), testKey, snapshot()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.clock.Add(12 * time.Second)

	rec := h.do(t, "/api/prices/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var env struct {
		Data models.PricesStatus `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data.CacheAgeMs == nil || *env.Data.CacheAgeMs != 12000 {
		t.Fatalf("unexpected cache age %v", env.Data.CacheAgeMs)
	}
	if env.Data.Subscribers != 3 || env.Data.Tickers != 3 || !env.Data.Scheduler.IsRunning {
		t.Fatalf("unexpected status %+v", env.Data)
	}
}

func TestRateLimiterRejects(t *testing.T) {
	h := newHarness(t, WithRateLimiter(ratelimit.New(0.001, 2)))
	h.gate.res = &usecase.GateResult{Snapshot: snapshot(), Cached: true, Outcome: usecase.OutcomeFresh}

	for i := 0; i < 2; i++ {
		if rec := h.do(t, "/api/prices"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec := h.do(t, "/api/prices")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	if rec := h.do(t, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("health check must bypass the limiter, got %d", rec.Code)
	}
}
