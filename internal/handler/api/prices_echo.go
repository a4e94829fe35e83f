package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	models "CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	svcmetrics "CoinPull/internal/service/metrics"
	"CoinPull/internal/service/ratelimit"
	"CoinPull/internal/usecase"
	"CoinPull/pkg/clock"
	xhttp "CoinPull/pkg/http"
	xlogger "CoinPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

// PriceReader is the stale-while-revalidate read path.
type PriceReader interface {
	Get(ctx context.Context) (*usecase.GateResult, error)
}

// SchedulerStatusReader exposes the proactive refresh loop state.
type SchedulerStatusReader interface {
	Status() models.SchedulerStatus
}

// SubscriberCounter reports connected real-time subscribers.
type SubscriberCounter interface {
	Count() int
}

// PricesEchoHandler serves the price read API.
type PricesEchoHandler struct {
	logger         *xlogger.Logger
	gate           PriceReader
	scheduler      SchedulerStatusReader
	subscribers    SubscriberCounter
	store          domrepo.SnapshotStore
	key            string
	staleThreshold time.Duration
	limiter        *ratelimit.Limiter
	clock          clock.Clock
}

// PricesOption configures PricesEchoHandler.
type PricesOption func(*PricesEchoHandler)

// WithRateLimiter enables per-client limiting on /api/prices.
func WithRateLimiter(l *ratelimit.Limiter) PricesOption {
	return func(h *PricesEchoHandler) { h.limiter = l }
}

// WithHandlerClock overrides the wall clock used for response timestamps.
func WithHandlerClock(c clock.Clock) PricesOption {
	return func(h *PricesEchoHandler) { h.clock = c }
}

func NewPricesEchoHandler(
	logger *xlogger.Logger,
	gate PriceReader,
	scheduler SchedulerStatusReader,
	subscribers SubscriberCounter,
	store domrepo.SnapshotStore,
	key string,
	staleThreshold time.Duration,
	opts ...PricesOption,
) *PricesEchoHandler {
	svcmetrics.Register()
	h := &PricesEchoHandler{
		logger:         logger,
		gate:           gate,
		scheduler:      scheduler,
		subscribers:    subscribers,
		store:          store,
		key:            key,
		staleThreshold: staleThreshold,
		clock:          clock.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *PricesEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/prices")
	if h.limiter != nil {
		g.Use(h.rateLimit)
	}
	g.GET("", h.Prices)
	g.GET("/status", h.Status)
	g.GET("/:symbol", h.Symbol)
	e.GET("/healthz", h.Health)
}

// Prices returns the whole snapshot, optionally narrowed by ?symbols=BTC,ETH.
func (h *PricesEchoHandler) Prices(c echo.Context) error {
	start := time.Now()
	req := &models.PricesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		svcmetrics.EndpointErrors.WithLabelValues("prices", "400").Inc()
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.gate.Get(c.Request().Context())
	if err != nil {
		h.observe("prices", usecase.OutcomeUnavailable, start)
		return h.unavailable(c, "prices", err)
	}

	snap := res.Snapshot.Filter(req.SymbolList())
	h.observe("prices", res.Outcome, start)
	return h.writePrices(c, res, snap.Tickers)
}

// Symbol returns a single ticker.
func (h *PricesEchoHandler) Symbol(c echo.Context) error {
	start := time.Now()
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		svcmetrics.EndpointErrors.WithLabelValues("symbol", "400").Inc()
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.gate.Get(c.Request().Context())
	if err != nil {
		h.observe("symbol", usecase.OutcomeUnavailable, start)
		return h.unavailable(c, "symbol", err)
	}

	t, ok := res.Snapshot.Find(req.Symbol)
	if !ok {
		svcmetrics.EndpointErrors.WithLabelValues("symbol", "404").Inc()
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("symbol %s is not tracked", req.Symbol).WithParam("symbol", req.Symbol))
	}
	h.observe("symbol", res.Outcome, start)
	return h.writePrices(c, res, []models.Ticker{t})
}

// Status reports scheduler, fanout and cache state without touching upstream.
func (h *PricesEchoHandler) Status(c echo.Context) error {
	out := models.PricesStatus{
		Scheduler:   h.scheduler.Status(),
		Subscribers: h.subscribers.Count(),
	}
	entry, err := h.store.Get(c.Request().Context(), h.key)
	if err != nil {
		h.logger.Warn("status cache read failed", xlogger.Error(err))
	}
	if entry != nil {
		age := entry.Age.Milliseconds()
		out.CacheAgeMs = &age
		out.Tickers = entry.Data.Len()
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, out)
}

func (h *PricesEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *PricesEchoHandler) writePrices(c echo.Context, res *usecase.GateResult, data []models.Ticker) error {
	if data == nil {
		data = []models.Ticker{}
	}
	hdr := c.Response().Header()
	hdr.Set(echo.HeaderCacheControl, h.cacheControl(res))
	hdr.Set("X-Cache", cacheStatus(res))
	return c.JSON(http.StatusOK, models.PricesResponse{
		Success:   true,
		Data:      data,
		Cached:    res.Cached,
		Stale:     res.Stale,
		Timestamp: res.Snapshot.CapturedAt.UnixMilli(),
	})
}

func (h *PricesEchoHandler) unavailable(c echo.Context, endpoint string, err error) error {
	svcmetrics.EndpointErrors.WithLabelValues(endpoint, "500").Inc()
	if !errors.Is(err, usecase.ErrPricesUnavailable) {
		h.logger.Error("price gate error", xlogger.String("endpoint", endpoint), xlogger.Error(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.JSON(http.StatusInternalServerError, models.PricesResponse{
		Success:   false,
		Data:      []models.Ticker{},
		Timestamp: h.clock.Now().UnixMilli(),
		Error:     usecase.ErrPricesUnavailable.Error(),
	})
}

// cacheControl lets shared caches keep a fresh response until it would turn stale.
func (h *PricesEchoHandler) cacheControl(res *usecase.GateResult) string {
	if res.Stale {
		return "no-cache"
	}
	left := int((h.staleThreshold - res.Age) / time.Second)
	if left < 1 {
		left = 1
	}
	return fmt.Sprintf("public, max-age=%d", left)
}

func cacheStatus(res *usecase.GateResult) string {
	switch {
	case !res.Cached:
		return "MISS"
	case res.Stale:
		return "STALE"
	default:
		return "HIT"
	}
}

func (h *PricesEchoHandler) observe(endpoint, outcome string, start time.Time) {
	svcmetrics.EndpointLatency.WithLabelValues(endpoint, outcome).Observe(time.Since(start).Seconds())
}

func (h *PricesEchoHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.limiter.Allow(c.RealIP()) {
			svcmetrics.RateLimited.Inc()
			c.Response().Header().Set("Retry-After", "1")
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limit exceeded"))
		}
		return next(c)
	}
}
