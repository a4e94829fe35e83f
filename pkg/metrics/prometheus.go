package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	cacheOutcomes *prometheus.CounterVec
	broadcasts    *prometheus.CounterVec
	retryInterval prometheus.Gauge
	subscribers   prometheus.Gauge
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
}

// New creates a recorder registered on the default Prometheus registry.
// Call it once per process.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		fetchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpull_upstream_fetch_total",
				Help: "Upstream snapshot fetches by trigger and result",
			},
			[]string{"source", "ok"},
		),
		fetchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coinpull_upstream_fetch_duration_seconds",
				Help:    "Duration of upstream snapshot fetches",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
			},
			[]string{"source"},
		),
		cacheOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpull_gate_outcomes_total",
				Help: "Request gate outcomes: fresh, stale, fetched, fallback, unavailable",
			},
			[]string{"outcome"},
		),
		broadcasts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpull_broadcast_deliveries_total",
				Help: "Per-subscriber broadcast results",
			},
			[]string{"result"},
		),
		retryInterval: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "coinpull_scheduler_retry_interval_seconds",
				Help: "Current scheduler retry interval, zero after a success",
			},
		),
		subscribers: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "coinpull_subscribers",
				Help: "Connected real-time subscribers",
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coinpull_last_price",
				Help: "Last committed price for a symbol",
			},
			[]string{"symbol"},
		),
	}
}

// RecordFetch records one upstream fetch.
func (r *Recorder) RecordFetch(source string, ok bool, seconds float64) {
	r.fetchTotal.WithLabelValues(source, strconv.FormatBool(ok)).Inc()
	r.fetchDuration.WithLabelValues(source).Observe(seconds)
}

// RecordCacheOutcome records how the request gate answered.
func (r *Recorder) RecordCacheOutcome(outcome string) {
	r.cacheOutcomes.WithLabelValues(outcome).Inc()
}

// RecordBroadcast records the per-subscriber results of one broadcast.
func (r *Recorder) RecordBroadcast(delivered, skipped, failed int) {
	r.broadcasts.WithLabelValues("delivered").Add(float64(delivered))
	r.broadcasts.WithLabelValues("skipped").Add(float64(skipped))
	r.broadcasts.WithLabelValues("failed").Add(float64(failed))
}

// RecordRetryInterval records the scheduler's current backoff.
func (r *Recorder) RecordRetryInterval(d time.Duration) {
	r.retryInterval.Set(d.Seconds())
}

// RecordSubscribers records the connected subscriber count.
func (r *Recorder) RecordSubscribers(n int) {
	r.subscribers.Set(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}
