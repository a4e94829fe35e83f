package di

import (
	"fmt"

	"CoinPull/internal/domain/repository"
	"CoinPull/internal/handler/api"
	"CoinPull/internal/handler/ws"
	mid "CoinPull/internal/middleware"
	internalrepo "CoinPull/internal/repository"
	"CoinPull/internal/service/coingecko"
	"CoinPull/internal/service/ratelimit"
	"CoinPull/internal/usecase"
	"CoinPull/pkg/cache"
	"CoinPull/pkg/clock"
	"CoinPull/pkg/config"
	xhttp "CoinPull/pkg/http"
	pkgkafka "CoinPull/pkg/kafka"
	applogger "CoinPull/pkg/logger"
	"CoinPull/pkg/metrics"
	"CoinPull/pkg/server"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// InstanceID tags snapshots this process publishes so its relay can skip them.
type InstanceID string

// ProvideInstanceID generates a fresh origin id per process.
func ProvideInstanceID() InstanceID {
	return InstanceID(uuid.NewString())
}

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideClock returns the wall clock.
func ProvideClock() clock.Clock {
	return clock.New()
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideCache builds the configured durable backend behind an in-process L1.
func ProvideCache(cfg *config.Config, clk clock.Clock) (cache.Service, func(), error) {
	var l2 cache.Service
	switch cfg.Cache.Backend {
	case "redis":
		rc, err := cache.NewRedisCache(
			cache.WithRedisAddr(cfg.Cache.Redis.Addr),
			cache.WithRedisPassword(cfg.Cache.Redis.Password),
			cache.WithRedisDB(cfg.Cache.Redis.DB),
			cache.WithRedisPrefix(cfg.Cache.Redis.Prefix),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		l2 = rc
	default:
		fc, err := cache.NewFileCache(cache.WithFileDir(cfg.Cache.Dir))
		if err != nil {
			return nil, nil, fmt.Errorf("file cache: %w", err)
		}
		l2 = fc
	}

	c := cache.NewLayeredCache(l2,
		cache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
		cache.WithLayeredMemoryTTL(cfg.Gate.TTL),
		cache.WithLayeredNow(clk.Now),
	)
	return c, func() { _ = c.Close() }, nil
}

// ProvideSnapshotStore wraps the cache with freshness metadata.
func ProvideSnapshotStore(c cache.Service, cfg *config.Config, clk clock.Clock, m repository.Metrics, l *applogger.Logger) *internalrepo.SnapshotStore {
	return internalrepo.NewSnapshotStore(c, cfg.Cache.TTL, cfg.Cache.TooOld,
		internalrepo.WithStoreClock(clk),
		internalrepo.WithStoreLogger(l),
		internalrepo.WithStoreMetrics(m),
	)
}

// ProvideHTTPClient creates the upstream HTTP client.
func ProvideHTTPClient(cfg *config.Config) *xhttp.Client {
	return xhttp.NewClient(
		xhttp.WithTimeout(cfg.Upstream.Timeout),
		xhttp.WithUserAgent("CoinPull/1.0"),
	)
}

// ProvidePriceSource creates the CoinGecko client.
func ProvidePriceSource(cfg *config.Config, hc *xhttp.Client, clk clock.Clock, l *applogger.Logger) repository.PriceSource {
	return coingecko.New(hc, cfg.Upstream.BaseURL, cfg.Upstream.Coins,
		coingecko.WithAPIKey(cfg.Upstream.APIKey, cfg.Upstream.APIKeyHeader),
		coingecko.WithVsCurrency(cfg.Upstream.VsCurrency),
		coingecko.WithClock(clk),
		coingecko.WithLogger(l),
	)
}

// ProvideFanout creates the subscriber registry.
func ProvideFanout(m repository.Metrics, l *applogger.Logger) *usecase.Fanout {
	return usecase.NewFanout(m, l)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithWriteTimeout(cfg.Kafka.WriteTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideSnapshotPublisher creates the replica publisher, or nil when Kafka is disabled.
func ProvideSnapshotPublisher(producer *pkgkafka.Producer, cfg *config.Config, id InstanceID) repository.SnapshotPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic, cfg.Cache.Key, string(id))
}

// ProvideSnapshotPipeline creates the commit-then-broadcast pipeline.
func ProvideSnapshotPipeline(
	cfg *config.Config,
	store *internalrepo.SnapshotStore,
	fanout *usecase.Fanout,
	pub repository.SnapshotPublisher,
	m repository.Metrics,
	l *applogger.Logger,
) *mid.SnapshotPipeline {
	opts := []mid.PipelineOption{mid.WithLogger(l)}
	if pub != nil {
		opts = append(opts, mid.WithPublisher(pub))
	}
	return mid.NewSnapshotPipeline(cfg.Cache.Key, store, fanout, m, opts...)
}

// ProvideScheduler creates the proactive refresh loop.
func ProvideScheduler(
	cfg *config.Config,
	source repository.PriceSource,
	pipe *mid.SnapshotPipeline,
	clk clock.Clock,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Scheduler {
	return usecase.NewScheduler(source, pipe, usecase.SchedulerConfig{
		Period:      cfg.Scheduler.Period,
		RetryBase:   cfg.Scheduler.RetryBase,
		RetryFactor: cfg.Scheduler.RetryFactor,
		RetryMax:    cfg.Scheduler.RetryMax,
		Timeout:     cfg.Upstream.Timeout,
	}, clk, m, l)
}

// ProvideSweeper creates the cache sweep loop.
func ProvideSweeper(cfg *config.Config, store *internalrepo.SnapshotStore, clk clock.Clock, l *applogger.Logger) *usecase.Sweeper {
	return usecase.NewSweeper(store, cfg.Cache.SweepInterval, clk, l)
}

// ProvidePriceGate creates the request-time stale-while-revalidate gate.
func ProvidePriceGate(
	cfg *config.Config,
	store *internalrepo.SnapshotStore,
	source repository.PriceSource,
	pipe *mid.SnapshotPipeline,
	clk clock.Clock,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.PriceGate {
	return usecase.NewPriceGate(usecase.GateConfig{
		Key:            cfg.Cache.Key,
		StaleThreshold: cfg.Gate.StaleThreshold,
		TTL:            cfg.Gate.TTL,
		FetchTimeout:   cfg.Upstream.Timeout,
	}, store, source, pipe, m, l, usecase.WithGateClock(clk))
}

// RelayGroupID derives the relay consumer group for one instance. Every
// replica must see every published snapshot, so replicas never share a group.
func RelayGroupID(base string, id InstanceID) string {
	return base + "-" + string(id)
}

// ProvideRelayConsumer creates the replica relay consumer, or nil when disabled.
func ProvideRelayConsumer(
	cfg *config.Config,
	store *internalrepo.SnapshotStore,
	pipe *mid.SnapshotPipeline,
	id InstanceID,
	m repository.Metrics,
	l *applogger.Logger,
) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Relay.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(RelayGroupID(cfg.Kafka.Relay.GroupID, id)),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Relay.Workers),
		pkgkafka.WithConsumerStartOffset(kafka.LastOffset),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewRelayHandler(cfg.Kafka.Topic, cfg.Cache.Key, string(id), store, pipe, m, l))
	return consumer, nil
}

// ProvidePricesHandler creates the price read API.
func ProvidePricesHandler(
	cfg *config.Config,
	gate *usecase.PriceGate,
	sched *usecase.Scheduler,
	fanout *usecase.Fanout,
	store *internalrepo.SnapshotStore,
	l *applogger.Logger,
) *api.PricesEchoHandler {
	var opts []api.PricesOption
	if cfg.RateLimit.Enabled {
		opts = append(opts, api.WithRateLimiter(ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)))
	}
	return api.NewPricesEchoHandler(l, gate, sched, fanout, store, cfg.Cache.Key, cfg.Gate.StaleThreshold, opts...)
}

// ProvideWSHandler creates the real-time subscriber endpoint.
func ProvideWSHandler(cfg *config.Config, fanout *usecase.Fanout, store *internalrepo.SnapshotStore, l *applogger.Logger) *ws.Handler {
	return ws.NewHandler(ws.Config{
		Path:         cfg.Fanout.Path,
		SendBuffer:   cfg.Fanout.SendBuffer,
		WriteTimeout: cfg.Fanout.WriteTimeout,
		PingInterval: cfg.Fanout.PingInterval,
		Key:          cfg.Cache.Key,
		MaxAge:       cfg.Cache.MaxAge,
	}, fanout, store, l)
}

// ProvideHTTPServer creates the echo server with every route registered.
func ProvideHTTPServer(cfg *config.Config, prices *api.PricesEchoHandler, wsh *ws.Handler, l *applogger.Logger) *xhttp.Server {
	metricsPath := cfg.Metrics.Path
	if !cfg.Metrics.Enabled {
		metricsPath = ""
	}
	return xhttp.NewServer(l, []xhttp.Handler{prices, wsh},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	srv *xhttp.Server,
	sched *usecase.Scheduler,
	sweeper *usecase.Sweeper,
	consumer *pkgkafka.Consumer,
	l *applogger.Logger,
) *server.App {
	opts := []server.Option{
		server.WithSweeper(sweeper),
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	}
	if cfg.Scheduler.Enabled {
		opts = append(opts, server.WithScheduler(sched))
	} else {
		l.Info("price scheduler disabled, serving from cache and relay only")
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer))
	}
	return server.New(l, srv, opts...)
}
