package middleware

import (
	"context"
	"errors"
	"fmt"

	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	applogger "CoinPull/pkg/logger"
)

// ErrEmptySnapshot is returned when no ticker in a snapshot survives validation.
var ErrEmptySnapshot = errors.New("snapshot has no valid tickers")

// SnapshotPipeline sits between a snapshot producer and its consumers.
// It validates, commits to the store, and only then fans out, so a failed
// commit never reaches subscribers.
type SnapshotPipeline struct {
	key       string
	store     domrepo.SnapshotStore
	fanout    domrepo.Broadcaster
	publisher domrepo.SnapshotPublisher
	metrics   domrepo.Metrics
	log       *applogger.Logger
}

type PipelineOption func(*SnapshotPipeline)

// WithPublisher forwards delivered snapshots to other replicas.
func WithPublisher(p domrepo.SnapshotPublisher) PipelineOption {
	return func(sp *SnapshotPipeline) { sp.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) PipelineOption {
	return func(sp *SnapshotPipeline) { sp.log = l }
}

// NewSnapshotPipeline creates a pipeline writing under key.
func NewSnapshotPipeline(key string, store domrepo.SnapshotStore, fanout domrepo.Broadcaster, metrics domrepo.Metrics, opts ...PipelineOption) *SnapshotPipeline {
	p := &SnapshotPipeline{
		key:     key,
		store:   store,
		fanout:  fanout,
		metrics: metrics,
		log:     applogger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Key returns the cache key snapshots are committed under.
func (p *SnapshotPipeline) Key() string { return p.key }

// Commit validates snap and writes it to the store. It returns the snapshot
// actually stored, which may hold fewer tickers than snap.
func (p *SnapshotPipeline) Commit(ctx context.Context, snap *models.PriceSnapshot) (*models.PriceSnapshot, error) {
	clean, dropped := validateSnapshot(snap)
	if dropped > 0 {
		p.metrics.RecordError("pipeline_invalid_ticker")
		p.log.Warn("dropped invalid tickers", applogger.Int("dropped", dropped))
	}
	if clean.Len() == 0 {
		p.metrics.RecordError("pipeline_empty")
		return nil, ErrEmptySnapshot
	}

	if err := p.store.Set(ctx, p.key, clean); err != nil {
		p.metrics.RecordError("pipeline_commit")
		return nil, fmt.Errorf("pipeline commit: %w", err)
	}

	for _, t := range clean.Tickers {
		p.metrics.RecordLastPrice(t.Symbol, t.Price.InexactFloat64())
	}
	return clean, nil
}

// Deliver commits snap, broadcasts it as a proactive update, then publishes it
// to the replica topic. Publishing is best effort.
func (p *SnapshotPipeline) Deliver(ctx context.Context, snap *models.PriceSnapshot) (*models.PriceSnapshot, error) {
	committed, err := p.Relay(ctx, snap)
	if err != nil {
		return nil, err
	}

	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, committed); err != nil {
			p.metrics.RecordError("pipeline_publish")
			p.log.Warn("snapshot publish failed", applogger.Error(err))
		}
	}
	return committed, nil
}

// Relay commits and broadcasts a snapshot received from another replica,
// without publishing it again.
func (p *SnapshotPipeline) Relay(ctx context.Context, snap *models.PriceSnapshot) (*models.PriceSnapshot, error) {
	committed, err := p.Commit(ctx, snap)
	if err != nil {
		return nil, err
	}

	res := p.fanout.Broadcast(ctx, committed, true)
	p.metrics.RecordBroadcast(res.Delivered, res.Skipped, res.Failed)
	if res.Failed > 0 {
		p.log.Debug("broadcast had failures",
			applogger.Int("delivered", res.Delivered),
			applogger.Int("failed", res.Failed),
		)
	}
	return committed, nil
}

func validateSnapshot(snap *models.PriceSnapshot) (*models.PriceSnapshot, int) {
	if snap == nil {
		return nil, 0
	}
	valid := make([]models.Ticker, 0, len(snap.Tickers))
	seen := make(map[string]struct{}, len(snap.Tickers))
	for _, t := range snap.Tickers {
		if !t.Valid() {
			continue
		}
		if _, dup := seen[t.Symbol]; dup {
			continue
		}
		seen[t.Symbol] = struct{}{}
		valid = append(valid, t)
	}
	if len(valid) == len(snap.Tickers) {
		return snap, 0
	}
	return models.NewPriceSnapshot(snap.CapturedAt, valid), len(snap.Tickers) - len(valid)
}
