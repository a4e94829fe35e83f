package repository

import (
	"context"
	"errors"
	"time"

	"CoinPull/internal/domain/models"
)

// ErrFetchFailed marks every upstream failure: timeout, non-2xx, malformed or empty payload.
var ErrFetchFailed = errors.New("upstream fetch failed")

// PriceSource fetches one full snapshot of the configured coin universe.
type PriceSource interface {
	FetchSnapshot(ctx context.Context) (*models.PriceSnapshot, error)
}

// SnapshotStore persists the latest snapshot per key with freshness metadata.
type SnapshotStore interface {
	Set(ctx context.Context, key string, snap *models.PriceSnapshot) error
	// Get returns nil, nil when the key is absent or unreadable.
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	GetAged(ctx context.Context, key string, maxAge time.Duration) (*models.PriceSnapshot, error)
	Sweep(ctx context.Context) (int, error)
}

// BroadcastResult counts the outcome of one fanout.
type BroadcastResult struct {
	Delivered int
	Skipped   int
	Failed    int
}

// Broadcaster pushes a snapshot to live subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, snap *models.PriceSnapshot, proactive bool) BroadcastResult
}

// SnapshotPublisher forwards committed snapshots to other replicas.
type SnapshotPublisher interface {
	Publish(ctx context.Context, snap *models.PriceSnapshot) error
	Close() error
}

// Metrics is the instrumentation surface of the price pipeline.
type Metrics interface {
	RecordFetch(source string, ok bool, seconds float64)
	RecordCacheOutcome(outcome string)
	RecordBroadcast(delivered, skipped, failed int)
	RecordRetryInterval(d time.Duration)
	RecordSubscribers(n int)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
}
