package usecase

import (
	"context"

	"CoinPull/internal/domain/models"
)

// SnapshotCommitter validates and stores a snapshot.
type SnapshotCommitter interface {
	Commit(ctx context.Context, snap *models.PriceSnapshot) (*models.PriceSnapshot, error)
}

// SnapshotDeliverer commits a snapshot and pushes it to subscribers and replicas.
type SnapshotDeliverer interface {
	Deliver(ctx context.Context, snap *models.PriceSnapshot) (*models.PriceSnapshot, error)
}

// SnapshotRelayer commits and pushes a snapshot that came from another replica.
type SnapshotRelayer interface {
	Relay(ctx context.Context, snap *models.PriceSnapshot) (*models.PriceSnapshot, error)
}
