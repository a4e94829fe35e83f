package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"CoinPull/internal/domain/models"
	drepo "CoinPull/internal/domain/repository"
	mid "CoinPull/internal/middleware"
	applogger "CoinPull/pkg/logger"
)

// RelayHandler applies snapshots published by other replicas.
type RelayHandler struct {
	topic   string
	key     string
	origin  string
	store   drepo.SnapshotStore
	relay   SnapshotRelayer
	metrics drepo.Metrics
	log     *applogger.Logger
}

func NewRelayHandler(topic, key, origin string, store drepo.SnapshotStore, relay SnapshotRelayer, metrics drepo.Metrics, l *applogger.Logger) *RelayHandler {
	return &RelayHandler{topic: topic, key: key, origin: origin, store: store, relay: relay, metrics: metrics, log: l}
}

func (h *RelayHandler) Topic() string { return h.topic }

// Handle ignores this instance's own messages, messages for another key and
// snapshots not newer than the stored one. Malformed messages are dropped
// without retry.
func (h *RelayHandler) Handle(ctx context.Context, b []byte) error {
	var env models.SnapshotEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		h.metrics.RecordError("relay_unmarshal")
		h.log.Warn("relay: malformed message", applogger.Error(err))
		return nil
	}
	if env.Origin == h.origin || env.Key != h.key || env.Snapshot == nil {
		return nil
	}

	if entry, err := h.store.Get(ctx, h.key); err == nil && entry != nil &&
		!env.Snapshot.CapturedAt.After(entry.Data.CapturedAt) {
		return nil
	}

	if _, err := h.relay.Relay(ctx, env.Snapshot); err != nil {
		if errors.Is(err, mid.ErrEmptySnapshot) {
			return nil
		}
		h.metrics.RecordError("relay_apply")
		return fmt.Errorf("relay snapshot from %s: %w", env.Origin, err)
	}
	h.log.Debug("relay: applied snapshot", applogger.String("origin", env.Origin), applogger.Int("tickers", env.Snapshot.Len()))
	return nil
}
