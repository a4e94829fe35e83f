package repository

import (
	"context"
	"fmt"

	"CoinPull/internal/domain/models"
	drepo "CoinPull/internal/domain/repository"
	pkgkafka "CoinPull/pkg/kafka"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher forwards committed snapshots to a topic, tagged with this instance's origin id.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
	key      string
	origin   string
}

// NewKafkaPublisher creates a publisher. key is the cache key the snapshot was stored under.
func NewKafkaPublisher(p *pkgkafka.Producer, topic, key, origin string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic, key: key, origin: origin}
}

var _ drepo.SnapshotPublisher = (*KafkaPublisher)(nil)

func (k *KafkaPublisher) Publish(ctx context.Context, snap *models.PriceSnapshot) error {
	env := models.SnapshotEnvelope{Origin: k.origin, Key: k.key, Snapshot: snap}
	if err := k.producer.Publish(ctx, k.topic, []byte(k.key), env,
		kafka.Header{Key: "origin", Value: []byte(k.origin)}); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}
