package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CoinPull/internal/domain/models"
	drepo "CoinPull/internal/domain/repository"
	"CoinPull/pkg/cache"
	"CoinPull/pkg/clock"
	applogger "CoinPull/pkg/logger"
	"CoinPull/pkg/metrics"
)

// SnapshotStore persists one CacheRecord per key on a cache backend and
// derives age and expiry on read.
type SnapshotStore struct {
	cache   cache.Service
	clock   clock.Clock
	ttl     time.Duration
	tooOld  time.Duration
	log     *applogger.Logger
	metrics drepo.Metrics
}

// StoreOption configures SnapshotStore.
type StoreOption func(*SnapshotStore)

// WithStoreClock sets the time source.
func WithStoreClock(c clock.Clock) StoreOption {
	return func(s *SnapshotStore) { s.clock = c }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l *applogger.Logger) StoreOption {
	return func(s *SnapshotStore) { s.log = l }
}

// WithStoreMetrics sets the metrics sink.
func WithStoreMetrics(m drepo.Metrics) StoreOption {
	return func(s *SnapshotStore) { s.metrics = m }
}

// NewSnapshotStore creates a store. ttl sets the record expiry; records older
// than tooOld are removed by Sweep.
func NewSnapshotStore(c cache.Service, ttl, tooOld time.Duration, opts ...StoreOption) *SnapshotStore {
	s := &SnapshotStore{
		cache:   c,
		clock:   clock.New(),
		ttl:     ttl,
		tooOld:  tooOld,
		log:     applogger.Nop(),
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ drepo.SnapshotStore = (*SnapshotStore)(nil)

// Set overwrites the record under key, stamped with the current time.
func (s *SnapshotStore) Set(ctx context.Context, key string, snap *models.PriceSnapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot store: nil snapshot for %s", key)
	}
	now := s.clock.Now()
	rec := models.CacheRecord{
		Key:       key,
		Data:      snap,
		Timestamp: now.UnixMilli(),
		Expiry:    now.Add(s.ttl).UnixMilli(),
	}
	// Backends that expire on their own keep the record until Sweep would drop it anyway.
	if err := s.cache.Set(ctx, key, rec, s.tooOld); err != nil {
		s.metrics.RecordError("store_write")
		return fmt.Errorf("snapshot store: write %s: %w", key, err)
	}
	return nil
}

// Get returns the record under key with its age, or nil when there is none
// or it cannot be parsed. Backend failures are returned as errors.
func (s *SnapshotStore) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	rec, err := s.read(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	return s.entry(rec), nil
}

// GetAged returns the snapshot under key only if it is at most maxAge old.
func (s *SnapshotStore) GetAged(ctx context.Context, key string, maxAge time.Duration) (*models.PriceSnapshot, error) {
	entry, err := s.Get(ctx, key)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.Age > maxAge {
		return nil, nil
	}
	return entry.Data, nil
}

// Sweep deletes records older than the too-old threshold and records that
// cannot be parsed. It returns how many were removed.
func (s *SnapshotStore) Sweep(ctx context.Context) (int, error) {
	keys, err := s.cache.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("snapshot store: list keys: %w", err)
	}

	removed := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		rec, err := s.read(ctx, key)
		if err != nil {
			s.log.Warn("sweep: read failed", applogger.String("key", key), applogger.Error(err))
			continue
		}
		if rec != nil && s.entry(rec).Age <= s.tooOld {
			continue
		}

		if err := s.cache.Delete(ctx, key); err != nil {
			s.log.Warn("sweep: delete failed", applogger.String("key", key), applogger.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// read returns nil, nil for a missing or unreadable record.
func (s *SnapshotStore) read(ctx context.Context, key string) (*models.CacheRecord, error) {
	var rec models.CacheRecord
	err := s.cache.Get(ctx, key, &rec)
	switch {
	case err == nil:
	case errors.Is(err, cache.ErrCacheMiss):
		return nil, nil
	case errors.Is(err, cache.ErrCorrupt):
		s.metrics.RecordError("store_corrupt")
		s.log.Warn("snapshot store: unreadable record", applogger.String("key", key), applogger.Error(err))
		return nil, nil
	default:
		s.metrics.RecordError("store_read")
		return nil, fmt.Errorf("snapshot store: read %s: %w", key, err)
	}

	if rec.Data == nil || rec.Timestamp <= 0 {
		s.metrics.RecordError("store_corrupt")
		s.log.Warn("snapshot store: record without data", applogger.String("key", key))
		return nil, nil
	}
	return &rec, nil
}

func (s *SnapshotStore) entry(rec *models.CacheRecord) *models.CacheEntry {
	now := s.clock.Now()
	written := rec.WrittenAt()
	age := now.Sub(written)
	if age < 0 {
		age = 0
	}
	return &models.CacheEntry{
		Data:      rec.Data,
		Age:       age,
		Expired:   now.UnixMilli() > rec.Expiry,
		WrittenAt: written,
	}
}
