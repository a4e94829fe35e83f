package models

import "time"

// CacheRecord is the persisted form of a snapshot. Timestamps are unix milliseconds.
type CacheRecord struct {
	Key       string         `json:"key"`
	Data      *PriceSnapshot `json:"data"`
	Timestamp int64          `json:"timestamp"`
	Expiry    int64          `json:"expiry"`
}

// WrittenAt returns the record timestamp as a time.
func (r *CacheRecord) WrittenAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// CacheEntry is what a store read yields: the snapshot plus its freshness at read time.
type CacheEntry struct {
	Data      *PriceSnapshot
	Age       time.Duration
	Expired   bool
	WrittenAt time.Time
}

// SchedulerStatus is the observable state of the proactive fetch loop.
type SchedulerStatus struct {
	IsRunning              bool       `json:"isRunning"`
	AttemptCount           int        `json:"attemptCount"`
	LastSuccessAt          *time.Time `json:"lastSuccessAt,omitempty"`
	CurrentRetryIntervalMs int64      `json:"currentRetryIntervalMs"`
	NextRunAt              *time.Time `json:"nextRunAt,omitempty"`
}

// SnapshotEnvelope is the payload relayed between replicas.
type SnapshotEnvelope struct {
	Origin   string         `json:"origin"`
	Key      string         `json:"key"`
	Snapshot *PriceSnapshot `json:"snapshot"`
}
