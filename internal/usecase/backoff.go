package usecase

import (
	"sync"
	"time"
)

// FetchAttemptState tracks consecutive fetch failures and the retry delay they earned.
// It is safe for concurrent use.
type FetchAttemptState struct {
	mu            sync.Mutex
	base          time.Duration
	factor        float64
	max           time.Duration
	attemptCount  int
	current       time.Duration
	lastSuccessAt time.Time
}

// NewFetchAttemptState creates the state with its backoff parameters.
func NewFetchAttemptState(base time.Duration, factor float64, max time.Duration) *FetchAttemptState {
	if factor < 1 {
		factor = 1
	}
	if max < base {
		max = base
	}
	return &FetchAttemptState{base: base, factor: factor, max: max, current: base}
}

// RecordFailure counts a failure and returns the delay before the next attempt:
// base after the first failure, then multiplied by factor each time, capped at max.
func (s *FetchAttemptState) RecordFailure() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attemptCount == 0 {
		s.current = s.base
	} else {
		next := time.Duration(float64(s.current) * s.factor)
		if next > s.max || next < s.current {
			next = s.max
		}
		s.current = next
	}
	s.attemptCount++
	return s.current
}

// RecordSuccess resets the failure count and retry interval.
func (s *FetchAttemptState) RecordSuccess(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attemptCount = 0
	s.current = s.base
	s.lastSuccessAt = at
}

// Snapshot returns the current counters.
func (s *FetchAttemptState) Snapshot() (attempts int, retry time.Duration, lastSuccess time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attemptCount, s.current, s.lastSuccessAt
}
