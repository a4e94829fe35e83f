package metrics

import "time"

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordFetch(string, bool, float64) {}
func (Nop) RecordCacheOutcome(string)         {}
func (Nop) RecordBroadcast(int, int, int)     {}
func (Nop) RecordRetryInterval(time.Duration) {}
func (Nop) RecordSubscribers(int)             {}
func (Nop) RecordError(string)                {}
func (Nop) RecordLastPrice(string, float64)   {}
