package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordFetch("scheduler", true, 0.2)
	r.RecordFetch("scheduler", false, 1)
	r.RecordCacheOutcome("stale")
	r.RecordBroadcast(3, 1, 2)
	r.RecordRetryInterval(45 * time.Second)
	r.RecordSubscribers(4)

	if got := testutil.ToFloat64(r.fetchTotal.WithLabelValues("scheduler", "false")); got != 1 {
		t.Fatalf("unexpected failed fetches %v", got)
	}
	if got := testutil.ToFloat64(r.broadcasts.WithLabelValues("failed")); got != 2 {
		t.Fatalf("unexpected failed deliveries %v", got)
	}
	if got := testutil.ToFloat64(r.retryInterval); got != 45 {
		t.Fatalf("unexpected retry interval %v", got)
	}
	if got := testutil.ToFloat64(r.subscribers); got != 4 {
		t.Fatalf("unexpected subscribers %v", got)
	}
}
