package clock

import (
	"testing"
	"time"
)

func TestMockAfterFiresOnAdd(t *testing.T) {
	start := time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC)
	m := NewMock(start)

	ch := m.After(30 * time.Second)
	m.Add(29 * time.Second)
	select {
	case <-ch:
		t.Fatalf("timer fired early")
	default:
	}

	m.Add(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(30 * time.Second)) {
			t.Fatalf("unexpected fire time %v", got)
		}
	default:
		t.Fatalf("timer did not fire")
	}
	if len(m.Pending()) != 0 {
		t.Fatalf("expected no pending timers")
	}
}

func TestMockBlockUntil(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		m.BlockUntil(1)
		close(done)
	}()
	m.After(time.Minute)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("BlockUntil did not return")
	}
	if p := m.Pending(); len(p) != 1 || p[0] != time.Minute {
		t.Fatalf("unexpected pending %v", p)
	}
}
