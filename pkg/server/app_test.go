package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	applogger "CoinPull/pkg/logger"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.events, ",")
}

type fakeLoop struct {
	name string
	rec  *recorder
}

func (l fakeLoop) Start(context.Context) { l.rec.add("start:" + l.name) }
func (l fakeLoop) Stop()                 { l.rec.add("stop:" + l.name) }

type fakeConsumer struct {
	rec      *recorder
	startErr error
}

func (c fakeConsumer) Start(context.Context) error {
	c.rec.add("start:consumer")
	return c.startErr
}

func (c fakeConsumer) Stop(context.Context) error {
	c.rec.add("stop:consumer")
	return nil
}

type fakeHTTP struct{ rec *recorder }

func (h fakeHTTP) Start() error {
	h.rec.add("start:http")
	return nil
}

func (h fakeHTTP) Stop(context.Context) error {
	h.rec.add("stop:http")
	return nil
}

func TestRunContextStartsAndStopsInReverseOrder(t *testing.T) {
	rec := &recorder{}
	app := New(applogger.Nop(), fakeHTTP{rec},
		WithSweeper(fakeLoop{"sweeper", rec}),
		WithScheduler(fakeLoop{"scheduler", rec}),
		WithConsumer(fakeConsumer{rec: rec}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunContext(ctx) }()

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(rec.String(), "start:http") {
		if time.Now().After(deadline) {
			t.Fatalf("http never started: %s", rec)
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not return")
	}

	want := "start:sweeper,start:scheduler,start:consumer,start:http,stop:http,stop:consumer,stop:scheduler,stop:sweeper"
	if got := rec.String(); got != want {
		t.Fatalf("unexpected lifecycle\n got %s\nwant %s", got, want)
	}
}

func TestRunContextConsumerFailureStopsLoops(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("no brokers")
	app := New(applogger.Nop(), fakeHTTP{rec},
		WithScheduler(fakeLoop{"scheduler", rec}),
		WithConsumer(fakeConsumer{rec: rec, startErr: boom}),
	)

	err := app.RunContext(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected consumer error, got %v", err)
	}
	if got := rec.String(); got != "start:scheduler,start:consumer,stop:scheduler" {
		t.Fatalf("unexpected lifecycle %s", got)
	}
}
