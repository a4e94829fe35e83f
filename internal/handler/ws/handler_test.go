package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"CoinPull/internal/domain/models"
	drepo "CoinPull/internal/domain/repository"
	"CoinPull/internal/repository"
	"CoinPull/internal/usecase"
	"CoinPull/pkg/cache"
	"CoinPull/pkg/logger"
	"CoinPull/pkg/metrics"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

const testKey = "crypto-prices"

func snapshotAt(at time.Time) *models.PriceSnapshot {
	return models.NewPriceSnapshot(at, []models.Ticker{
		{Symbol: "BTC", Name: "Bitcoin", Price: decimal.NewFromInt(67000)},
	})
}

func setup(t *testing.T) (*httptest.Server, *usecase.Fanout, *repository.SnapshotStore) {
	t.Helper()
	return setupWith(t, func(s *repository.SnapshotStore, _ *usecase.Fanout) drepo.SnapshotStore { return s })
}

func setupWith(t *testing.T, wrap func(*repository.SnapshotStore, *usecase.Fanout) drepo.SnapshotStore) (*httptest.Server, *usecase.Fanout, *repository.SnapshotStore) {
	t.Helper()
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	store := repository.NewSnapshotStore(mem, 10*time.Minute, 24*time.Hour)
	fan := usecase.NewFanout(metrics.Nop{}, logger.Nop())

	h := NewHandler(Config{Path: "/ws/prices", SendBuffer: 4, Key: testKey, MaxAge: time.Hour}, fan, wrap(store, fan), logger.Nop())
	e := echo.New()
	h.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, fan, store
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/prices"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) models.PriceUpdateMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg models.PriceUpdateMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return msg
}

func waitForCount(t *testing.T, fan *usecase.Fanout, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for fan.Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, fan.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubscriberGetsCachedSnapshotThenBroadcasts(t *testing.T) {
	srv, fan, store := setup(t)
	captured := time.Now().Add(-5 * time.Minute).UTC()
	if err := store.Set(context.Background(), testKey, snapshotAt(captured)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	conn := dial(t, srv)
	defer conn.Close()

	first := readUpdate(t, conn)
	if first.Proactive || len(first.Data) != 1 || first.Type != models.MessageTypePriceUpdate {
		t.Fatalf("unexpected initial message %+v", first)
	}
	if first.Timestamp != models.ISOTimestamp(captured) {
		t.Fatalf("initial timestamp %s, want capture time %s", first.Timestamp, models.ISOTimestamp(captured))
	}

	waitForCount(t, fan, 1)
	res := fan.Broadcast(context.Background(), snapshotAt(time.Now()), true)
	if res.Delivered != 1 {
		t.Fatalf("unexpected broadcast result %+v", res)
	}
	if next := readUpdate(t, conn); !next.Proactive {
		t.Fatalf("expected proactive update")
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	waitForCount(t, fan, 0)
}

func TestSubscriberWithoutCacheGetsNothingUntilBroadcast(t *testing.T) {
	srv, fan, _ := setup(t)
	conn := dial(t, srv)
	defer conn.Close()

	waitForCount(t, fan, 1)
	fan.Broadcast(context.Background(), snapshotAt(time.Now()), true)
	if msg := readUpdate(t, conn); !msg.Proactive {
		t.Fatalf("first message should be the broadcast, got %+v", msg)
	}
}

// racingStore publishes a newer snapshot to the fanout while the handler is
// still reading the cached one.
type racingStore struct {
	*repository.SnapshotStore
	fan   *usecase.Fanout
	newer *models.PriceSnapshot
}

func (r *racingStore) GetAged(ctx context.Context, key string, maxAge time.Duration) (*models.PriceSnapshot, error) {
	snap, err := r.SnapshotStore.GetAged(ctx, key, maxAge)
	r.fan.Broadcast(ctx, r.newer, true)
	return snap, err
}

func TestBroadcastDuringConnectSupersedesCachedSnapshot(t *testing.T) {
	now := time.Now().UTC()
	newer := snapshotAt(now)
	srv, _, store := setupWith(t, func(s *repository.SnapshotStore, fan *usecase.Fanout) drepo.SnapshotStore {
		return &racingStore{SnapshotStore: s, fan: fan, newer: newer}
	})
	if err := store.Set(context.Background(), testKey, snapshotAt(now.Add(-time.Minute))); err != nil {
		t.Fatalf("seed: %v", err)
	}

	conn := dial(t, srv)
	defer conn.Close()

	msg := readUpdate(t, conn)
	if !msg.Proactive || msg.Timestamp != models.ISOTimestamp(now) {
		t.Fatalf("expected the newer broadcast first, got %+v", msg)
	}

	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, b, err := conn.ReadMessage(); err == nil {
		t.Fatalf("older cached snapshot delivered after newer broadcast: %s", b)
	}
}

func TestClientSendInitialSkipsAfterBroadcast(t *testing.T) {
	c := &Client{send: make(chan []byte, 2), done: make(chan struct{})}
	c.open.Store(true)

	if err := c.Send([]byte("broadcast")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent, err := c.sendInitial([]byte("cached")); sent || err != nil {
		t.Fatalf("expected initial to be skipped, sent=%v err=%v", sent, err)
	}
	if len(c.send) != 1 {
		t.Fatalf("expected one queued message, have %d", len(c.send))
	}

	fresh := &Client{send: make(chan []byte, 1), done: make(chan struct{})}
	fresh.open.Store(true)
	if sent, err := fresh.sendInitial([]byte("cached")); !sent || err != nil {
		t.Fatalf("expected initial to be queued, sent=%v err=%v", sent, err)
	}
}

func TestClientSendDoesNotBlockWhenFull(t *testing.T) {
	c := &Client{send: make(chan []byte, 1), done: make(chan struct{})}
	c.open.Store(true)

	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.Send([]byte("b")); err != ErrSlowConsumer {
		t.Fatalf("expected ErrSlowConsumer, got %v", err)
	}
	c.open.Store(false)
	if err := c.Send([]byte("c")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
