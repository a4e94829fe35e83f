package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"CoinPull/internal/domain/models"
	drepo "CoinPull/internal/domain/repository"
	applogger "CoinPull/pkg/logger"
)

// Subscriber is one live real-time connection.
type Subscriber interface {
	ID() string
	// Ready reports whether the connection can currently accept messages.
	Ready() bool
	// Send queues a message without blocking.
	Send(msg []byte) error
}

// Fanout is the subscriber registry and broadcaster.
type Fanout struct {
	mu      sync.RWMutex
	subs    map[string]Subscriber
	metrics drepo.Metrics
	log     *applogger.Logger
}

func NewFanout(metrics drepo.Metrics, l *applogger.Logger) *Fanout {
	return &Fanout{
		subs:    make(map[string]Subscriber),
		metrics: metrics,
		log:     l,
	}
}

var _ drepo.Broadcaster = (*Fanout)(nil)

// Register adds a subscriber, replacing any with the same id.
func (f *Fanout) Register(s Subscriber) {
	f.mu.Lock()
	f.subs[s.ID()] = s
	n := len(f.subs)
	f.mu.Unlock()
	f.metrics.RecordSubscribers(n)
}

// Unregister removes a subscriber. Unknown ids are ignored.
func (f *Fanout) Unregister(id string) {
	f.mu.Lock()
	delete(f.subs, id)
	n := len(f.subs)
	f.mu.Unlock()
	f.metrics.RecordSubscribers(n)
}

// Count returns the number of registered subscribers.
func (f *Fanout) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Encode builds the wire form of a price update stamped with the snapshot's capture time.
func (f *Fanout) Encode(snap *models.PriceSnapshot, proactive bool) ([]byte, error) {
	if snap == nil {
		return nil, errors.New("fanout: nil snapshot")
	}
	return json.Marshal(models.NewPriceUpdate(snap, proactive))
}

// Broadcast sends snap to every ready subscriber. A failing subscriber does
// not affect delivery to the others.
func (f *Fanout) Broadcast(_ context.Context, snap *models.PriceSnapshot, proactive bool) drepo.BroadcastResult {
	var res drepo.BroadcastResult

	msg, err := f.Encode(snap, proactive)
	if err != nil {
		f.metrics.RecordError("fanout_encode")
		f.log.Error("encode price update", applogger.Error(err))
		return res
	}

	f.mu.RLock()
	subs := make([]Subscriber, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.RUnlock()

	for _, s := range subs {
		if !s.Ready() {
			res.Skipped++
			continue
		}
		if err := f.send(s, msg); err != nil {
			res.Failed++
			f.log.Debug("subscriber send failed", applogger.String("id", s.ID()), applogger.Error(err))
			continue
		}
		res.Delivered++
	}
	return res
}

func (f *Fanout) send(s Subscriber, msg []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s.Send(msg)
}
