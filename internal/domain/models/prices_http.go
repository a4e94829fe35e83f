package models

import (
	"strings"
	"time"
)

// PricesRequest is the query of GET /api/prices.
type PricesRequest struct {
	Symbols string `query:"symbols" json:"symbols" validate:"omitempty,max=1024"`
}

// SymbolList splits the comma separated symbols, upper-cased, empties dropped.
func (r PricesRequest) SymbolList() []string {
	if r.Symbols == "" {
		return nil
	}
	parts := strings.Split(r.Symbols, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SymbolRequest is the path of GET /api/prices/:symbol.
type SymbolRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required,max=32"`
}

// PricesResponse is the HTTP contract for price reads.
type PricesResponse struct {
	Success   bool     `json:"success"`
	Data      []Ticker `json:"data"`
	Cached    bool     `json:"cached"`
	Stale     bool     `json:"stale,omitempty"`
	Timestamp int64    `json:"timestamp"`
	Error     string   `json:"error,omitempty"`
}

// PricesStatus is returned by GET /api/prices/status.
type PricesStatus struct {
	Scheduler   SchedulerStatus `json:"scheduler"`
	Subscribers int             `json:"subscribers"`
	CacheAgeMs  *int64          `json:"cacheAgeMs,omitempty"`
	Tickers     int             `json:"tickers"`
}

const MessageTypePriceUpdate = "price_update"

// PriceUpdateMessage is pushed to real-time subscribers.
type PriceUpdateMessage struct {
	Type      string   `json:"type"`
	Success   bool     `json:"success"`
	Data      []Ticker `json:"data"`
	Timestamp string   `json:"timestamp"`
	Proactive bool     `json:"proactive"`
}

// ISOTimestamp formats t the way update messages carry it.
func ISOTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// NewPriceUpdate builds the message for a snapshot. The timestamp is the
// snapshot's capture time, so a client can order the updates it receives.
func NewPriceUpdate(snap *PriceSnapshot, proactive bool) PriceUpdateMessage {
	data := []Ticker{}
	var at time.Time
	if snap != nil {
		data = snap.Tickers
		at = snap.CapturedAt
	}
	return PriceUpdateMessage{
		Type:      MessageTypePriceUpdate,
		Success:   true,
		Data:      data,
		Timestamp: ISOTimestamp(at),
		Proactive: proactive,
	}
}
