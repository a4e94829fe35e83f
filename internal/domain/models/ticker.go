package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Sentiment is a coarse label derived from the 24h change.
type Sentiment string

const (
	SentimentBullish Sentiment = "Bullish"
	SentimentBearish Sentiment = "Bearish"
	SentimentNeutral Sentiment = "Neutral"
)

var (
	bullishAbove = decimal.NewFromInt(2)
	bearishBelow = decimal.NewFromInt(-2)
)

// SentimentFor maps a 24h percentage change to a sentiment. Both bounds are exclusive.
func SentimentFor(changePercent24h decimal.Decimal) Sentiment {
	switch {
	case changePercent24h.GreaterThan(bullishAbove):
		return SentimentBullish
	case changePercent24h.LessThan(bearishBelow):
		return SentimentBearish
	default:
		return SentimentNeutral
	}
}

// Ticker is a point-in-time quote for one asset.
type Ticker struct {
	Symbol           string          `json:"symbol"`
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	ChangePercent24h decimal.Decimal `json:"change24h"`
	Volume24h        decimal.Decimal `json:"volume24h"`
	MarketCap        decimal.Decimal `json:"marketCap"`
}

// Sentiment is always derived, never stored.
func (t Ticker) Sentiment() Sentiment {
	return SentimentFor(t.ChangePercent24h)
}

// Valid reports whether the ticker can be served to clients.
func (t Ticker) Valid() bool {
	return t.Symbol != "" &&
		t.Price.IsPositive() &&
		!t.Volume24h.IsNegative() &&
		!t.MarketCap.IsNegative()
}

// tickerJSON is the wire form. Numerics are written as JSON numbers.
type tickerJSON struct {
	Symbol           string      `json:"symbol"`
	Name             string      `json:"name"`
	Price            json.Number `json:"price"`
	ChangePercent24h json.Number `json:"change24h"`
	Volume24h        json.Number `json:"volume24h"`
	MarketCap        json.Number `json:"marketCap"`
	Sentiment        Sentiment   `json:"sentiment"`
}

// MarshalJSON adds the derived sentiment. Unmarshalling uses the default
// decoder, which drops the field so it is recomputed on read.
func (t Ticker) MarshalJSON() ([]byte, error) {
	return json.Marshal(tickerJSON{
		Symbol:           t.Symbol,
		Name:             t.Name,
		Price:            json.Number(t.Price.String()),
		ChangePercent24h: json.Number(t.ChangePercent24h.String()),
		Volume24h:        json.Number(t.Volume24h.String()),
		MarketCap:        json.Number(t.MarketCap.String()),
		Sentiment:        t.Sentiment(),
	})
}

// PriceSnapshot is the full ordered ticker set from one successful fetch.
// All tickers share CapturedAt.
type PriceSnapshot struct {
	CapturedAt time.Time `json:"capturedAt"`
	Tickers    []Ticker  `json:"tickers"`
}

// NewPriceSnapshot builds a snapshot, copying tickers so the caller cannot mutate it later.
func NewPriceSnapshot(at time.Time, tickers []Ticker) *PriceSnapshot {
	cp := make([]Ticker, len(tickers))
	copy(cp, tickers)
	return &PriceSnapshot{CapturedAt: at, Tickers: cp}
}

// Len returns the number of tickers.
func (s *PriceSnapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Tickers)
}

// Symbols returns the ticker symbols in snapshot order.
func (s *PriceSnapshot) Symbols() []string {
	out := make([]string, 0, s.Len())
	if s == nil {
		return out
	}
	for _, t := range s.Tickers {
		out = append(out, t.Symbol)
	}
	return out
}

// Find looks a ticker up by symbol, case-insensitively.
func (s *PriceSnapshot) Find(symbol string) (Ticker, bool) {
	if s == nil {
		return Ticker{}, false
	}
	for _, t := range s.Tickers {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return Ticker{}, false
}

// Filter returns a new snapshot holding only the requested symbols, in snapshot order.
// An empty filter returns the snapshot unchanged.
func (s *PriceSnapshot) Filter(symbols []string) *PriceSnapshot {
	if s == nil || len(symbols) == 0 {
		return s
	}
	want := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			want[sym] = struct{}{}
		}
	}
	if len(want) == 0 {
		return s
	}
	out := make([]Ticker, 0, len(want))
	for _, t := range s.Tickers {
		if _, ok := want[strings.ToUpper(t.Symbol)]; ok {
			out = append(out, t)
		}
	}
	return &PriceSnapshot{CapturedAt: s.CapturedAt, Tickers: out}
}
