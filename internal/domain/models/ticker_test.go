package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSentimentFor(t *testing.T) {
	cases := map[string]Sentiment{
		"2.5":   SentimentBullish,
		"2":     SentimentNeutral,
		"2.01":  SentimentBullish,
		"0":     SentimentNeutral,
		"-2":    SentimentNeutral,
		"-2.01": SentimentBearish,
		"-15":   SentimentBearish,
	}
	for in, want := range cases {
		if got := SentimentFor(decimal.RequireFromString(in)); got != want {
			t.Fatalf("SentimentFor(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestTickerJSONRecomputesSentiment(t *testing.T) {
	tk := Ticker{
		Symbol:           "BTC",
		Name:             "Bitcoin",
		Price:            decimal.RequireFromString("67000.5"),
		ChangePercent24h: decimal.RequireFromString("3.1"),
	}
	b, err := json.Marshal(tk)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"sentiment":"Bullish"`) || !strings.Contains(s, `"price":67000.5`) {
		t.Fatalf("unexpected json %s", s)
	}

	// A tampered sentiment is ignored on decode.
	tampered := strings.Replace(s, `"Bullish"`, `"Bearish"`, 1)
	var back Ticker
	if err := json.Unmarshal([]byte(tampered), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Sentiment() != SentimentBullish {
		t.Fatalf("sentiment not recomputed: %s", back.Sentiment())
	}
}

func TestTickerJSONWritesNumbersWithoutGlobalFlag(t *testing.T) {
	if decimal.MarshalJSONWithoutQuotes {
		t.Fatalf("models must not change decimal's package-level encoding")
	}
	b, err := json.Marshal(Ticker{Symbol: "ETH", Price: decimal.RequireFromString("3500.25"), Volume24h: decimal.NewFromInt(12)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"price":3500.25`, `"volume24h":12`, `"change24h":0`, `"marketCap":0`} {
		if !strings.Contains(s, want) {
			t.Fatalf("missing %s in %s", want, s)
		}
	}
}

func TestSnapshotFilterPreservesOrder(t *testing.T) {
	snap := NewPriceSnapshot(time.Unix(100, 0), []Ticker{
		{Symbol: "BTC"}, {Symbol: "ETH"}, {Symbol: "SOL"},
	})
	got := snap.Filter([]string{"sol", " btc", "XRP"})
	if strings.Join(got.Symbols(), ",") != "BTC,SOL" {
		t.Fatalf("unexpected filter %v", got.Symbols())
	}
	if !got.CapturedAt.Equal(snap.CapturedAt) {
		t.Fatalf("capturedAt not preserved")
	}
	if snap.Len() != 3 {
		t.Fatalf("original mutated")
	}
	if _, ok := snap.Find("eth"); !ok {
		t.Fatalf("find should be case-insensitive")
	}
}

func TestTickerValid(t *testing.T) {
	ok := Ticker{Symbol: "BTC", Price: decimal.NewFromInt(1)}
	if !ok.Valid() {
		t.Fatalf("expected valid")
	}
	for _, bad := range []Ticker{
		{Price: decimal.NewFromInt(1)},
		{Symbol: "BTC"},
		{Symbol: "BTC", Price: decimal.NewFromInt(1), Volume24h: decimal.NewFromInt(-1)},
	} {
		if bad.Valid() {
			t.Fatalf("expected invalid: %+v", bad)
		}
	}
}

func TestPricesRequestSymbolList(t *testing.T) {
	r := PricesRequest{Symbols: "btc, eth,,"}
	if got := strings.Join(r.SymbolList(), ","); got != "BTC,ETH" {
		t.Fatalf("unexpected %s", got)
	}
}
