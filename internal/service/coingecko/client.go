package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"CoinPull/internal/domain/models"
	drepo "CoinPull/internal/domain/repository"
	"CoinPull/pkg/clock"
	"CoinPull/pkg/config"
	xhttp "CoinPull/pkg/http"
	applogger "CoinPull/pkg/logger"

	"github.com/shopspring/decimal"
)

const simplePricePath = "/simple/price"

// Client fetches the configured coin universe from the CoinGecko simple price endpoint.
// It is stateless apart from its configuration and safe for concurrent use.
type Client struct {
	http         *xhttp.Client
	baseURL      string
	apiKey       string
	apiKeyHeader string
	vsCurrency   string
	coins        []config.Coin
	clock        clock.Clock
	log          *applogger.Logger
}

// Option configures Client.
type Option func(*Client)

// WithAPIKey sets the key and the header carrying it. An empty key means public rate limits.
func WithAPIKey(key, header string) Option {
	return func(c *Client) {
		c.apiKey = key
		if header != "" {
			c.apiKeyHeader = header
		}
	}
}

// WithVsCurrency sets the quote currency.
func WithVsCurrency(cur string) Option {
	return func(c *Client) {
		if cur != "" {
			c.vsCurrency = strings.ToLower(cur)
		}
	}
}

// WithClock sets the time source stamped on snapshots.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// New creates a client for baseURL over the shared HTTP client.
func New(httpClient *xhttp.Client, baseURL string, coins []config.Coin, opts ...Option) *Client {
	c := &Client{
		http:         httpClient,
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKeyHeader: "x-cg-demo-api-key",
		vsCurrency:   "usd",
		coins:        coins,
		clock:        clock.New(),
		log:          applogger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ drepo.PriceSource = (*Client)(nil)

// FetchSnapshot issues one batched request for every configured coin.
// Coins absent from the payload or without a price are omitted; an empty
// result counts as a failure.
func (c *Client) FetchSnapshot(ctx context.Context) (*models.PriceSnapshot, error) {
	ids := make([]string, len(c.coins))
	for i, coin := range c.coins {
		ids[i] = coin.ID
	}

	req := &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + simplePricePath,
		QueryParams: map[string][]string{
			"ids":                 {strings.Join(ids, ",")},
			"vs_currencies":       {c.vsCurrency},
			"include_market_cap":  {"true"},
			"include_24hr_vol":    {"true"},
			"include_24hr_change": {"true"},
		},
	}
	if c.apiKey != "" {
		req.Headers = map[string]string{c.apiKeyHeader: c.apiKey}
	}

	var payload map[string]map[string]json.Number
	if err := c.http.SendAndParse(ctx, req, &payload); err != nil {
		var se *xhttp.StatusError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("%w: coingecko status %d", drepo.ErrFetchFailed, se.StatusCode)
		}
		return nil, fmt.Errorf("%w: coingecko: %v", drepo.ErrFetchFailed, err)
	}

	snap := c.toSnapshot(payload)
	if snap.Len() == 0 {
		return nil, fmt.Errorf("%w: coingecko returned no usable prices", drepo.ErrFetchFailed)
	}
	if missing := len(c.coins) - snap.Len(); missing > 0 {
		c.log.Debug("coingecko omitted coins", applogger.Int("missing", missing), applogger.Int("received", snap.Len()))
	}
	return snap, nil
}

func (c *Client) toSnapshot(payload map[string]map[string]json.Number) *models.PriceSnapshot {
	cur := c.vsCurrency
	tickers := make([]models.Ticker, 0, len(c.coins))
	for _, coin := range c.coins {
		q, ok := payload[coin.ID]
		if !ok {
			continue
		}
		price := number(q[cur])
		if !price.IsPositive() {
			continue
		}
		name := coin.Name
		if name == "" {
			name = coin.Symbol
		}
		tickers = append(tickers, models.Ticker{
			Symbol:           strings.ToUpper(coin.Symbol),
			Name:             name,
			Price:            price,
			ChangePercent24h: number(q[cur+"_24h_change"]),
			Volume24h:        number(q[cur+"_24h_vol"]),
			MarketCap:        number(q[cur+"_market_cap"]),
		})
	}
	return models.NewPriceSnapshot(c.clock.Now().UTC().Truncate(time.Millisecond), tickers)
}

// number parses a JSON number; missing or null values read as zero.
func number(n json.Number) decimal.Decimal {
	if n == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
