package exchange

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"leverage-scanner/internal/model"
)

// Candles returns the raw candle rows for instID, newest first, exactly as
// the exchange sends them: [ts, o, h, l, c, vol, volCurrency, volQuote, confirm].
func (c *Client) Candles(ctx context.Context, instID, bar string, limit int) ([][]string, error) {
	q := url.Values{}
	q.Set("instId", instID)
	q.Set("bar", bar)
	q.Set("limit", strconv.Itoa(limit))
	return Public[[][]string](ctx, c, "/market/candles", q)
}

type instrumentWire struct {
	InstID        string          `json:"instId"`
	InstType      string          `json:"instType"`
	BaseCurrency  string          `json:"baseCurrency"`
	QuoteCurrency string          `json:"quoteCurrency"`
	State         string          `json:"state"`
	MinSize       decimal.Decimal `json:"minSize"`
	MinSz         decimal.Decimal `json:"minSz"` // older payloads
}

// Instruments lists the instruments of the given type (e.g. "SWAP") on the
// market-data host.
func (c *Client) Instruments(ctx context.Context, instType string) ([]model.Instrument, error) {
	return c.instruments(ctx, HostMarket, instType)
}

// TradableInstruments lists the swaps the trading host accepts orders for.
// The demo environment lists fewer instruments than production.
func (c *Client) TradableInstruments(ctx context.Context) ([]model.Instrument, error) {
	return c.instruments(ctx, HostTrade, "SWAP")
}

func (c *Client) instruments(ctx context.Context, host Host, instType string) ([]model.Instrument, error) {
	q := url.Values{}
	if instType != "" {
		q.Set("instType", instType)
	}
	rows, err := PublicOn[[]instrumentWire](ctx, c, host, "/market/instruments", q)
	if err != nil {
		return nil, err
	}

	out := make([]model.Instrument, 0, len(rows))
	for _, r := range rows {
		if r.InstID == "" {
			continue
		}
		minSize := r.MinSize
		if minSize.IsZero() {
			minSize = r.MinSz
		}
		out = append(out, model.Instrument{
			InstID:        strings.ToUpper(r.InstID),
			InstType:      r.InstType,
			BaseCurrency:  r.BaseCurrency,
			QuoteCurrency: r.QuoteCurrency,
			State:         r.State,
			MinSize:       minSize,
		})
	}
	return out, nil
}

type tickerWire struct {
	InstID         string `json:"instId"`
	Last           string `json:"last"`
	VolCurrency24h string `json:"volCurrency24h"`
}

// Tickers returns the 24h tickers of every instrument. Unparseable numeric
// cells read as 0.
func (c *Client) Tickers(ctx context.Context) ([]model.Ticker, error) {
	rows, err := Public[[]tickerWire](ctx, c, "/market/tickers", nil)
	if err != nil {
		return nil, err
	}

	out := make([]model.Ticker, 0, len(rows))
	for _, r := range rows {
		last, _ := strconv.ParseFloat(r.Last, 64)
		vol, _ := strconv.ParseFloat(r.VolCurrency24h, 64)
		out = append(out, model.Ticker{InstID: r.InstID, Last: last, VolCurrency24h: vol})
	}
	return out, nil
}
