// Package feed turns exchange candle rows into oldest-first model.Series.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"leverage-scanner/internal/exchange"
	"leverage-scanner/internal/model"
)

// DefaultLimit is the number of candles requested when the caller passes 0.
const DefaultLimit = 150

// DefaultTimeframe is used for unknown timeframe tokens.
const DefaultTimeframe = "15m"

var bars = map[string]string{
	"1m":  "1m",
	"3m":  "3m",
	"5m":  "5m",
	"10m": "10m",
	"15m": "15m",
	"30m": "30m",
	"1h":  "1H",
	"2h":  "2H",
	"4h":  "4H",
	"6h":  "6H",
	"8h":  "8H",
	"12h": "12H",
	"1d":  "1D",
	"3d":  "3D",
	"1w":  "1W",
	"1mo": "1M",
}

// Bar maps a user-facing timeframe to the exchange's bar token.
// Matching is case-insensitive; unknown tokens fall back to 15m.
func Bar(timeframe string) string {
	if b, ok := bars[strings.ToLower(strings.TrimSpace(timeframe))]; ok {
		return b
	}
	return bars[DefaultTimeframe]
}

// KnownTimeframe reports whether the timeframe maps to a bar without fallback.
func KnownTimeframe(timeframe string) bool {
	_, ok := bars[strings.ToLower(strings.TrimSpace(timeframe))]
	return ok
}

// RowSource returns raw candle rows, newest first.
type RowSource interface {
	Candles(ctx context.Context, instID, bar string, limit int) ([][]string, error)
}

// Feed fetches candle series. Retry, backoff and rate limiting live in the
// exchange client, so Feed is safe to share between workers.
type Feed struct {
	src RowSource
	log *slog.Logger
}

// New creates a candle feed over src (normally an *exchange.Client).
func New(src RowSource) *Feed {
	return &Feed{
		src: src,
		log: slog.Default().With("component", "feed"),
	}
}

// Fetch returns up to limit candles for symbol on timeframe, oldest first.
func (f *Feed) Fetch(ctx context.Context, symbol, timeframe string, limit int) (model.Series, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if !KnownTimeframe(timeframe) {
		f.log.Warn("unknown timeframe, using default", "timeframe", timeframe, "default", DefaultTimeframe)
	}
	bar := Bar(timeframe)

	rows, err := f.src.Candles(ctx, strings.ToUpper(symbol), bar, limit)
	if err != nil {
		return nil, err
	}

	series, err := ParseRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", symbol, timeframe, err)
	}
	f.log.Debug("fetched candles", "symbol", symbol, "timeframe", timeframe, "count", len(series))
	return series, nil
}

// ParseRows converts newest-first exchange rows
// [ts_ms, open, high, low, close, volume, ...] into an oldest-first series.
func ParseRows(rows [][]string) (model.Series, error) {
	const op = "parse candles"
	if len(rows) == 0 {
		return nil, exchange.DataError(op, exchange.ReasonEmpty, nil)
	}

	newestFirst := make(model.Series, len(rows))
	for i, row := range rows {
		c, err := parseRow(row)
		if err != nil {
			return nil, exchange.DataError(op, exchange.ReasonMalformed, fmt.Errorf("row %d: %w", i, err))
		}
		newestFirst[i] = c
	}

	series := newestFirst.Reverse()

	if !series.Ordered() {
		return nil, exchange.DataError(op, exchange.ReasonMalformed, fmt.Errorf("timestamps not strictly increasing"))
	}
	return series, nil
}

func parseRow(row []string) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, fmt.Errorf("expected at least 6 cells, got %d", len(row))
	}
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("timestamp %q: %w", row[0], err)
	}

	var vals [5]float64
	for j := range vals {
		v, err := strconv.ParseFloat(row[j+1], 64)
		if err != nil {
			return model.Candle{}, fmt.Errorf("cell %d %q: %w", j+1, row[j+1], err)
		}
		vals[j] = v
	}

	return model.Candle{
		Time:   time.UnixMilli(ts).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}
