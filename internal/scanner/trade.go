package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"leverage-scanner/internal/exchange"
	"leverage-scanner/internal/logger"
	"leverage-scanner/internal/metrics"
	"leverage-scanner/internal/model"
	"leverage-scanner/internal/signal"
)

// Order outcome labels for metrics.
const (
	orderError   = "error"
	orderSkipped = "skipped"
)

// Trader submits orders for the strongest signals of a cycle.
type Trader struct {
	submitter     model.OrderSubmitter
	recorder      model.OrderRecorder
	minConfidence int
	metrics       *metrics.Metrics
	log           *slog.Logger
}

// NewTrader creates a trader. recorder and m may be nil.
func NewTrader(submitter model.OrderSubmitter, recorder model.OrderRecorder, minConfidence int, m *metrics.Metrics) *Trader {
	return &Trader{
		submitter:     submitter,
		recorder:      recorder,
		minConfidence: minConfidence,
		metrics:       m,
		log:           slog.Default().With("component", "trader"),
	}
}

// Candidates returns the tradeable signals, strongest first, one per symbol.
// Hints and anything on the hint timeframe never trade.
func (t *Trader) Candidates(signals []model.SignalRecord) []model.SignalRecord {
	var out []model.SignalRecord
	for _, s := range signals {
		if s.LabelType == model.LabelHint || s.Timeframe == signal.HintTimeframe || s.Confidence < t.minConfidence {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})

	seen := make(map[string]bool, len(out))
	uniq := out[:0]
	for _, s := range out {
		if seen[s.Symbol] {
			continue
		}
		seen[s.Symbol] = true
		uniq = append(uniq, s)
	}
	return uniq
}

// Trade submits a market order at the latest close for each candidate.
// A signing failure aborts the rest of the batch; every other failure only
// skips its own signal.
func (t *Trader) Trade(ctx context.Context, signals []model.SignalRecord) []model.OrderResult {
	var results []model.OrderResult
	log := t.log.With(logger.LogWithTrace(ctx)...)

	for _, sig := range t.Candidates(signals) {
		if ctx.Err() != nil {
			return results
		}

		req := model.OrderRequest{
			InstID: sig.Symbol,
			Side:   sig.Side(),
			Price:  decimal.NewFromFloat(sig.Price),
		}
		log.Info("submitting order",
			"symbol", sig.Symbol, "timeframe", sig.Timeframe, "side", req.Side,
			"price", req.Price.String(), "confidence", sig.Confidence)

		res, err := t.submitter.Submit(ctx, req)
		if err != nil {
			kind := exchange.KindOf(err)
			log.Log(ctx, exchange.PolicyFor(kind).LogLevel, "order not submitted",
				"symbol", sig.Symbol, "kind", kind.String(), "err", err)

			if kind == exchange.KindTokenNotSupported {
				t.count(orderSkipped)
				continue
			}
			t.count(orderError)
			if kind == exchange.KindSigning || errors.Is(err, context.Canceled) {
				log.Error("aborting remaining orders this cycle", "err", err)
				return results
			}
			continue
		}

		t.count(res.Status)
		results = append(results, res)
		if res.Rejected() {
			log.Warn("order rejected", "symbol", res.InstID, "code", res.ExchangeCode, "msg", res.Message)
		} else {
			log.Info("order placed",
				"symbol", res.InstID, "order_id", res.OrderID, "size", res.Size.String(),
				"entry", res.EntryPrice.String(), "tp", res.TPPrice.String(), "sl", res.SLPrice.String(),
				"state", res.OrderState, "bracket_error", res.BracketError)
		}

		if t.recorder != nil {
			if err := t.recorder.RecordOrder(res); err != nil {
				log.Warn("order journal write failed", "order_id", res.OrderID, "err", err)
			}
		}
	}
	return results
}

func (t *Trader) count(status string) {
	if t.metrics != nil {
		t.metrics.OrdersTotal.WithLabelValues(status).Inc()
	}
}
