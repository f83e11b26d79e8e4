// Package scanner runs the periodic scan: universe discovery, candle fetch,
// indicator computation, classification, sink fan-out and auto-trading.
package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"leverage-scanner/internal/exchange"
	"leverage-scanner/internal/indicator"
	"leverage-scanner/internal/logger"
	"leverage-scanner/internal/metrics"
	"leverage-scanner/internal/model"
	"leverage-scanner/internal/signal"
)

// Config controls the scan loop.
type Config struct {
	Interval     time.Duration `yaml:"interval" default:"5m" validate:"gt=0"`
	Timeframes   []string      `yaml:"timeframes" default:"[\"5m\",\"10m\",\"15m\",\"1h\"]" validate:"min=1,dive,required"`
	CandleLimit  int           `yaml:"candle_limit" default:"150" validate:"gte=10,lte=1440"`
	MinCandles   int           `yaml:"min_candles" default:"50" validate:"gte=10"`
	Concurrency  int           `yaml:"concurrency" default:"8" validate:"gte=1,lte=64"`
	MaxSignalAge time.Duration `yaml:"max_signal_age" default:"15m"` // 0 disables the freshness gate
	HintTTL      time.Duration `yaml:"hint_ttl"`                     // 0 keeps hints until consumed
}

// Skip reasons reported in metrics and logs.
const (
	skipInsufficient = exchange.ReasonInsufficient
	skipStale        = "stale"
	skipError        = "error"
)

// Deps are the collaborators of a Scanner. Trader, Metrics and Health are
// optional.
type Deps struct {
	Universe model.UniverseSource
	Candles  model.CandleSource
	Engine   *indicator.Engine
	Detector *signal.Detector
	Sinks    []model.SignalSink

	Trader  *Trader
	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
}

// Report summarizes one cycle.
type Report struct {
	TraceID   string
	Symbols   int
	Evaluated int
	Skipped   map[string]int
	Signals   []model.SignalRecord
	Orders    []model.OrderResult
	Duration  time.Duration
}

// Scanner evaluates every (symbol, timeframe) pair once per cycle.
type Scanner struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	now  func() time.Time
}

// New creates a scanner.
func New(cfg Config, deps Deps) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MinCandles < signal.MinCandles {
		cfg.MinCandles = signal.MinCandles
	}
	return &Scanner{
		cfg:  cfg,
		deps: deps,
		log:  slog.Default().With("component", "scanner"),
		now:  time.Now,
	}
}

// Run scans immediately and then every Interval until ctx is cancelled.
// Cycle errors are logged; only cancellation ends the loop.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("scan cycle failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// pair is one unit of work.
type pair struct {
	symbol    string
	timeframe string
}

// outcome is what a worker reports for one pair.
type outcome struct {
	pair
	rec  *model.SignalRecord
	skip string
}

// RunOnce runs a single cycle: the hint timeframe for every symbol first,
// then the configured timeframes.
func (s *Scanner) RunOnce(ctx context.Context) (*Report, error) {
	start := s.now()
	traceID := logger.GenerateTraceID("cycle", start)
	ctx = logger.WithTraceID(ctx, traceID)
	log := s.log.With(logger.LogWithTrace(ctx)...)
	report := &Report{TraceID: traceID, Skipped: map[string]int{}}

	symbols, err := s.deps.Universe.Symbols(ctx)
	if err != nil {
		s.finishCycle(report, start, err)
		return report, err
	}
	report.Symbols = len(symbols)
	log.Info("scan cycle started", "symbols", len(symbols))

	if s.cfg.HintTTL > 0 {
		if n := s.deps.Detector.Hints().Prune(start, s.cfg.HintTTL); n > 0 {
			log.Info("pruned expired hints", "count", n)
			if m := s.deps.Metrics; m != nil {
				m.HintsPruned.Add(float64(n))
			}
		}
	}

	for _, tfs := range s.phases() {
		if err := ctx.Err(); err != nil {
			s.finishCycle(report, start, err)
			return report, err
		}
		results := s.evaluate(ctx, symbols, tfs)
		s.collect(ctx, report, results)
	}

	if err := ctx.Err(); err != nil {
		s.finishCycle(report, start, err)
		return report, err
	}

	if s.deps.Trader != nil {
		report.Orders = s.deps.Trader.Trade(ctx, report.Signals)
	}

	s.finishCycle(report, start, nil)
	log.Info("scan cycle finished",
		"symbols", report.Symbols, "evaluated", report.Evaluated,
		"signals", len(report.Signals), "orders", len(report.Orders),
		"skipped", report.Skipped, "took", report.Duration)
	return report, nil
}

// phases returns [[1m], configured timeframes without 1m].
func (s *Scanner) phases() [][]string {
	rest := lo.Filter(lo.Uniq(s.cfg.Timeframes), func(tf string, _ int) bool {
		return !strings.EqualFold(tf, signal.HintTimeframe)
	})
	return [][]string{{signal.HintTimeframe}, rest}
}

// evaluate runs every symbol × timeframe pair on a bounded worker pool.
// Worker failures are reported as skips and never cancel the group.
func (s *Scanner) evaluate(ctx context.Context, symbols, timeframes []string) []outcome {
	var (
		mu  sync.Mutex
		out []outcome
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, sym := range symbols {
		for _, tf := range timeframes {
			p := pair{symbol: sym, timeframe: tf}
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				o := s.evaluatePair(gctx, p)
				mu.Lock()
				out = append(out, o)
				mu.Unlock()
				return nil
			})
		}
	}
	g.Wait()

	// Deterministic sink order regardless of worker scheduling.
	sort.Slice(out, func(i, j int) bool {
		if out[i].symbol != out[j].symbol {
			return out[i].symbol < out[j].symbol
		}
		return out[i].timeframe < out[j].timeframe
	})
	return out
}

func (s *Scanner) evaluatePair(ctx context.Context, p pair) outcome {
	log := s.log.With(logger.LogWithTrace(ctx)...).With("symbol", p.symbol, "timeframe", p.timeframe)
	o := outcome{pair: p}

	fetchStart := time.Now()
	series, err := s.deps.Candles.Fetch(ctx, p.symbol, p.timeframe, s.cfg.CandleLimit)
	if m := s.deps.Metrics; m != nil {
		m.FetchDuration.Observe(time.Since(fetchStart).Seconds())
	}
	if err != nil {
		if ctx.Err() != nil {
			o.skip = skipError
			return o
		}
		o.skip = skipReason(err)
		kind := exchange.KindOf(err)
		log.Log(ctx, exchange.PolicyFor(kind).LogLevel, "pair skipped", "reason", o.skip, "kind", kind.String(), "err", err)
		return o
	}
	if series.Len() < s.cfg.MinCandles {
		o.skip = skipInsufficient
		log.Warn("pair skipped", "reason", o.skip, "candles", series.Len(), "min", s.cfg.MinCandles)
		return o
	}

	frame := s.deps.Engine.Compute(series)
	rec := s.deps.Detector.Detect(p.symbol, p.timeframe, frame)
	if rec == nil {
		log.Debug("no signal")
		return o
	}

	// The 1m pass only feeds the hint table; its stronger labels are not published.
	if p.timeframe == signal.HintTimeframe && rec.LabelType != model.LabelHint {
		log.Debug("dropping fast timeframe signal", "label", rec.LabelType, "confidence", rec.Confidence)
		return o
	}

	if s.cfg.MaxSignalAge > 0 && rec.SignalAgeMinutes > s.cfg.MaxSignalAge.Minutes() {
		o.skip = skipStale
		log.Info("discarding stale signal", "label", rec.LabelType, "age_minutes", rec.SignalAgeMinutes)
		return o
	}
	o.rec = rec
	return o
}

// skipReason maps a fetch error to a metrics label.
func skipReason(err error) string {
	if r := exchange.ReasonOf(err); r != "" && exchange.KindOf(err) == exchange.KindData {
		return r
	}
	return exchange.KindOf(err).String()
}

// collect tallies outcomes and fans signals out to every sink in order.
func (s *Scanner) collect(ctx context.Context, report *Report, results []outcome) {
	m := s.deps.Metrics
	for _, o := range results {
		if o.skip != "" {
			report.Skipped[o.skip]++
			if m != nil {
				m.PairsSkipped.WithLabelValues(o.skip).Inc()
				if o.skip == skipStale {
					m.StaleSignals.Inc()
				}
			}
			continue
		}
		report.Evaluated++
		if m != nil {
			m.PairsEvaluated.WithLabelValues(o.timeframe).Inc()
		}
		if o.rec == nil {
			continue
		}

		rec := *o.rec
		report.Signals = append(report.Signals, rec)
		if m != nil {
			m.SignalsTotal.WithLabelValues(rec.LabelType, rec.Timeframe).Inc()
		}
		s.emit(ctx, rec)
	}
}

// emit delivers rec to each sink; a failing sink never blocks the rest.
func (s *Scanner) emit(ctx context.Context, rec model.SignalRecord) {
	for _, sink := range s.deps.Sinks {
		if err := sink.Emit(ctx, rec); err != nil {
			s.log.Warn("sink failed", append(logger.LogWithTrace(ctx),
				"sink", sink.Name(), "symbol", rec.Symbol, "timeframe", rec.Timeframe, "err", err)...)
			if m := s.deps.Metrics; m != nil {
				m.SinkErrors.WithLabelValues(sink.Name()).Inc()
			}
		}
	}
}

func (s *Scanner) finishCycle(report *Report, start time.Time, err error) {
	end := s.now()
	report.Duration = end.Sub(start)

	if m := s.deps.Metrics; m != nil && !errors.Is(err, context.Canceled) {
		m.CyclesTotal.Inc()
		m.CycleDuration.Observe(report.Duration.Seconds())
		m.UniverseSize.Set(float64(report.Symbols))
		m.LastCycleUnix.Set(float64(end.Unix()))
		m.HintsPending.Set(float64(s.deps.Detector.Hints().Len()))
	}
	if h := s.deps.Health; h != nil {
		h.RecordCycle(end, report.Symbols, err)
	}
}
