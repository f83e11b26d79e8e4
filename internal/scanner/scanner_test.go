package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage-scanner/internal/exchange"
	"leverage-scanner/internal/indicator"
	"leverage-scanner/internal/metrics"
	"leverage-scanner/internal/model"
	"leverage-scanner/internal/signal"
)

var tEnd = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

// ── fixtures ──

func zigzag(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i%2)
	}
	return out
}

func build(closes []float64, end time.Time, step time.Duration, tweak func(s model.Series)) model.Series {
	n := len(closes)
	s := make(model.Series, n)
	for i, c := range closes {
		s[i] = model.Candle{
			Time:   end.Add(-time.Duration(n-1-i) * step),
			Open:   c,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: 1000,
		}
	}
	if tweak != nil {
		tweak(s)
	}
	return s
}

// confirmation breaks out over 102.5 on a 3x volume bar with confidence 5.
func confirmation(end time.Time, step time.Duration) model.Series {
	return build(append(zigzag(16), 100, 101, 102, 105), end, step, func(s model.Series) {
		s[17].Low = 99
		s[19].Volume = 3000
	})
}

// hintSetup sits within 2% of a 105 high with an RSI surge and a volume
// spike, but has no breakout and RSI stays under 60.
func hintSetup(end time.Time, step time.Duration) model.Series {
	return build(append(zigzag(16), 99, 100, 101, 103.5), end, step, func(s model.Series) {
		s[17].High = 105
		s[18].High = 105
		s[19].Volume = 3000
	})
}

// declining never matches any label.
func declining(end time.Time, step time.Duration) model.Series {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 120 - float64(i)
	}
	return build(closes, end, step, nil)
}

// ── fakes ──

type fakeUniverse struct {
	symbols []string
	err     error
	calls   int
	onCall  func()
}

func (f *fakeUniverse) Symbols(context.Context) ([]string, error) {
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	return f.symbols, f.err
}

type fakeCandles struct {
	mu     sync.Mutex
	series map[string]model.Series
	order  []string
}

func (f *fakeCandles) Fetch(_ context.Context, symbol, timeframe string, _ int) (model.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, timeframe)
	s, ok := f.series[symbol+"|"+timeframe]
	if !ok {
		return nil, exchange.DataError("GET candles", exchange.ReasonUnavailable, nil)
	}
	return s, nil
}

type recordingSink struct {
	name string
	err  error
	recs []model.SignalRecord
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Emit(_ context.Context, rec model.SignalRecord) error {
	s.recs = append(s.recs, rec)
	return s.err
}

type fakeSubmitter struct {
	reqs []model.OrderRequest
	errs map[string]error
	rej  map[string]bool
}

func (f *fakeSubmitter) Submit(_ context.Context, req model.OrderRequest) (model.OrderResult, error) {
	f.reqs = append(f.reqs, req)
	if err := f.errs[req.InstID]; err != nil {
		return model.OrderResult{}, err
	}
	status := model.OrderStatusPlaced
	if f.rej[req.InstID] {
		status = model.OrderStatusRejected
	}
	return model.OrderResult{OrderID: "o-" + req.InstID, InstID: req.InstID, Side: req.Side, Status: status}, nil
}

type fakeRecorder struct{ got []model.OrderResult }

func (f *fakeRecorder) RecordOrder(res model.OrderResult) error {
	f.got = append(f.got, res)
	return nil
}

// counter returns the value of one labelled series, or the unlabelled
// counter when labelValue is empty.
func counter(t *testing.T, reg *prometheus.Registry, name, labelValue string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue == "" {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == labelValue {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func testConfig() Config {
	return Config{
		Interval:     time.Minute,
		Timeframes:   []string{"5m", "15m"},
		CandleLimit:  150,
		MinCandles:   10,
		Concurrency:  4,
		MaxSignalAge: 15 * time.Minute,
	}
}

func newDetector() *signal.Detector {
	d := signal.NewDetector(signal.NewHintTable())
	d.Now = func() time.Time { return tEnd.Add(90 * time.Second) }
	return d
}

func TestRunOnce_FullCycle(t *testing.T) {
	candles := &fakeCandles{series: map[string]model.Series{
		"BTC-USDT|1m":  hintSetup(tEnd, time.Minute),
		"BTC-USDT|5m":  confirmation(tEnd, 5*time.Minute),
		"ETH-USDT|1m":  confirmation(tEnd, time.Minute)[15:],
		"ETH-USDT|5m":  confirmation(tEnd.Add(-30*time.Minute), 5*time.Minute),
		"ETH-USDT|15m": declining(tEnd, 15*time.Minute),
	}}
	failing := &recordingSink{name: "broken", err: errors.New("down")}
	sink := &recordingSink{name: "memory"}
	sub := &fakeSubmitter{}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus(time.Hour)

	s := New(testConfig(), Deps{
		Universe: &fakeUniverse{symbols: []string{"ETH-USDT", "BTC-USDT"}},
		Candles:  candles,
		Engine:   indicator.NewEngine(indicator.DefaultConfig()),
		Detector: newDetector(),
		Sinks:    []model.SignalSink{failing, sink},
		Trader:   NewTrader(sub, nil, 4, m),
		Metrics:  m,
		Health:   health,
	})

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Symbols)
	assert.Equal(t, 3, report.Evaluated)
	assert.Equal(t, map[string]int{"insufficient": 1, "unavailable": 1, "stale": 1}, report.Skipped)
	assert.NotEmpty(t, report.TraceID)

	// 1m runs for every symbol before any slower timeframe.
	require.Len(t, candles.order, 6)
	for i, tf := range candles.order {
		assert.Equal(t, i < 2, tf == "1m", "fetch %d was %s", i, tf)
	}

	require.Len(t, report.Signals, 2)
	hint, conf := report.Signals[0], report.Signals[1]
	assert.Equal(t, "1m", hint.Timeframe)
	assert.Equal(t, model.LabelHint, hint.LabelType)
	assert.True(t, hint.Is1mHint)
	assert.Equal(t, "5m", conf.Timeframe)
	assert.Equal(t, model.LabelConfirmation, conf.LabelType)
	require.NotNil(t, conf.EarlyHintTime, "5m confirmation consumes the 1m hint")
	assert.Equal(t, tEnd, *conf.EarlyHintTime)
	require.NotNil(t, conf.SignalDelayMinutes)
	assert.Equal(t, 0.0, *conf.SignalDelayMinutes)

	// A failing sink never blocks the others.
	assert.Equal(t, report.Signals, sink.recs)
	assert.Len(t, failing.recs, 2)

	// Hints never trade.
	require.Len(t, sub.reqs, 1)
	assert.Equal(t, "BTC-USDT", sub.reqs[0].InstID)
	assert.Equal(t, model.SideBuy, sub.reqs[0].Side)
	assert.True(t, decimal.NewFromInt(105).Equal(sub.reqs[0].Price))
	require.Len(t, report.Orders, 1)

	assert.Equal(t, 1.0, counter(t, reg, "scanner_cycles_total", ""))
	assert.Equal(t, 1.0, counter(t, reg, "scanner_stale_signals_total", ""))
	assert.Equal(t, 1.0, counter(t, reg, "scanner_pairs_skipped_total", "stale"))
	assert.Equal(t, 2.0, counter(t, reg, "scanner_sink_errors_total", "broken"))
	assert.Equal(t, 1.0, counter(t, reg, "scanner_orders_total", "placed"))

	assert.False(t, health.LastCycleAt.IsZero())
	assert.Equal(t, 2, health.UniverseSize)
	assert.Empty(t, health.LastCycleError)
}

func TestRunOnce_FastTimeframeOnlyFeedsHints(t *testing.T) {
	sink := &recordingSink{name: "memory"}
	sub := &fakeSubmitter{}
	det := newDetector()
	cfg := testConfig()
	cfg.Timeframes = []string{"5m"}

	s := New(cfg, Deps{
		Universe: &fakeUniverse{symbols: []string{"XRP-USDT"}},
		Candles: &fakeCandles{series: map[string]model.Series{
			"XRP-USDT|1m": confirmation(tEnd, time.Minute),
		}},
		Engine:   indicator.NewEngine(indicator.DefaultConfig()),
		Detector: det,
		Sinks:    []model.SignalSink{sink},
		Trader:   NewTrader(sub, nil, 4, nil),
	})

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Evaluated)
	assert.Empty(t, report.Signals)
	assert.Empty(t, sink.recs)
	assert.Empty(t, sub.reqs)
	assert.Empty(t, report.Orders)

	at, ok := det.Hints().Peek("XRP-USDT", model.DirectionLong)
	require.True(t, ok, "the 1m setup is still recorded as a hint")
	assert.Equal(t, tEnd, at)
}

func TestRunOnce_FreshnessGateDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Timeframes = []string{"5m"}
	cfg.MaxSignalAge = 0
	sink := &recordingSink{name: "memory"}

	s := New(cfg, Deps{
		Universe: &fakeUniverse{symbols: []string{"ETH-USDT"}},
		Candles: &fakeCandles{series: map[string]model.Series{
			"ETH-USDT|5m": confirmation(tEnd.Add(-2*time.Hour), 5*time.Minute),
		}},
		Engine:   indicator.NewEngine(indicator.DefaultConfig()),
		Detector: newDetector(),
		Sinks:    []model.SignalSink{sink},
	})

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, sink.recs, 1)
	assert.Greater(t, sink.recs[0].SignalAgeMinutes, 100.0)
	assert.Zero(t, report.Skipped["stale"])
}

func TestRunOnce_UniverseError(t *testing.T) {
	reg := prometheus.NewRegistry()
	health := metrics.NewHealthStatus(time.Hour)
	s := New(testConfig(), Deps{
		Universe: &fakeUniverse{err: errors.New("tickers unavailable")},
		Candles:  &fakeCandles{},
		Engine:   indicator.NewEngine(indicator.DefaultConfig()),
		Detector: newDetector(),
		Metrics:  metrics.NewMetrics(reg),
		Health:   health,
	})

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, "tickers unavailable", health.LastCycleError)
	assert.Equal(t, 1.0, counter(t, reg, "scanner_cycles_total", ""))
}

func TestRunOnce_CancelledCycleIsNotCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(testConfig(), Deps{
		Universe: &fakeUniverse{symbols: []string{"BTC-USDT"}},
		Candles:  &fakeCandles{},
		Engine:   indicator.NewEngine(indicator.DefaultConfig()),
		Detector: newDetector(),
		Metrics:  metrics.NewMetrics(reg),
	})

	_, err := s.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, counter(t, reg, "scanner_cycles_total", ""))
}

func TestRunOnce_PrunesExpiredHints(t *testing.T) {
	reg := prometheus.NewRegistry()
	det := newDetector()
	det.Hints().Record("OLD-USDT", model.DirectionLong, time.Now().Add(-time.Hour))
	det.Hints().Record("NEW-USDT", model.DirectionLong, time.Now())

	cfg := testConfig()
	cfg.HintTTL = 10 * time.Minute
	s := New(cfg, Deps{
		Universe: &fakeUniverse{},
		Candles:  &fakeCandles{},
		Engine:   indicator.NewEngine(indicator.DefaultConfig()),
		Detector: det,
		Metrics:  metrics.NewMetrics(reg),
	})

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, det.Hints().Len())
	assert.Equal(t, 1.0, counter(t, reg, "scanner_hints_pruned_total", ""))
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	u := &fakeUniverse{symbols: []string{"BTC-USDT"}, onCall: cancel}

	s := New(testConfig(), Deps{
		Universe: u,
		Candles:  &fakeCandles{},
		Engine:   indicator.NewEngine(indicator.DefaultConfig()),
		Detector: newDetector(),
	})

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, u.calls)
}

func TestPhases_HintTimeframeFirstAndDeduplicated(t *testing.T) {
	cfg := testConfig()
	cfg.Timeframes = []string{"5m", "1m", "1h", "5m"}
	s := New(cfg, Deps{})
	assert.Equal(t, [][]string{{"1m"}, {"5m", "1h"}}, s.phases())
}

func TestSkipReason(t *testing.T) {
	assert.Equal(t, "empty", skipReason(exchange.DataError("op", exchange.ReasonEmpty, nil)))
	assert.Equal(t, "network", skipReason(&exchange.Error{Kind: exchange.KindNetwork}))
	assert.Equal(t, "unknown", skipReason(errors.New("boom")))
}
