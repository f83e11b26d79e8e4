// Package signal classifies indicator frames into long breakout signals and
// correlates 1m early hints with confirmations on slower timeframes.
package signal

import (
	"log/slog"
	"strings"
	"time"

	"leverage-scanner/internal/indicator"
	"leverage-scanner/internal/model"
)

const (
	reasonConfirmation = "Confirmation: Breakout + EMA trend + RSI > 45"
	reasonAnticipation = "Anticipation: EMA trend + RSI > 60 + Volume Spike"
	reasonHint         = "1m Early Signal Hint: Structure + RSI + Volume"
	reasonPullback     = " + Pullback Rebound"
)

// Detector is safe for concurrent use; its only state is the shared HintTable.
type Detector struct {
	hints *HintTable
	log   *slog.Logger

	// Now supplies the wall clock for signal age. Replaced in tests.
	Now func() time.Time
}

// NewDetector creates a detector that records and consumes hints in hints.
func NewDetector(hints *HintTable) *Detector {
	return &Detector{
		hints: hints,
		log:   slog.Default().With("component", "detector"),
		Now:   time.Now,
	}
}

// Hints returns the detector's hint table.
func (d *Detector) Hints() *HintTable { return d.hints }

// Detect classifies the latest candle of f. It returns nil when the frame is
// too short or no label matches.
func (d *Detector) Detect(symbol, timeframe string, f *indicator.Frame) *model.SignalRecord {
	if f == nil || f.Len() < MinCandles {
		return nil
	}

	c := evaluate(timeframe, f)
	latest := f.Candles.Last(1)

	if c.is1mHint {
		d.hints.Record(symbol, model.DirectionLong, latest.Time)
		d.log.Debug("stored early hint", "symbol", symbol, "candle_time", latest.Time)
	}

	d.log.Debug("evaluated",
		"symbol", symbol, "timeframe", timeframe,
		"close", latest.Close, "rsi", indicator.At(f.RSI14, 1),
		"breakout", c.breakout, "ema_trend", c.emaTrend, "early_breakout", c.earlyBreakout,
		"proximity", c.proximity, "rsi_surge", c.rsiSurge, "volume_surge", c.volumeSurge,
		"structure", c.structureBuild)

	switch {
	case c.breakout && c.emaTrend && c.rsiOK:
		rec := d.base(symbol, timeframe, f, c)
		rec.LabelType = model.LabelConfirmation
		rec.Confidence = confirmationConfidence(c.momentumScore, c.pullback)
		rec.Reason = reasonConfirmation + pullbackSuffix(c.pullback)
		d.finishLabelled(rec, f, c)
		return rec

	case c.earlyBreakout && !c.breakout:
		rec := d.base(symbol, timeframe, f, c)
		rec.LabelType = model.LabelAnticipation
		rec.Confidence = anticipationConfidence(c.momentumScore, c.pullback)
		rec.Reason = reasonAnticipation + pullbackSuffix(c.pullback)
		d.finishLabelled(rec, f, c)
		return rec
	}

	if c.proximity && (c.rsiSurge || c.volumeSurge || c.structureBuild) {
		d.log.Debug("potential missed signal", "symbol", symbol, "timeframe", timeframe, "fast_mover", c.fastMover)
	}

	if c.is1mHint {
		rec := d.base(symbol, timeframe, f, c)
		rec.LabelType = model.LabelHint
		rec.Confidence = 1
		rec.Reason = reasonHint
		rec.ConfidenceStars = stars(1)
		return rec
	}
	return nil
}

// base fills the fields every label carries.
func (d *Detector) base(symbol, timeframe string, f *indicator.Frame, c conditions) *model.SignalRecord {
	latest := f.Candles.Last(1)
	return &model.SignalRecord{
		Symbol:                symbol,
		Timeframe:             timeframe,
		Direction:             model.DirectionLong,
		CandleTime:            latest.Time,
		Price:                 latest.Close,
		RSI:                   indicator.At(f.RSI14, 1),
		EMA21:                 indicator.At(f.EMA21, 1),
		EMA50:                 indicator.At(f.EMA50, 1),
		MomentumScore:         c.momentumScore,
		BottomBounceScore:     c.bounceScore,
		RSIBounceSignal:       c.rsiBounce,
		EMAReclaim:            c.emaReclaim,
		SimulatedBouncePnLPct: bouncePnL(latest.Close, latest.Low),
		SupportSweepReversal:  c.supportSweep,
		FastMover:             c.fastMover,
		SignalAgeMinutes:      round(d.Now().Sub(latest.Time).Minutes(), 2),
		Is1mHint:              c.is1mHint,
	}
}

// finishLabelled adds the breakout metrics of confirmation and anticipation
// records and consumes a pending 1m hint on slower timeframes.
func (d *Detector) finishLabelled(rec *model.SignalRecord, f *indicator.Frame, c conditions) {
	latest := f.Candles.Last(1)

	pct := round((latest.Close-c.maxPrev)/c.maxPrev*100, 2)
	align := round(indicator.At(f.EMA21, 1)-indicator.At(f.EMA21, 3), 5)
	rec.PriceFromBreakoutPct = &pct
	rec.EMAAlignment = &align
	rec.ConfidenceStars = stars(rec.Confidence)

	if rec.Timeframe == HintTimeframe {
		return
	}
	hintAt, ok := d.hints.Consume(rec.Symbol, rec.Direction)
	if !ok {
		return
	}
	if hintAt.IsZero() {
		d.log.Warn("invalid early hint time, skipping delay", "symbol", rec.Symbol, "timeframe", rec.Timeframe)
		return
	}

	hintAt = hintAt.UTC()
	rec.EarlyHintTime = &hintAt
	if rec.CandleTime.IsZero() {
		d.log.Warn("invalid candle time, skipping delay", "symbol", rec.Symbol, "timeframe", rec.Timeframe)
		return
	}
	delay := round(rec.CandleTime.UTC().Sub(hintAt).Minutes(), 2)
	rec.SignalDelayMinutes = &delay
}

func bouncePnL(close, low float64) float64 {
	if low == 0 {
		return 0
	}
	return round((close-low)/low*100, 2)
}

func pullbackSuffix(pullback bool) string {
	if pullback {
		return reasonPullback
	}
	return ""
}

func stars(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("⭐", n)
}
