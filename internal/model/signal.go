package model

import (
	"time"

	"github.com/bytedance/sonic"
)

// Label types, strongest first.
const (
	LabelConfirmation = "confirmation"
	LabelAnticipation = "anticipation"
	LabelHint         = "hint"
)

// DirectionLong is the only direction the detector emits.
const DirectionLong = "long"

// SignalRecord is the single shape of a detected setup. Fields that only some
// labels carry are pointers and stay nil when not applicable.
type SignalRecord struct {
	Symbol          string    `json:"symbol"`
	Timeframe       string    `json:"timeframe"`
	Direction       string    `json:"direction"`
	LabelType       string    `json:"label_type"`
	Confidence      int       `json:"confidence"`
	ConfidenceStars string    `json:"confidence_stars"`
	Reason          string    `json:"reason"`
	CandleTime      time.Time `json:"candle_time"`

	// Snapshot of the latest candle and indicators.
	Price float64 `json:"price"`
	RSI   float64 `json:"rsi"`
	EMA21 float64 `json:"ema21"`
	EMA50 float64 `json:"ema50"`

	MomentumScore         int      `json:"momentum_score"`
	PriceFromBreakoutPct  *float64 `json:"price_from_breakout_pct,omitempty"`
	EMAAlignment          *float64 `json:"ema_alignment,omitempty"`
	BottomBounceScore     int      `json:"bottom_bounce_score"`
	RSIBounceSignal       bool     `json:"rsi_bounce_signal"`
	EMAReclaim            bool     `json:"ema_reclaim"`
	SimulatedBouncePnLPct float64  `json:"simulated_bounce_pnl_pct"`
	SupportSweepReversal  bool     `json:"support_sweep_reversal"`
	FastMover             bool     `json:"fast_mover"`
	SignalAgeMinutes      float64  `json:"signal_age_minutes"`

	Is1mHint           bool       `json:"is_1m_hint"`
	EarlyHintTime      *time.Time `json:"early_hint_time,omitempty"`
	SignalDelayMinutes *float64   `json:"signal_delay_minutes,omitempty"`
}

// Key returns "symbol:timeframe".
func (r *SignalRecord) Key() string {
	return r.Symbol + ":" + r.Timeframe
}

// JSON returns the JSON-encoded record (ignoring errors for hot-path usage).
func (r *SignalRecord) JSON() []byte {
	b, _ := sonic.Marshal(r)
	return b
}

// Side maps the signal direction to an order side.
func (r *SignalRecord) Side() string {
	if r.Direction == DirectionLong {
		return SideBuy
	}
	return SideSell
}
