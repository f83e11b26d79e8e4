// Package indicator provides technical indicator calculations over candle data.
//
// All indicators implement the Indicator interface, receiving candles one at a
// time oldest-first. An indicator reports NaN until it has seen enough candles;
// NaN compares false against everything, so an undefined value can never
// satisfy a signal condition.
package indicator

import (
	"math"

	"leverage-scanner/internal/model"
)

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA_21", "RSI_14").
	Name() string

	// Update feeds the next candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current value, or NaN if not Ready.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// Source selects the candle field an indicator is computed over.
type Source func(c model.Candle) float64

// Candle field selectors.
var (
	SourceClose  Source = func(c model.Candle) float64 { return c.Close }
	SourceLow    Source = func(c model.Candle) float64 { return c.Low }
	SourceVolume Source = func(c model.Candle) float64 { return c.Volume }
)

func nan() float64 { return math.NaN() }

// window is a fixed-size circular buffer. Aggregates are recomputed from the
// buffer on read so long series do not accumulate subtraction drift.
type window struct {
	buf   []float64
	idx   int
	count int
}

func newWindow(period int) *window {
	return &window{buf: make([]float64, period)}
}

func (w *window) push(v float64) {
	if w.count < len(w.buf) {
		w.count++
	}
	w.buf[w.idx] = v
	w.idx = (w.idx + 1) % len(w.buf)
}

func (w *window) full() bool { return w.count >= len(w.buf) }

func (w *window) mean() float64 {
	sum := 0.0
	for i := 0; i < w.count; i++ {
		sum += w.buf[i]
	}
	return sum / float64(len(w.buf))
}

func (w *window) min() float64 {
	m := math.Inf(1)
	for i := 0; i < w.count; i++ {
		if w.buf[i] < m {
			m = w.buf[i]
		}
	}
	return m
}
