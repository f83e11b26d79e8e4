package indicator

import (
	"strconv"

	"leverage-scanner/internal/model"
)

// EMA calculates an Exponential Moving Average over close prices.
// It is seeded with the first close and uses the recursive form
// EMA = price*k + EMA_prev*(1-k), so it is defined from the first candle.
// O(1) per update; no window storage needed.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a new EMA indicator with the given span.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA_" + strconv.Itoa(e.period) }

func (e *EMA) Update(candle model.Candle) {
	price := candle.Close
	e.count++
	if e.count == 1 {
		e.current = price
		return
	}
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 {
	if !e.Ready() {
		return nan()
	}
	return e.current
}

func (e *EMA) Ready() bool { return e.count > 0 }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
}
