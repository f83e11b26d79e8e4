package indicator

import (
	"math"
	"strconv"

	"leverage-scanner/internal/model"
)

// ATR calculates the Average True Range as a simple rolling mean of true range.
// The first candle has no previous close, so its true range is high-low.
type ATR struct {
	period    int
	count     int
	prevClose float64
	win       *window
}

// NewATR creates a new ATR indicator with the given period (typically 14).
func NewATR(period int) *ATR {
	return &ATR{period: period, win: newWindow(period)}
}

func (a *ATR) Name() string { return "ATR_" + strconv.Itoa(a.period) }

func (a *ATR) Update(candle model.Candle) {
	a.count++
	tr := candle.High - candle.Low
	if a.count > 1 {
		tr = math.Max(tr, math.Abs(candle.High-a.prevClose))
		tr = math.Max(tr, math.Abs(candle.Low-a.prevClose))
	}
	a.prevClose = candle.Close
	a.win.push(tr)
}

func (a *ATR) Value() float64 {
	if !a.Ready() {
		return nan()
	}
	return a.win.mean()
}

func (a *ATR) Ready() bool { return a.win.full() }
