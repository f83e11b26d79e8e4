package indicator

import (
	"strconv"

	"leverage-scanner/internal/model"
)

// RSI calculates the Relative Strength Index from simple rolling means of
// close-to-close gains and losses over period deltas.
// Update is O(1) per candle: gains and losses live in circular buffers.
type RSI struct {
	period    int
	count     int
	prevClose float64
	gains     *window
	losses    *window
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{
		period: period,
		gains:  newWindow(period),
		losses: newWindow(period),
	}
}

func (r *RSI) Name() string { return "RSI_" + strconv.Itoa(r.period) }

func (r *RSI) Update(candle model.Candle) {
	price := candle.Close
	r.count++

	if r.count == 1 {
		// First candle: record price, no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.gains.push(gain)
	r.losses.push(loss)
}

// Value returns the RSI in [0,100], or NaN before period deltas exist.
// A window with no losses reads 100; a window with no movement at all reads 50.
func (r *RSI) Value() float64 {
	if !r.Ready() {
		return nan()
	}
	return rsiFrom(r.gains.mean(), r.losses.mean())
}

func (r *RSI) Ready() bool { return r.gains.full() }

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
