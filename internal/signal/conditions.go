package signal

import (
	"math"

	"leverage-scanner/internal/indicator"
)

// HintTimeframe is the fast timeframe whose setups are recorded as hints.
const HintTimeframe = "1m"

// MinCandles is the shortest series the detector evaluates.
const MinCandles = 10

// conditions holds every boolean and score the classifier reads. NaN inputs
// make the comparisons false, so an undefined indicator never matches.
type conditions struct {
	maxPrev float64

	breakout            bool
	emaTrend            bool
	rsiOK               bool
	proximity           bool
	pressureZone        bool
	volumeBuilding      bool
	preBreakoutPressure bool
	rsiSurge            bool
	volumeSurge         bool
	structureBuild      bool
	earlyBreakout       bool
	pullback            bool

	emaReclaim    bool
	rsiBounce     bool
	recentBottom  bool
	supportSweep  bool
	fastMover     bool
	is1mHint      bool
	momentumScore int
	bounceScore   int
}

// evaluate computes the conditions at the latest candle of f.
// The caller guarantees f.Len() >= MinCandles.
func evaluate(timeframe string, f *indicator.Frame) conditions {
	s := f.Candles
	c1, c2, c3, c4 := s.Last(1), s.Last(2), s.Last(3), s.Last(4)

	rsi := func(back int) float64 { return indicator.At(f.RSI14, back) }
	ema21 := func(back int) float64 { return indicator.At(f.EMA21, back) }

	var c conditions
	c.maxPrev = math.Max(c3.High, c2.High)

	c.breakout = c1.Close > c.maxPrev*0.995
	c.emaTrend = ema21(1) > ema21(4)
	c.rsiOK = rsi(1) > 45
	c.proximity = c1.Close >= c.maxPrev*0.98
	c.pressureZone = c1.Close > c.maxPrev*0.98
	c.volumeBuilding = c1.Volume > indicator.At(f.VolSMA5, 2)
	c.preBreakoutPressure = c.pressureZone && c.volumeBuilding
	c.rsiSurge = rsi(1)-rsi(4) > 10
	c.volumeSurge = c1.Volume > indicator.At(f.VolSMA5, 2)*1.5
	c.structureBuild = c2.Low > c3.Low && c3.Low > c4.Low

	c.earlyBreakout = c.emaTrend &&
		rsi(1) > 60 &&
		(c.proximity || c.preBreakoutPressure) &&
		(c.volumeSurge || c.rsiSurge || c.structureBuild)

	hasRecentSpike := c2.Close > indicator.At(f.CloseSMA10, 2)*1.1
	recentPullback := c1.Low < c2.Low && c1.Close > c1.Open
	bounceAfterPullback := c1.Close > c1.Open && c1.Close > c2.Close
	c.pullback = hasRecentSpike && recentPullback && bounceAfterPullback

	c.emaReclaim = c1.Close > ema21(1) && c2.Close < ema21(2)
	c.rsiBounce = rsi(1) > rsi(2) && rsi(2) < 30
	c.recentBottom = c1.Low < indicator.At(f.LowMin10, 1)*1.05
	c.bounceScore = countTrue(c.emaReclaim, c.rsiBounce, c.recentBottom)

	support := indicator.At(f.LowMin10, 2)
	rsiRecovery := rsi(1) > rsi(2) && rsi(2) < 35
	bullishEngulfing := c1.Close > c1.Open && c1.Open < c2.Close
	c.supportSweep = c1.Low < support*0.995 && c1.Close > support && (rsiRecovery || bullishEngulfing)

	c.fastMover = c1.Low > 0 && (c1.High-c1.Low)/c1.Low > 0.025

	c.is1mHint = timeframe == HintTimeframe && c.proximity && c.rsiSurge && c.volumeSurge
	c.momentumScore = countTrue(c.volumeSurge, c.rsiSurge, c.structureBuild)
	return c
}

func countTrue(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

// confirmationConfidence is min(5, 3+momentum), +1 for a pullback rebound, capped at 5.
func confirmationConfidence(momentum int, pullback bool) int {
	conf := min(5, 3+momentum)
	if pullback {
		conf++
	}
	return min(5, conf)
}

// anticipationConfidence is min(4, 2+momentum), +1 for a pullback rebound, capped at 4.
func anticipationConfidence(momentum int, pullback bool) int {
	conf := min(4, 2+momentum)
	if pullback {
		conf++
	}
	return min(4, conf)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
