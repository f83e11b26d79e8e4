package model

import "time"

// Candle represents one OHLCV bar for a fixed time bucket.
// Prices are float64; order sizing converts to decimal at the execution edge.
type Candle struct {
	Time   time.Time `json:"time"` // bucket open time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Series is an oldest-first sequence of candles with strictly increasing Time.
type Series []Candle

// Last returns the candle at offset back from the end: Last(1) is the latest.
// Callers must check Len first.
func (s Series) Last(back int) Candle {
	return s[len(s)-back]
}

// Len returns the number of candles.
func (s Series) Len() int { return len(s) }

// Ordered reports whether timestamps are strictly increasing.
func (s Series) Ordered() bool {
	for i := 1; i < len(s); i++ {
		if !s[i].Time.After(s[i-1].Time) {
			return false
		}
	}
	return true
}

// Reverse returns a reversed copy, used to turn newest-first exchange rows
// into an oldest-first series.
func (s Series) Reverse() Series {
	out := make(Series, len(s))
	for i, c := range s {
		out[len(s)-1-i] = c
	}
	return out
}
