package indicator

import (
	"leverage-scanner/internal/model"
)

// Config specifies the window of every column the engine computes.
type Config struct {
	EMAFast   int `yaml:"ema_fast" default:"21" validate:"gte=1"`
	EMASlow   int `yaml:"ema_slow" default:"50" validate:"gte=1"`
	RSI       int `yaml:"rsi" default:"14" validate:"gte=1"`
	ATR       int `yaml:"atr" default:"14" validate:"gte=1"`
	VolumeSMA int `yaml:"volume_sma" default:"5" validate:"gte=1"`
	CloseSMA  int `yaml:"close_sma" default:"10" validate:"gte=1"`
	LowMin    int `yaml:"low_min" default:"10" validate:"gte=1"`
}

// DefaultConfig returns the windows the detector's conditions are tuned for.
func DefaultConfig() Config {
	return Config{
		EMAFast:   21,
		EMASlow:   50,
		RSI:       14,
		ATR:       14,
		VolumeSMA: 5,
		CloseSMA:  10,
		LowMin:    10,
	}
}

// Frame holds a series and one value per candle for every indicator column.
// Columns are aligned with Candles; undefined entries are NaN.
type Frame struct {
	Candles    model.Series
	EMA21      []float64
	EMA50      []float64
	RSI14      []float64
	ATR14      []float64
	VolSMA5    []float64
	CloseSMA10 []float64
	LowMin10   []float64
}

// Len returns the number of candles in the frame.
func (f *Frame) Len() int { return len(f.Candles) }

// At returns col[len-back]; At(col, 1) is the latest value.
func At(col []float64, back int) float64 {
	return col[len(col)-back]
}

// Engine computes a Frame from a series. It holds no state between calls,
// so one Engine is safe to share across goroutines.
type Engine struct {
	cfg Config
}

// NewEngine creates an indicator engine with the given windows.
// A window below 1 falls back to its default.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	for _, w := range []struct{ got, fallback *int }{
		{&cfg.EMAFast, &def.EMAFast},
		{&cfg.EMASlow, &def.EMASlow},
		{&cfg.RSI, &def.RSI},
		{&cfg.ATR, &def.ATR},
		{&cfg.VolumeSMA, &def.VolumeSMA},
		{&cfg.CloseSMA, &def.CloseSMA},
		{&cfg.LowMin, &def.LowMin},
	} {
		if *w.got < 1 {
			*w.got = *w.fallback
		}
	}
	return &Engine{cfg: cfg}
}

// Compute runs every indicator over the series oldest-first in one pass.
func (e *Engine) Compute(series model.Series) *Frame {
	n := len(series)
	f := &Frame{
		Candles:    series,
		EMA21:      make([]float64, n),
		EMA50:      make([]float64, n),
		RSI14:      make([]float64, n),
		ATR14:      make([]float64, n),
		VolSMA5:    make([]float64, n),
		CloseSMA10: make([]float64, n),
		LowMin10:   make([]float64, n),
	}

	columns := []struct {
		ind Indicator
		out []float64
	}{
		{NewEMA(e.cfg.EMAFast), f.EMA21},
		{NewEMA(e.cfg.EMASlow), f.EMA50},
		{NewRSI(e.cfg.RSI), f.RSI14},
		{NewATR(e.cfg.ATR), f.ATR14},
		{NewSMA("VOL_SMA", e.cfg.VolumeSMA, SourceVolume), f.VolSMA5},
		{NewSMA("CLOSE_SMA", e.cfg.CloseSMA, SourceClose), f.CloseSMA10},
		{NewRollingMin("LOW_MIN", e.cfg.LowMin, SourceLow), f.LowMin10},
	}

	for i, c := range series {
		for _, col := range columns {
			col.ind.Update(c)
			col.out[i] = col.ind.Value()
		}
	}
	return f
}
