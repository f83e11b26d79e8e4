package indicator

import (
	"strconv"

	"leverage-scanner/internal/model"
)

// SMA calculates a Simple Moving Average over a rolling window of any candle field.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMA struct {
	name   string
	period int
	source Source
	win    *window
}

// NewSMA creates a new SMA over the given candle field.
func NewSMA(name string, period int, source Source) *SMA {
	return &SMA{
		name:   name,
		period: period,
		source: source,
		win:    newWindow(period),
	}
}

func (s *SMA) Name() string { return s.name + "_" + strconv.Itoa(s.period) }

func (s *SMA) Update(candle model.Candle) {
	s.win.push(s.source(candle))
}

func (s *SMA) Value() float64 {
	if !s.Ready() {
		return nan()
	}
	return s.win.mean()
}

func (s *SMA) Ready() bool { return s.win.full() }

// RollingMin tracks the minimum of a candle field over a rolling window.
type RollingMin struct {
	name   string
	period int
	source Source
	win    *window
}

// NewRollingMin creates a rolling minimum over the given candle field.
func NewRollingMin(name string, period int, source Source) *RollingMin {
	return &RollingMin{
		name:   name,
		period: period,
		source: source,
		win:    newWindow(period),
	}
}

func (m *RollingMin) Name() string { return m.name + "_" + strconv.Itoa(m.period) }

func (m *RollingMin) Update(candle model.Candle) {
	m.win.push(m.source(candle))
}

func (m *RollingMin) Value() float64 {
	if !m.Ready() {
		return nan()
	}
	return m.win.min()
}

func (m *RollingMin) Ready() bool { return m.win.full() }
