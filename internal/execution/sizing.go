package execution

import (
	"fmt"

	"github.com/shopspring/decimal"

	"leverage-scanner/internal/exchange"
)

// DefaultMinLot applies when an instrument reports no minimum size.
var DefaultMinLot = decimal.RequireFromString("0.001")

// SizingConfig controls how much capital each order commits.
type SizingConfig struct {
	Capital    float64 `yaml:"capital" default:"100" validate:"gt=0"`       // account capital in quote currency
	Allocation float64 `yaml:"allocation" default:"0.2" validate:"gt=0,lte=1"` // share of capital per trade
}

// Sizer turns capital, leverage and price into an exchange-valid order size.
type Sizer struct {
	capital    decimal.Decimal
	allocation decimal.Decimal
}

// NewSizer creates a sizer from config.
func NewSizer(cfg SizingConfig) *Sizer {
	return &Sizer{
		capital:    decimal.NewFromFloat(cfg.Capital),
		allocation: decimal.NewFromFloat(cfg.Allocation),
	}
}

// Size returns max(minLot, raw - raw mod minLot) where
// raw = capital × allocation × leverage / price.
func (s *Sizer) Size(leverage, price, minLot decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, exchange.DataError("size order", exchange.ReasonMalformed, fmt.Errorf("price %s must be positive", price))
	}
	if !leverage.IsPositive() {
		return decimal.Zero, exchange.DataError("size order", exchange.ReasonMalformed, fmt.Errorf("leverage %s must be positive", leverage))
	}
	notional := s.capital.Mul(s.allocation).Mul(leverage)
	return FloorToLot(notional.Div(price), minLot), nil
}

// FloorToLot rounds size down to a whole multiple of minLot, never below minLot.
func FloorToLot(size, minLot decimal.Decimal) decimal.Decimal {
	if !minLot.IsPositive() {
		minLot = DefaultMinLot
	}
	floored := size.Sub(size.Mod(minLot))
	if floored.LessThan(minLot) {
		return minLot
	}
	return floored
}

// BracketPrices returns take-profit at +2% and stop-loss at -2% of the
// fill, both rounded to 6 decimals.
func BracketPrices(fill decimal.Decimal) (tp, sl decimal.Decimal) {
	tp = fill.Mul(decimal.RequireFromString("1.02")).Round(6)
	sl = fill.Mul(decimal.RequireFromString("0.98")).Round(6)
	return tp, sl
}
