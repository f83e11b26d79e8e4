package model

import "github.com/shopspring/decimal"

// Instrument is a tradeable perpetual swap listed by the exchange.
type Instrument struct {
	InstID        string          `json:"instId"`
	InstType      string          `json:"instType"`      // SWAP
	BaseCurrency  string          `json:"baseCurrency"`
	QuoteCurrency string          `json:"quoteCurrency"` // USDT
	State         string          `json:"state"`         // live, suspend
	MinSize       decimal.Decimal `json:"minSize"`       // minimum lot
}

// Live reports whether the instrument is currently tradeable.
func (i *Instrument) Live() bool {
	return i.State == "live"
}

// Ticker is a 24h market summary used for universe filtering.
type Ticker struct {
	InstID         string  `json:"instId"`
	Last           float64 `json:"last"`
	VolCurrency24h float64 `json:"volCurrency24h"`
}
