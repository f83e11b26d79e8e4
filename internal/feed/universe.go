package feed

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/samber/lo"

	"leverage-scanner/internal/model"
)

// UniverseConfig selects which instruments are scanned.
type UniverseConfig struct {
	Symbols       []string `yaml:"symbols"` // static override; discovery is skipped when set
	InstType      string   `yaml:"inst_type" default:"SWAP"`
	QuoteCurrency string   `yaml:"quote_currency" default:"USDT"`
	MinVolumeUSDT float64  `yaml:"min_volume_usdt" default:"5000000" validate:"gte=0"`
}

// MarketLister lists instruments and 24h tickers.
type MarketLister interface {
	Instruments(ctx context.Context, instType string) ([]model.Instrument, error)
	Tickers(ctx context.Context) ([]model.Ticker, error)
}

// Universe discovers the liquid, live swaps to scan.
type Universe struct {
	cfg UniverseConfig
	src MarketLister
	log *slog.Logger
}

// NewUniverse creates a universe source.
func NewUniverse(cfg UniverseConfig, src MarketLister) *Universe {
	return &Universe{
		cfg: cfg,
		src: src,
		log: slog.Default().With("component", "universe"),
	}
}

// Symbols returns the sorted symbols to scan this cycle.
func (u *Universe) Symbols(ctx context.Context) ([]string, error) {
	if len(u.cfg.Symbols) > 0 {
		syms := lo.Uniq(lo.Map(u.cfg.Symbols, func(s string, _ int) string {
			return strings.ToUpper(strings.TrimSpace(s))
		}))
		sort.Strings(syms)
		return syms, nil
	}

	insts, err := u.src.Instruments(ctx, u.cfg.InstType)
	if err != nil {
		return nil, err
	}
	tickers, err := u.src.Tickers(ctx)
	if err != nil {
		return nil, err
	}

	volume := lo.SliceToMap(tickers, func(t model.Ticker) (string, float64) {
		return strings.ToUpper(t.InstID), t.VolCurrency24h
	})

	eligible := lo.Filter(insts, func(in model.Instrument, _ int) bool {
		return strings.EqualFold(in.InstType, u.cfg.InstType) &&
			strings.EqualFold(in.QuoteCurrency, u.cfg.QuoteCurrency) &&
			in.Live() &&
			volume[in.InstID] >= u.cfg.MinVolumeUSDT
	})

	syms := lo.Uniq(lo.Map(eligible, func(in model.Instrument, _ int) string { return in.InstID }))
	sort.Strings(syms)

	u.log.Info("universe discovered", "instruments", len(insts), "eligible", len(syms), "min_volume", u.cfg.MinVolumeUSDT)
	return syms, nil
}
