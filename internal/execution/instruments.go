package execution

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"leverage-scanner/internal/exchange"
	"leverage-scanner/internal/model"
)

// InstrumentLister lists the swaps the trading venue accepts.
type InstrumentLister interface {
	TradableInstruments(ctx context.Context) ([]model.Instrument, error)
}

// InstrumentCache maps INSTID → minimum lot and refreshes at most once per TTL.
type InstrumentCache struct {
	src InstrumentLister
	ttl time.Duration
	log *slog.Logger
	now func() time.Time

	mu        sync.Mutex
	lots      map[string]decimal.Decimal
	fetchedAt time.Time
}

// NewInstrumentCache creates a cache over src. A non-positive ttl defaults to 1h.
func NewInstrumentCache(src InstrumentLister, ttl time.Duration) *InstrumentCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &InstrumentCache{
		src: src,
		ttl: ttl,
		log: slog.Default().With("component", "instruments"),
		now: time.Now,
	}
}

// MinLot returns the minimum order size for instID.
//
// Errors:
//   - KindTokenNotSupported when the venue does not list instID.
//   - KindNetwork when the list could not be loaded and nothing is cached.
func (c *InstrumentCache) MinLot(ctx context.Context, instID string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lots == nil || c.now().Sub(c.fetchedAt) >= c.ttl {
		if err := c.refreshLocked(ctx); err != nil {
			if len(c.lots) == 0 {
				return decimal.Zero, &exchange.Error{Kind: exchange.KindNetwork, Op: "load instruments", Err: err}
			}
			c.log.Warn("instrument refresh failed, using cached list", "cached", len(c.lots), "err", err)
		}
	}

	lot, ok := c.lots[strings.ToUpper(instID)]
	if !ok {
		return decimal.Zero, &exchange.Error{Kind: exchange.KindTokenNotSupported, Reason: instID, Op: "submit order"}
	}
	return lot, nil
}

func (c *InstrumentCache) refreshLocked(ctx context.Context) error {
	insts, err := c.src.TradableInstruments(ctx)
	if err != nil {
		return err
	}
	lots := make(map[string]decimal.Decimal, len(insts))
	for _, in := range insts {
		lot := in.MinSize
		if !lot.IsPositive() {
			lot = DefaultMinLot
		}
		lots[strings.ToUpper(in.InstID)] = lot
	}
	c.lots = lots
	c.fetchedAt = c.now()
	c.log.Info("instrument cache refreshed", "count", len(lots))
	return nil
}

// Len returns the number of cached instruments.
func (c *InstrumentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lots)
}
