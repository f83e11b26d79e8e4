// Package execution places signed market orders on BloFin and attaches a
// take-profit/stop-loss bracket to every fill.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/shopspring/decimal"

	"leverage-scanner/internal/exchange"
	"leverage-scanner/internal/model"
)

// Config configures order placement.
type Config struct {
	Enabled       bool          `yaml:"enabled"`
	MinConfidence int           `yaml:"min_confidence" default:"4" validate:"min=1,max=5"`
	MarginMode    string        `yaml:"margin_mode" default:"cross" validate:"oneof=cross isolated"`
	Leverage      string        `yaml:"leverage" default:"10" validate:"numeric"`
	SettleDelay   time.Duration `yaml:"settle_delay" default:"2s"`
	InstrumentTTL time.Duration `yaml:"instrument_ttl" default:"1h"`
	Sizing        SizingConfig  `yaml:"sizing"`
}

// DefaultConfig returns cross margin at 10x committing 20% of 100 USDT.
func DefaultConfig() Config {
	return Config{
		MinConfidence: 4,
		MarginMode:    "cross",
		Leverage:      "10",
		SettleDelay:   2 * time.Second,
		InstrumentTTL: time.Hour,
		Sizing:        SizingConfig{Capital: 100, Allocation: 0.2},
	}
}

type orderBody struct {
	InstID     string `json:"instId"`
	MarginMode string `json:"marginMode"`
	Side       string `json:"side"`
	OrderType  string `json:"orderType"`
	Size       string `json:"size"`
}

type tpslBody struct {
	InstID         string `json:"instId"`
	MarginMode     string `json:"marginMode"`
	PositionSide   string `json:"positionSide"`
	Side           string `json:"side"`
	TPTriggerPrice string `json:"tpTriggerPrice"`
	TPOrderPrice   string `json:"tpOrderPrice"`
	SLTriggerPrice string `json:"slTriggerPrice"`
	SLOrderPrice   string `json:"slOrderPrice"`
	Size           string `json:"size"`
	ReduceOnly     string `json:"reduceOnly"`
}

type orderAck struct {
	OrderID   string `json:"orderId"`
	FillPrice string `json:"fillPrice"`
	Code      string `json:"code"`
	Msg       string `json:"msg"`
}

type orderDetail struct {
	OrderID string `json:"orderId"`
	State   string `json:"state"`
}

// Client submits orders. At most one submission per instrument is in flight.
type Client struct {
	cfg         Config
	api         *exchange.Client
	instruments *InstrumentCache
	sizer       *Sizer
	leverage    decimal.Decimal
	log         *slog.Logger

	mu   sync.Mutex
	sems map[string]chan struct{}

	// Sleep waits out the settle delay. Replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates an execution client over api.
func NewClient(cfg Config, api *exchange.Client) *Client {
	lev, err := decimal.NewFromString(cfg.Leverage)
	if err != nil {
		lev = decimal.NewFromInt(10)
	}
	return &Client{
		cfg:         cfg,
		api:         api,
		instruments: NewInstrumentCache(api, cfg.InstrumentTTL),
		sizer:       NewSizer(cfg.Sizing),
		leverage:    lev,
		log:         slog.Default().With("component", "execution"),
		sems:        make(map[string]chan struct{}),
		Sleep:       sleepCtx,
	}
}

// Instruments exposes the instrument cache.
func (c *Client) Instruments() *InstrumentCache { return c.instruments }

// Submit places a market order, polls its state and attaches the bracket.
//
// An exchange rejection is returned as an OrderResult with Status "rejected"
// and a nil error. Errors are reserved for conditions the caller must
// classify with exchange.KindOf: TokenNotSupported, Signing, Network and
// Data(unavailable).
func (c *Client) Submit(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	req = c.normalize(req)

	release, err := c.acquire(ctx, req.InstID)
	if err != nil {
		return model.OrderResult{}, err
	}
	defer release()

	minLot, err := c.instruments.MinLot(ctx, req.InstID)
	if err != nil {
		c.log.Log(ctx, exchange.PolicyFor(exchange.KindOf(err)).LogLevel, "order skipped", "inst_id", req.InstID, "err", err)
		return model.OrderResult{}, err
	}

	size, err := c.size(req, minLot)
	if err != nil {
		return model.OrderResult{}, err
	}

	body, err := json.Marshal(orderBody{
		InstID:     req.InstID,
		MarginMode: req.MarginMode,
		Side:       req.Side,
		OrderType:  "market",
		Size:       size.String(),
	})
	if err != nil {
		return model.OrderResult{}, fmt.Errorf("encode order: %w", err)
	}

	// Nothing has been signed yet; honour cancellation here and nowhere after.
	if err := ctx.Err(); err != nil {
		return model.OrderResult{}, err
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lifecycleTimeout())
	defer cancel()

	submittedAt := time.Now().UTC()
	resp, err := exchange.Private[[]orderAck](lctx, c.api, http.MethodPost, "/trade/order", nil, body, 1)
	if err != nil {
		c.log.Log(ctx, exchange.PolicyFor(exchange.KindOf(err)).LogLevel, "order submission failed", "inst_id", req.InstID, "err", err)
		return model.OrderResult{}, err
	}

	result := model.OrderResult{
		InstID:      req.InstID,
		Side:        req.Side,
		Size:        size,
		SubmittedAt: submittedAt,
	}

	if rejected, code, msg := rejection(resp); rejected {
		result.Status = model.OrderStatusRejected
		result.ExchangeCode = code
		result.Message = msg
		result.EntryPrice = req.Price
		c.log.Log(ctx, exchange.PolicyFor(exchange.KindOrderRejected).LogLevel, "order rejected",
			"inst_id", req.InstID, "side", req.Side, "size", size.String(), "code", code, "msg", msg)
		return result, nil
	}

	ack := resp.Data[0]
	result.OrderID = ack.OrderID
	result.EntryPrice = req.Price
	if fill, err := decimal.NewFromString(ack.FillPrice); err == nil && fill.IsPositive() {
		result.EntryPrice = fill
	}
	result.TPPrice, result.SLPrice = BracketPrices(result.EntryPrice)
	result.Status = model.OrderStatusPlaced

	c.log.Info("order placed", "order_id", result.OrderID, "inst_id", req.InstID,
		"side", req.Side, "size", size.String(), "entry", result.EntryPrice.String())

	if err := c.Sleep(lctx, c.cfg.SettleDelay); err != nil {
		c.log.Warn("settle wait interrupted", "order_id", result.OrderID, "err", err)
	}
	result.OrderState = c.orderState(lctx, result.OrderID)

	if err := c.placeBracket(lctx, req, result); err != nil {
		result.BracketError = err.Error()
		c.log.Warn("bracket placement failed", "order_id", result.OrderID, "inst_id", req.InstID, "err", err)
	} else {
		c.log.Info("bracket placed", "order_id", result.OrderID,
			"tp", result.TPPrice.String(), "sl", result.SLPrice.String())
	}
	return result, nil
}

func (c *Client) normalize(req model.OrderRequest) model.OrderRequest {
	req.InstID = strings.ToUpper(strings.TrimSpace(req.InstID))
	if req.MarginMode == "" {
		req.MarginMode = c.cfg.MarginMode
	}
	if req.Leverage == "" {
		req.Leverage = c.cfg.Leverage
	}
	return req
}

func (c *Client) size(req model.OrderRequest, minLot decimal.Decimal) (decimal.Decimal, error) {
	if req.Size.IsPositive() {
		return FloorToLot(req.Size, minLot), nil
	}
	lev := c.leverage
	if l, err := decimal.NewFromString(req.Leverage); err == nil {
		lev = l
	}
	return c.sizer.Size(lev, req.Price, minLot)
}

// orderState polls the order's state once after the settle delay. Failures
// are logged and leave the state empty.
func (c *Client) orderState(ctx context.Context, orderID string) string {
	q := url.Values{}
	q.Set("ordId", orderID)
	resp, err := exchange.Private[[]orderDetail](ctx, c.api, http.MethodGet, "/trade/order/details", q, nil, 1)
	if err != nil {
		c.log.Warn("order status poll failed", "order_id", orderID, "err", err)
		return ""
	}
	if !resp.OK() || len(resp.Data) == 0 {
		c.log.Warn("order status unavailable", "order_id", orderID, "code", resp.Code, "msg", resp.Msg)
		return ""
	}
	return resp.Data[0].State
}

func (c *Client) placeBracket(ctx context.Context, req model.OrderRequest, res model.OrderResult) error {
	positionSide := "short"
	if req.Side == model.SideBuy {
		positionSide = "long"
	}
	body, err := json.Marshal(tpslBody{
		InstID:         req.InstID,
		MarginMode:     req.MarginMode,
		PositionSide:   positionSide,
		Side:           req.Side,
		TPTriggerPrice: res.TPPrice.String(),
		TPOrderPrice:   "-1",
		SLTriggerPrice: res.SLPrice.String(),
		SLOrderPrice:   "-1",
		Size:           res.Size.String(),
		ReduceOnly:     "true",
	})
	if err != nil {
		return fmt.Errorf("encode bracket: %w", err)
	}

	resp, err := exchange.Private[[]orderAck](ctx, c.api, http.MethodPost, "/trade/order-tpsl", nil, body, 1)
	if err != nil {
		return err
	}
	if rejected, code, msg := rejection(resp); rejected {
		return &exchange.Error{Kind: exchange.KindOrderRejected, Reason: msg, Op: "POST /trade/order-tpsl", Err: fmt.Errorf("code %s", code)}
	}
	return nil
}

// rejection reports whether the envelope or its first item carries a
// non-zero code, or no data at all.
func rejection(resp exchange.Response[[]orderAck]) (bool, string, string) {
	if !resp.OK() {
		return true, resp.Code, resp.Msg
	}
	if len(resp.Data) == 0 {
		return true, resp.Code, "empty order response"
	}
	if d := resp.Data[0]; d.Code != "" && d.Code != "0" {
		return true, d.Code, d.Msg
	}
	if resp.Data[0].OrderID == "" {
		return true, resp.Code, "no order id returned"
	}
	return false, "", ""
}

// acquire takes the per-instrument submission slot.
func (c *Client) acquire(ctx context.Context, instID string) (func(), error) {
	c.mu.Lock()
	sem, ok := c.sems[instID]
	if !ok {
		sem = make(chan struct{}, 1)
		c.sems[instID] = sem
	}
	c.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lifecycleTimeout bounds submit, settle, status and bracket once the order
// has been sent.
func (c *Client) lifecycleTimeout() time.Duration {
	return c.cfg.SettleDelay + 3*c.api.Timeout()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
