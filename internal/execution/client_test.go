package execution

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage-scanner/internal/exchange"
	"leverage-scanner/internal/model"
)

var testCreds = exchange.Credentials{APIKey: "key", SecretKey: "secret", Passphrase: "pass"}

// fakeVenue is an httptest exchange that records every request.
type fakeVenue struct {
	t  *testing.T
	mu sync.Mutex

	instrumentsStatus int
	orderResponse     string
	tpslResponse      string
	detailsResponse   string
	detailsStatus     int

	paths      []string
	orderBody  string
	tpslBody   map[string]string
	signatures map[string]bool
}

func newFakeVenue(t *testing.T) *fakeVenue {
	return &fakeVenue{
		t:                 t,
		instrumentsStatus: http.StatusOK,
		orderResponse:     `{"code":"0","msg":"","data":[{"orderId":"1001","clientOrderId":"","fillPrice":"50100","code":"0","msg":"success"}]}`,
		tpslResponse:      `{"code":"0","msg":"","data":[{"orderId":"2001","code":"0","msg":"success"}]}`,
		detailsResponse:   `{"code":"0","msg":"","data":[{"orderId":"1001","state":"filled"}]}`,
		signatures:        map[string]bool{},
	}
}

func (v *fakeVenue) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/market/instruments", func(w http.ResponseWriter, r *http.Request) {
		v.record(r, nil)
		if v.instrumentsStatus != http.StatusOK {
			w.WriteHeader(v.instrumentsStatus)
			return
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[
			{"instId":"BTC-USDT","instType":"SWAP","quoteCurrency":"USDT","state":"live","minSize":"0.001"},
			{"instId":"ETH-USDT","instType":"SWAP","quoteCurrency":"USDT","state":"live","minSize":"0.01"}]}`))
	})
	mux.HandleFunc("/api/v1/trade/order", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		v.record(r, body)
		v.mu.Lock()
		v.orderBody = string(body)
		v.mu.Unlock()
		w.Write([]byte(v.orderResponse))
	})
	mux.HandleFunc("/api/v1/trade/order/details", func(w http.ResponseWriter, r *http.Request) {
		v.record(r, nil)
		if v.detailsStatus != 0 {
			w.WriteHeader(v.detailsStatus)
			return
		}
		w.Write([]byte(v.detailsResponse))
	})
	mux.HandleFunc("/api/v1/trade/order-tpsl", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		v.record(r, body)
		var m map[string]string
		assert.NoError(v.t, json.Unmarshal(body, &m))
		v.mu.Lock()
		v.tpslBody = m
		v.mu.Unlock()
		w.Write([]byte(v.tpslResponse))
	})
	return mux
}

// record notes the path and checks the signature of private calls.
func (v *fakeVenue) record(r *http.Request, body []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paths = append(v.paths, r.URL.Path)
	if sig := r.Header.Get("ACCESS-SIGN"); sig != "" {
		want := exchange.Sign(testCreds.SecretKey, r.URL.RequestURI(), r.Method,
			r.Header.Get("ACCESS-TIMESTAMP"), r.Header.Get("ACCESS-NONCE"), body)
		v.signatures[r.URL.Path] = sig == want
	}
}

func (v *fakeVenue) hits(path string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, p := range v.paths {
		if p == path {
			n++
		}
	}
	return n
}

func newTestExecution(t *testing.T, v *fakeVenue, creds exchange.Credentials) *Client {
	t.Helper()
	srv := httptest.NewServer(v.handler())
	t.Cleanup(srv.Close)

	cfg := exchange.DefaultConfig()
	cfg.MarketURL = srv.URL
	cfg.TradeURL = srv.URL
	api := exchange.NewClient(cfg, creds)
	api.Retrier().Sleep = func(context.Context, time.Duration) error { return nil }

	c := NewClient(DefaultConfig(), api)
	c.Sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func buy(inst string, price string) model.OrderRequest {
	return model.OrderRequest{InstID: inst, Side: model.SideBuy, Price: decimal.RequireFromString(price)}
}

func TestSubmit_PlacesOrderAndBracket(t *testing.T) {
	v := newFakeVenue(t)
	c := newTestExecution(t, v, testCreds)

	res, err := c.Submit(context.Background(), buy("btc-usdt", "50000"))
	require.NoError(t, err)

	assert.Equal(t, model.OrderStatusPlaced, res.Status)
	assert.Equal(t, "1001", res.OrderID)
	assert.Equal(t, "BTC-USDT", res.InstID)
	assert.Equal(t, "0.004", res.Size.String())
	assert.Equal(t, "50100", res.EntryPrice.String())
	assert.Equal(t, "51102", res.TPPrice.String())
	assert.Equal(t, "49098", res.SLPrice.String())
	assert.Equal(t, "filled", res.OrderState)
	assert.Empty(t, res.BracketError)

	assert.Equal(t, `{"instId":"BTC-USDT","marginMode":"cross","side":"buy","orderType":"market","size":"0.004"}`, v.orderBody)
	assert.Equal(t, map[string]string{
		"instId":         "BTC-USDT",
		"marginMode":     "cross",
		"positionSide":   "long",
		"side":           "buy",
		"tpTriggerPrice": "51102",
		"tpOrderPrice":   "-1",
		"slTriggerPrice": "49098",
		"slOrderPrice":   "-1",
		"size":           "0.004",
		"reduceOnly":     "true",
	}, v.tpslBody)

	for _, p := range []string{"/api/v1/trade/order", "/api/v1/trade/order/details", "/api/v1/trade/order-tpsl"} {
		assert.True(t, v.signatures[p], "bad signature on %s", p)
	}
}

func TestSubmit_FillPriceFallsBackToRequested(t *testing.T) {
	v := newFakeVenue(t)
	v.orderResponse = `{"code":"0","msg":"","data":[{"orderId":"1002","code":"0","msg":""}]}`
	c := newTestExecution(t, v, testCreds)

	res, err := c.Submit(context.Background(), buy("BTC-USDT", "0.123457"))
	require.NoError(t, err)
	assert.Equal(t, "0.123457", res.EntryPrice.String())
	assert.Equal(t, "0.125926", res.TPPrice.String())
	assert.Equal(t, "0.120988", res.SLPrice.String())
}

func TestSubmit_RejectionIsDataNotError(t *testing.T) {
	v := newFakeVenue(t)
	v.orderResponse = `{"code":"102015","msg":"Insufficient balance","data":[]}`
	c := newTestExecution(t, v, testCreds)

	res, err := c.Submit(context.Background(), buy("BTC-USDT", "50000"))
	require.NoError(t, err)
	assert.True(t, res.Rejected())
	assert.Equal(t, "102015", res.ExchangeCode)
	assert.Equal(t, "Insufficient balance", res.Message)
	assert.Zero(t, v.hits("/api/v1/trade/order/details"))
	assert.Zero(t, v.hits("/api/v1/trade/order-tpsl"))
}

func TestSubmit_ItemLevelRejection(t *testing.T) {
	v := newFakeVenue(t)
	v.orderResponse = `{"code":"0","msg":"","data":[{"orderId":"","code":"103003","msg":"Order size too small"}]}`
	c := newTestExecution(t, v, testCreds)

	res, err := c.Submit(context.Background(), buy("BTC-USDT", "50000"))
	require.NoError(t, err)
	assert.True(t, res.Rejected())
	assert.Equal(t, "103003", res.ExchangeCode)
}

func TestSubmit_UnknownInstrumentIsTokenNotSupported(t *testing.T) {
	v := newFakeVenue(t)
	c := newTestExecution(t, v, testCreds)

	_, err := c.Submit(context.Background(), buy("PEPE-USDT", "0.00001"))
	require.Error(t, err)
	assert.Equal(t, exchange.KindTokenNotSupported, exchange.KindOf(err))
	assert.Zero(t, v.hits("/api/v1/trade/order"))
}

func TestSubmit_InstrumentOutageIsNetworkError(t *testing.T) {
	v := newFakeVenue(t)
	v.instrumentsStatus = http.StatusBadGateway
	c := newTestExecution(t, v, testCreds)

	_, err := c.Submit(context.Background(), buy("BTC-USDT", "50000"))
	require.Error(t, err)
	assert.Equal(t, exchange.KindNetwork, exchange.KindOf(err))
	assert.NotEqual(t, exchange.KindTokenNotSupported, exchange.KindOf(err))
	assert.Zero(t, v.hits("/api/v1/trade/order"))
}

func TestSubmit_MissingCredentialsIsSigningError(t *testing.T) {
	v := newFakeVenue(t)
	c := newTestExecution(t, v, exchange.Credentials{APIKey: "key"})

	_, err := c.Submit(context.Background(), buy("BTC-USDT", "50000"))
	require.Error(t, err)
	assert.Equal(t, exchange.KindSigning, exchange.KindOf(err))
	assert.Zero(t, v.hits("/api/v1/trade/order"))
}

func TestSubmit_CancelledContextSendsNothing(t *testing.T) {
	v := newFakeVenue(t)
	c := newTestExecution(t, v, testCreds)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Submit(ctx, buy("BTC-USDT", "50000"))
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Zero(t, v.hits("/api/v1/trade/order"))
}

func TestSubmit_BracketFailureKeepsOrder(t *testing.T) {
	v := newFakeVenue(t)
	v.tpslResponse = `{"code":"102002","msg":"position not found","data":[]}`
	c := newTestExecution(t, v, testCreds)

	res, err := c.Submit(context.Background(), buy("BTC-USDT", "50000"))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPlaced, res.Status)
	assert.Contains(t, res.BracketError, "position not found")
}

func TestSubmit_StatusPolledOnce(t *testing.T) {
	v := newFakeVenue(t)
	v.detailsStatus = http.StatusBadGateway
	c := newTestExecution(t, v, testCreds)

	res, err := c.Submit(context.Background(), buy("BTC-USDT", "50000"))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPlaced, res.Status)
	assert.Empty(t, res.OrderState)
	assert.Equal(t, 1, v.hits("/api/v1/trade/order/details"))
	assert.Equal(t, 1, v.hits("/api/v1/trade/order-tpsl"), "bracket still placed")
}

func TestSubmit_ExplicitSizeFlooredToLot(t *testing.T) {
	v := newFakeVenue(t)
	c := newTestExecution(t, v, testCreds)

	req := buy("ETH-USDT", "3000")
	req.Size = decimal.RequireFromString("0.057")
	res, err := c.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "0.05", res.Size.String())
	assert.Contains(t, v.orderBody, `"size":"0.05"`)
}

func TestSubmit_SellBracketIsShort(t *testing.T) {
	v := newFakeVenue(t)
	c := newTestExecution(t, v, testCreds)

	req := buy("BTC-USDT", "50000")
	req.Side = model.SideSell
	_, err := c.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "short", v.tpslBody["positionSide"])
	assert.Equal(t, "sell", v.tpslBody["side"])
}

func TestAcquire_OneSubmissionPerInstrument(t *testing.T) {
	c := NewClient(DefaultConfig(), exchange.NewClient(exchange.DefaultConfig(), testCreds))

	release, err := c.acquire(context.Background(), "BTC-USDT")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.acquire(ctx, "BTC-USDT")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := c.acquire(context.Background(), "ETH-USDT")
	require.NoError(t, err, "other instruments are independent")
	other()

	release()
	again, err := c.acquire(context.Background(), "BTC-USDT")
	require.NoError(t, err)
	again()
}
