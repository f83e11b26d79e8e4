package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient points both hosts at srv and disables real sleeping.
func newTestClient(t *testing.T, srv *httptest.Server, creds Credentials) (*Client, *[]time.Duration) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MarketURL = srv.URL
	cfg.TradeURL = srv.URL
	cfg.RateLimit = 1000
	c := NewClient(cfg, creds)

	var slept []time.Duration
	c.Retrier().Sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	c.Retrier().Jitter = func() time.Duration { return 0 }
	return c, &slept
}

func TestClient_CandlesRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/market/candles", r.URL.Path)
		assert.Equal(t, "BTC-USDT", r.URL.Query().Get("instId"))
		assert.Equal(t, "1H", r.URL.Query().Get("bar"))
		assert.Equal(t, "150", r.URL.Query().Get("limit"))
		assert.Empty(t, r.Header.Get("ACCESS-SIGN"), "public calls are unsigned")
		w.Write([]byte(`{"code":"0","msg":"success","data":[["1700000060000","2","3","1","2.5","10","0","0","1"]]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, Credentials{})
	rows, err := c.Candles(context.Background(), "BTC-USDT", "1H", 150)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2.5", rows[0][4])
}

func TestClient_ServerErrorRetriesThreeTimes(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv, Credentials{})
	_, err := c.Candles(context.Background(), "BTC-USDT", "5m", 150)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 3, hits.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *slept)
}

func TestClient_TooManyRequestsUsesRetryAfter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[]}`))
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv, Credentials{})
	rows, err := c.Candles(context.Background(), "ETH-USDT", "5m", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, []time.Duration{3 * time.Second}, *slept)
}

func TestClient_MalformedBodyIsDataError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"code":"0","data":[[1,2]`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, Credentials{})
	_, err := c.Candles(context.Background(), "BTC-USDT", "5m", 150)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.EqualValues(t, 1, hits.Load(), "malformed payloads are not retried")
}

func TestClient_NonZeroCodeIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"152001","msg":"instrument not found","data":null}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, Credentials{})
	_, err := c.Candles(context.Background(), "NOPE-USDT", "5m", 150)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "instrument not found")
}

func TestClient_UnauthorizedIsSigningError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.NotEmpty(t, r.Header.Get("ACCESS-SIGN"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, Credentials{APIKey: "k", SecretKey: "s", Passphrase: "p"})
	_, err := Private[[]struct{}](context.Background(), c, http.MethodGet, "/account/balance", nil, nil, 3)
	assert.Equal(t, KindSigning, KindOf(err))
	assert.EqualValues(t, 1, hits.Load())
}

func TestClient_PrivateSignsPathWithQuery(t *testing.T) {
	creds := Credentials{APIKey: "k", SecretKey: "test-secret", Passphrase: "p"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := Sign(creds.SecretKey, r.URL.RequestURI(), r.Method,
			r.Header.Get("ACCESS-TIMESTAMP"), r.Header.Get("ACCESS-NONCE"), nil)
		assert.Equal(t, "/api/v1/trade/order/details?ordId=42", r.URL.RequestURI())
		assert.Equal(t, want, r.Header.Get("ACCESS-SIGN"))
		w.Write([]byte(`{"code":"0","msg":"","data":[{"state":"filled"}]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, creds)
	resp, err := Private[[]struct {
		State string `json:"state"`
	}](context.Background(), c, http.MethodGet, "/trade/order/details", map[string][]string{"ordId": {"42"}}, nil, 1)
	require.NoError(t, err)
	require.True(t, resp.OK())
	assert.Equal(t, "filled", resp.Data[0].State)
}

func TestClient_InstrumentsAndTickers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/market/instruments", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SWAP", r.URL.Query().Get("instType"))
		w.Write([]byte(`{"code":"0","msg":"","data":[
			{"instId":"btc-usdt","instType":"SWAP","baseCurrency":"BTC","quoteCurrency":"USDT","state":"live","minSize":"0.001"},
			{"instId":"ETH-USDT","instType":"SWAP","quoteCurrency":"USDT","state":"live","minSz":"0.01"},
			{"instId":"","state":"live"}]}`))
	})
	mux.HandleFunc("/api/v1/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT","last":"65000.5","volCurrency24h":"12345678.9"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := newTestClient(t, srv, Credentials{})

	insts, err := c.Instruments(context.Background(), "SWAP")
	require.NoError(t, err)
	require.Len(t, insts, 2)
	assert.Equal(t, "BTC-USDT", insts[0].InstID)
	assert.Equal(t, "0.001", insts[0].MinSize.String())
	assert.True(t, insts[0].Live())
	assert.Equal(t, "0.01", insts[1].MinSize.String(), "minSz is accepted too")

	tickers, err := c.Tickers(context.Background())
	require.NoError(t, err)
	require.Len(t, tickers, 1)
	assert.InDelta(t, 12345678.9, tickers[0].VolCurrency24h, 1e-6)
	assert.InDelta(t, 65000.5, tickers[0].Last, 1e-9)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Equal(t, 1500*time.Millisecond, parseRetryAfter("1.5"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}
