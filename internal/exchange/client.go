package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/bytedance/sonic"
	"golang.org/x/time/rate"
)

const apiPrefix = "/api/v1"

// Config configures the REST client.
type Config struct {
	MarketURL string        `yaml:"market_url" default:"https://openapi.blofin.com" validate:"required,url"`
	TradeURL  string        `yaml:"trade_url" default:"https://demo-trading-openapi.blofin.com" validate:"required,url"`
	Timeout   time.Duration `yaml:"timeout" default:"10s"`
	RateLimit int           `yaml:"rate_limit" default:"10" validate:"min=1"` // public requests per second
	Retry     RetryConfig   `yaml:"retry"`
}

// DefaultConfig returns the production market host and the demo trading host.
func DefaultConfig() Config {
	return Config{
		MarketURL: "https://openapi.blofin.com",
		TradeURL:  "https://demo-trading-openapi.blofin.com",
		Timeout:   10 * time.Second,
		RateLimit: 10,
		Retry:     DefaultRetryConfig(),
	}
}

// Response is the exchange's standard envelope.
type Response[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// OK reports whether the exchange accepted the request.
func (r Response[T]) OK() bool { return r.Code == "0" }

// Client is the shared HTTP client for public market data and signed
// trading calls. One Client (and its limiter) is shared by all workers.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	retrier *Retrier
	signer  *Signer
	log     *slog.Logger
}

// NewClient creates a client. creds may be empty when only public data is used.
func NewClient(cfg Config, creds Credentials) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
		retrier: NewRetrier(cfg.Retry),
		signer:  NewSigner(creds),
		log:     slog.Default().With("component", "exchange"),
	}
}

// Retrier exposes the retry driver so tests can replace Sleep and Jitter.
func (c *Client) Retrier() *Retrier { return c.retrier }

// Signer exposes the request signer so tests can pin Now and Nonce.
func (c *Client) Signer() *Signer { return c.signer }

// Timeout returns the per-request HTTP timeout.
func (c *Client) Timeout() time.Duration { return c.cfg.Timeout }

// Host selects which base URL a public request goes to.
type Host int

const (
	HostMarket Host = iota
	HostTrade
)

func (c *Client) baseURL(h Host) string {
	if h == HostTrade {
		return c.cfg.TradeURL
	}
	return c.cfg.MarketURL
}

// Public performs a rate-limited, retried GET on the market host and
// returns the envelope's data.
func Public[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	return PublicOn[T](ctx, c, HostMarket, path, query)
}

// PublicOn is Public against an explicit host.
func PublicOn[T any](ctx context.Context, c *Client, host Host, path string, query url.Values) (T, error) {
	var out Response[T]
	op := "GET " + path

	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		raw, err := c.send(ctx, c.baseURL(host), http.MethodGet, withQuery(apiPrefix+path, query), nil, false)
		if err != nil {
			return err
		}
		out = Response[T]{}
		if err := json.Unmarshal(raw, &out); err != nil {
			return DataError(op, ReasonMalformed, err)
		}
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if !out.OK() {
		var zero T
		return zero, DataError(op, ReasonUnavailable, fmt.Errorf("code %s: %s", out.Code, out.Msg))
	}
	return out.Data, nil
}

// Private performs a signed request on the trading host with up to attempts
// tries. The full envelope is returned so callers can inspect the
// exchange's code and message; a non-zero code is not an error here.
func Private[T any](ctx context.Context, c *Client, method, path string, query url.Values, body []byte, attempts int) (Response[T], error) {
	var out Response[T]
	op := method + " " + path

	err := c.retrier.DoN(ctx, attempts, func(ctx context.Context) error {
		raw, err := c.send(ctx, c.cfg.TradeURL, method, withQuery(apiPrefix+path, query), body, true)
		if err != nil {
			return err
		}
		out = Response[T]{}
		if err := json.Unmarshal(raw, &out); err != nil {
			return DataError(op, ReasonMalformed, err)
		}
		return nil
	})
	return out, err
}

// send issues one HTTP request and classifies the outcome. Signed requests
// are re-signed on every call so retries carry a fresh timestamp and nonce.
func (c *Client) send(ctx context.Context, base, method, pathWithQuery string, body []byte, signed bool) ([]byte, error) {
	op := method + " " + pathWithQuery

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+pathWithQuery, reader)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	if signed {
		h, err := c.signer.Headers(method, pathWithQuery, body)
		if err != nil {
			return nil, err
		}
		for k, v := range h {
			req.Header[k] = v
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{
			Kind:       KindRateLimited,
			Op:         op,
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: KindSigning, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", truncate(raw, 200))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &Error{Kind: KindNetwork, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", truncate(raw, 200))}
	}

	c.log.Debug("request ok", "op", op, "status", resp.StatusCode, "bytes", len(raw))
	return raw, nil
}

func withQuery(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
