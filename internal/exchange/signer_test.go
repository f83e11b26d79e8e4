package exchange

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTS    = "1700000000000"
	testNonce = "11111111-2222-3333-4444-555555555555"
	testBody  = `{"instId":"BTC-USDT","marginMode":"cross","side":"buy","orderType":"market","size":"0.004"}`
)

func TestSign_GoldenVector(t *testing.T) {
	got := Sign("test-secret", "/api/v1/trade/order", "POST", testTS, testNonce, []byte(testBody))
	assert.Equal(t, "MTJkNTQ2Mzk4MmQ4MzNhODVhOGFlMzc0MjRmZjMyOWIzZmY0NWU5MDNkYWQzMDQ5MWE2MWRhNjJlNWYxMDEwZQ==", got)
}

func TestSign_GetIncludesQueryAndEmptyBody(t *testing.T) {
	got := Sign("test-secret", "/api/v1/trade/order/details?ordId=42", "GET", testTS, testNonce, nil)
	assert.Equal(t, "NjFmMzFhMWU0YzRlNDcwYWY4YzEwZTIxZTg5NTk2YjkzZjYzN2ViODdkMWM1ZmFkYjJkYmNlNDllY2I4OTNkYg==", got)
}

func TestSign_EveryFieldChangesSignature(t *testing.T) {
	base := Sign("s", "/p", "POST", testTS, testNonce, []byte("{}"))
	variants := map[string]string{
		"secret": Sign("s2", "/p", "POST", testTS, testNonce, []byte("{}")),
		"path":   Sign("s", "/q", "POST", testTS, testNonce, []byte("{}")),
		"method": Sign("s", "/p", "GET", testTS, testNonce, []byte("{}")),
		"ts":     Sign("s", "/p", "POST", "1700000000001", testNonce, []byte("{}")),
		"nonce":  Sign("s", "/p", "POST", testTS, "other", []byte("{}")),
		"body":   Sign("s", "/p", "POST", testTS, testNonce, []byte(`{"a":1}`)),
	}
	for field, sig := range variants {
		assert.NotEqual(t, base, sig, "changing %s must change the signature", field)
	}
}

func TestSigner_Headers(t *testing.T) {
	s := NewSigner(Credentials{APIKey: "key", SecretKey: "test-secret", Passphrase: "pass"})
	s.Now = func() time.Time { return time.UnixMilli(1700000000000) }
	s.Nonce = func() string { return testNonce }

	h, err := s.Headers(http.MethodPost, "/api/v1/trade/order", []byte(testBody))
	require.NoError(t, err)

	assert.Equal(t, "key", h.Get("ACCESS-KEY"))
	assert.Equal(t, testTS, h.Get("ACCESS-TIMESTAMP"))
	assert.Equal(t, testNonce, h.Get("ACCESS-NONCE"))
	assert.Equal(t, "pass", h.Get("ACCESS-PASSPHRASE"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "MTJkNTQ2Mzk4MmQ4MzNhODVhOGFlMzc0MjRmZjMyOWIzZmY0NWU5MDNkYWQzMDQ5MWE2MWRhNjJlNWYxMDEwZQ==", h.Get("ACCESS-SIGN"))

	get, err := s.Headers(http.MethodGet, "/api/v1/trade/order/details?ordId=42", nil)
	require.NoError(t, err)
	assert.Empty(t, get.Get("Content-Type"))
}

func TestSigner_FreshNoncePerCall(t *testing.T) {
	s := NewSigner(Credentials{APIKey: "k", SecretKey: "s", Passphrase: "p"})
	a, err := s.Headers(http.MethodGet, "/x", nil)
	require.NoError(t, err)
	b, err := s.Headers(http.MethodGet, "/x", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.Get("ACCESS-NONCE"), b.Get("ACCESS-NONCE"))
	assert.Len(t, a.Get("ACCESS-NONCE"), 36)
}

func TestSigner_MissingCredentials(t *testing.T) {
	s := NewSigner(Credentials{APIKey: "k", SecretKey: "s"})
	_, err := s.Headers(http.MethodPost, "/api/v1/trade/order", nil)
	require.Error(t, err)
	assert.Equal(t, KindSigning, KindOf(err))
	assert.ErrorIs(t, err, ErrSigning)
}
