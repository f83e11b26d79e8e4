package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Credentials are the API key triple issued by the exchange.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// Complete reports whether every credential is set.
func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.SecretKey != "" && c.Passphrase != ""
}

// Signer produces the ACCESS-* headers for private endpoints.
type Signer struct {
	creds Credentials

	// Now and Nonce are replaced in tests.
	Now   func() time.Time
	Nonce func() string
}

// NewSigner creates a signer. Missing credentials are reported on first use.
func NewSigner(creds Credentials) *Signer {
	return &Signer{
		creds: creds,
		Now:   time.Now,
		Nonce: func() string { return uuid.NewString() },
	}
}

// Sign returns base64(hex(HMAC-SHA256(secret, path+method+timestamp+nonce+body))).
// path includes the query string; body is empty for GET.
func Sign(secret, path, method, timestamp, nonce string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(path))
	mac.Write([]byte(method))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(nonce))
	mac.Write(body)
	digest := hex.EncodeToString(mac.Sum(nil))
	return base64.StdEncoding.EncodeToString([]byte(digest))
}

// Headers builds the authentication headers for one request. A fresh
// timestamp and nonce are drawn on every call.
func (s *Signer) Headers(method, path string, body []byte) (http.Header, error) {
	if !s.creds.Complete() {
		return nil, &Error{Kind: KindSigning, Reason: "missing credentials", Op: method + " " + path}
	}

	ts := strconv.FormatInt(s.Now().UnixMilli(), 10)
	nonce := s.Nonce()

	h := make(http.Header)
	h.Set("ACCESS-KEY", s.creds.APIKey)
	h.Set("ACCESS-SIGN", Sign(s.creds.SecretKey, path, method, ts, nonce, body))
	h.Set("ACCESS-TIMESTAMP", ts)
	h.Set("ACCESS-NONCE", nonce)
	h.Set("ACCESS-PASSPHRASE", s.creds.Passphrase)
	if method == http.MethodPost {
		h.Set("Content-Type", "application/json")
	}
	return h, nil
}
