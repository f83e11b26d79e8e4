package exchange

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Kind classifies a failure so callers and the retry driver can react to it
// without inspecting error strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindRateLimited
	KindData
	KindSigning
	KindTokenNotSupported
	KindOrderRejected
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRateLimited:
		return "rate_limited"
	case KindData:
		return "data"
	case KindSigning:
		return "signing"
	case KindTokenNotSupported:
		return "token_not_supported"
	case KindOrderRejected:
		return "order_rejected"
	default:
		return "unknown"
	}
}

// DataError reasons.
const (
	ReasonEmpty        = "empty"
	ReasonInsufficient = "insufficient"
	ReasonMalformed    = "malformed"
	ReasonUnavailable  = "unavailable"
)

// BackoffClass selects how the retry driver waits before the next attempt.
type BackoffClass int

const (
	BackoffNone BackoffClass = iota
	BackoffExponential
	BackoffRetryAfter
)

// Policy is the handling rule for one error kind.
type Policy struct {
	Retry    bool
	Backoff  BackoffClass
	LogLevel slog.Level
}

// policies maps every kind to its handling rule. The retry driver consults
// nothing else.
var policies = map[Kind]Policy{
	KindNetwork:           {Retry: true, Backoff: BackoffExponential, LogLevel: slog.LevelWarn},
	KindRateLimited:       {Retry: true, Backoff: BackoffRetryAfter, LogLevel: slog.LevelWarn},
	KindData:              {Retry: false, Backoff: BackoffNone, LogLevel: slog.LevelWarn},
	KindSigning:           {Retry: false, Backoff: BackoffNone, LogLevel: slog.LevelError},
	KindTokenNotSupported: {Retry: false, Backoff: BackoffNone, LogLevel: slog.LevelInfo},
	KindOrderRejected:     {Retry: false, Backoff: BackoffNone, LogLevel: slog.LevelWarn},
	KindUnknown:           {Retry: false, Backoff: BackoffNone, LogLevel: slog.LevelError},
}

// PolicyFor returns the handling rule for a kind.
func PolicyFor(k Kind) Policy {
	if p, ok := policies[k]; ok {
		return p
	}
	return policies[KindUnknown]
}

// Error is the typed failure returned by every exchange-facing operation.
type Error struct {
	Kind       Kind
	Reason     string        // DataError reason or exchange message
	Op         string        // e.g. "GET /api/v1/market/candles"
	Status     int           // HTTP status, 0 if no response
	RetryAfter time.Duration // from the Retry-After header on 429
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += "(" + e.Reason + ")"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind (and Reason when the target sets one),
// so errors.Is(err, ErrUnavailable) works through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Sentinels for errors.Is checks.
var (
	ErrUnavailable       = &Error{Kind: KindData, Reason: ReasonUnavailable}
	ErrEmpty             = &Error{Kind: KindData, Reason: ReasonEmpty}
	ErrMalformed         = &Error{Kind: KindData, Reason: ReasonMalformed}
	ErrInsufficient      = &Error{Kind: KindData, Reason: ReasonInsufficient}
	ErrSigning           = &Error{Kind: KindSigning}
	ErrTokenNotSupported = &Error{Kind: KindTokenNotSupported}
)

// DataError builds a KindData error.
func DataError(op, reason string, err error) *Error {
	return &Error{Kind: KindData, Reason: reason, Op: op, Err: err}
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf extracts the Reason of err, or "".
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
