package exchange

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// RetryConfig configures the retry driver.
type RetryConfig struct {
	Attempts  int           `yaml:"attempts" default:"3" validate:"min=1,max=10"`
	BaseDelay time.Duration `yaml:"base_delay" default:"2s"`
	Backoff   float64       `yaml:"backoff" default:"2" validate:"gte=1"`
	JitterMin time.Duration `yaml:"jitter_min" default:"500ms"`
	JitterMax time.Duration `yaml:"jitter_max" default:"1500ms"`
}

// DefaultRetryConfig returns 3 attempts, 2s base, x2 backoff, 0.5-1.5s jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:  3,
		BaseDelay: 2 * time.Second,
		Backoff:   2,
		JitterMin: 500 * time.Millisecond,
		JitterMax: 1500 * time.Millisecond,
	}
}

// Retrier is the single retry driver. It runs an operation, classifies its
// error with KindOf and applies the kind's Policy.
type Retrier struct {
	cfg RetryConfig
	log *slog.Logger

	// Sleep waits d or until ctx is done. Replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter returns the random extra delay added to exponential waits.
	Jitter func() time.Duration
	// OnRetry is called before each wait (for metrics).
	OnRetry func(kind Kind)
}

// NewRetrier creates a retry driver with real sleeping and random jitter.
func NewRetrier(cfg RetryConfig) *Retrier {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Backoff < 1 {
		cfg.Backoff = 1
	}
	r := &Retrier{
		cfg:   cfg,
		log:   slog.Default().With("component", "retry"),
		Sleep: sleepCtx,
	}
	r.Jitter = func() time.Duration {
		span := int64(cfg.JitterMax - cfg.JitterMin)
		if span <= 0 {
			return cfg.JitterMin
		}
		return cfg.JitterMin + time.Duration(rand.Int63n(span+1))
	}
	return r
}

// Do runs op up to the configured number of attempts.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	return r.DoN(ctx, r.cfg.Attempts, op)
}

// DoN runs op up to attempts times. Non-retryable kinds return immediately.
// When retryable failures exhaust all attempts the result is a
// DataError(unavailable) wrapping the last failure.
func (r *Retrier) DoN(ctx context.Context, attempts int, op func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	delay := r.cfg.BaseDelay
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		kind := KindOf(err)
		policy := PolicyFor(kind)
		r.log.Log(ctx, policy.LogLevel, "attempt failed",
			"attempt", attempt+1, "of", attempts, "kind", kind.String(), "err", err)

		if !policy.Retry {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		var wait time.Duration
		switch policy.Backoff {
		case BackoffRetryAfter:
			wait = delay
			var e *Error
			if errors.As(err, &e) && e.RetryAfter > 0 {
				wait = e.RetryAfter
			}
		default:
			wait = delay + r.Jitter()
			delay = time.Duration(float64(delay) * r.cfg.Backoff)
		}

		if r.OnRetry != nil {
			r.OnRetry(kind)
		}
		if err := r.Sleep(ctx, wait); err != nil {
			return err
		}
	}

	opName := ""
	var e *Error
	if errors.As(lastErr, &e) {
		opName = e.Op
	}
	return &Error{Kind: KindData, Reason: ReasonUnavailable, Op: opName, Err: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
