package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"leverage-scanner/internal/model"
)

const (
	// SignalStream is the append-only stream of every emitted signal.
	SignalStream = "signals"

	signalStreamMaxLen = 10000
	defaultLatestTTL   = 6 * time.Hour
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes signal records to Redis.
type Writer struct {
	client *goredis.Client
	log    *slog.Logger
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log := slog.Default().With("component", "redis")
	log.Info("connected", "addr", cfg.Addr)
	return &Writer{client: client, log: log}, nil
}

// LatestKey is the key holding the most recent signal for symbol and timeframe.
func LatestKey(symbol, timeframe string) string {
	return "signal:latest:" + symbol + ":" + timeframe
}

// PubSubChannel is the channel a symbol's signals are published on.
func PubSubChannel(symbol string) string {
	return "pub:signal:" + symbol
}

// WriteSignal performs the pipelined XADD + SET + PUBLISH for one record.
func (w *Writer) WriteSignal(ctx context.Context, rec model.SignalRecord) error {
	jsonData := string(rec.JSON())

	pipe := w.client.Pipeline()

	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: SignalStream,
		MaxLen: signalStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"symbol":    rec.Symbol,
			"timeframe": rec.Timeframe,
			"label":     rec.LabelType,
			"data":      jsonData,
		},
	})
	pipe.Set(ctx, LatestKey(rec.Symbol, rec.Timeframe), jsonData, defaultLatestTTL)
	pipe.Publish(ctx, PubSubChannel(rec.Symbol), jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline %s: %w", rec.Key(), err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
