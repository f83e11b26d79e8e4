package model

import "context"

// ── Port interfaces ──
// These decouple the scan pipeline from the exchange and from concrete sinks
// (SQLite, Redis, websocket, chat). Each sink satisfies SignalSink.

// CandleSource fetches an oldest-first candle series for one symbol and timeframe.
type CandleSource interface {
	Fetch(ctx context.Context, symbol, timeframe string, limit int) (Series, error)
}

// UniverseSource supplies the symbols to scan this cycle.
type UniverseSource interface {
	Symbols(ctx context.Context) ([]string, error)
}

// SignalSink consumes emitted signal records. Implementations must not
// mutate the record.
type SignalSink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Emit delivers one record. A returned error is logged by the caller
	// and never stops delivery to other sinks.
	Emit(ctx context.Context, rec SignalRecord) error
}

// OrderSubmitter places an order and reports the consolidated result.
type OrderSubmitter interface {
	Submit(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// OrderRecorder persists order results for audit.
type OrderRecorder interface {
	RecordOrder(res OrderResult) error
}
