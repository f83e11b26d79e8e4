package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"leverage-scanner/internal/model"
)

// signalWriter is the part of Writer the buffered sink needs.
type signalWriter interface {
	WriteSignal(ctx context.Context, rec model.SignalRecord) error
}

// BufferedWriter is the Redis signal sink. Writes go through a circuit
// breaker; while it is open, or when a write fails, records are buffered
// locally and replayed once the circuit closes again.
type BufferedWriter struct {
	writer signalWriter
	cb     *CircuitBreaker
	ctx    context.Context
	log    *slog.Logger

	mu     sync.Mutex
	buffer []model.SignalRecord
	maxBuf int // oldest records are dropped beyond this (default: 10000)

	OnBuffer func()          // called when a record is buffered
	OnFlush  func(count int) // called after replaying buffered records
}

// NewBufferedWriter creates a BufferedWriter wrapping w. ctx bounds replays.
func NewBufferedWriter(ctx context.Context, w signalWriter, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		log:    slog.Default().With("component", "redis-buffer"),
		buffer: make([]model.SignalRecord, 0, 64),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		bw.log.Warn("circuit state change", "from", from.String(), "to", to.String())
		if to == StateClosed {
			go bw.flush()
		}
	}
	return bw
}

// Name implements model.SignalSink.
func (bw *BufferedWriter) Name() string { return "redis" }

// Emit writes rec through the circuit breaker. A rejected write is buffered
// and reported as success; a failed write is buffered and its error returned.
func (bw *BufferedWriter) Emit(ctx context.Context, rec model.SignalRecord) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.WriteSignal(ctx, rec)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCircuitOpen):
		bw.bufferWrite(rec)
		return nil
	default:
		bw.bufferWrite(rec)
		return err
	}
}

func (bw *BufferedWriter) bufferWrite(rec model.SignalRecord) {
	bw.mu.Lock()
	if len(bw.buffer) >= bw.maxBuf {
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, rec)
	bw.mu.Unlock()

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays buffered records straight to the writer. Records that fail
// again go back to the front of the buffer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := bw.buffer
	bw.buffer = make([]model.SignalRecord, 0, 64)
	bw.mu.Unlock()

	flushed := 0
	for i, rec := range toFlush {
		if err := bw.writer.WriteSignal(bw.ctx, rec); err != nil {
			bw.log.Warn("replay interrupted", "remaining", len(toFlush)-i, "err", err)
			bw.requeue(toFlush[i:])
			break
		}
		flushed++
	}

	bw.log.Info("flushed buffered signals", "count", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

func (bw *BufferedWriter) requeue(recs []model.SignalRecord) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	merged := append(append(make([]model.SignalRecord, 0, len(recs)+len(bw.buffer)), recs...), bw.buffer...)
	if len(merged) > bw.maxBuf {
		merged = merged[len(merged)-bw.maxBuf:]
	}
	bw.buffer = merged
}

// PendingCount returns the number of buffered records waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
