package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage-scanner/internal/model"
)

func ptr[T any](v T) *T { return &v }

func testRecord(symbol string, conf int) model.SignalRecord {
	return model.SignalRecord{
		Symbol:               symbol,
		Timeframe:            "5m",
		Direction:            model.DirectionLong,
		LabelType:            model.LabelConfirmation,
		Confidence:           conf,
		ConfidenceStars:      "⭐⭐⭐⭐⭐",
		Reason:               "Confirmed Breakout",
		CandleTime:           time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
		Price:                101.5,
		RSI:                  62.5,
		MomentumScore:        2,
		PriceFromBreakoutPct: ptr(2.44),
		EMAAlignment:         ptr(0.54528),
		EarlyHintTime:        ptr(time.Date(2025, 6, 2, 11, 54, 0, 0, time.UTC)),
		SignalDelayMinutes:   ptr(6.0),
	}
}

func runWriter(t *testing.T, w *Writer) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestWriter_BatchesAndReaderRebuildsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.db")
	w, err := New(WriterConfig{DBPath: path})
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, "sqlite", w.Name())

	stop := runWriter(t, w)
	for i, sym := range []string{"BTC-USDT", "ETH-USDT", "SOL-USDT"} {
		require.NoError(t, w.Emit(context.Background(), testRecord(sym, 3+i)))
	}
	stop()

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	recs, err := r.RecentSignals(10)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "SOL-USDT", recs[0].Symbol, "newest first")
	assert.Equal(t, 5, recs[0].Confidence)
	assert.Equal(t, "BTC-USDT", recs[2].Symbol)
	require.NotNil(t, recs[2].PriceFromBreakoutPct)
	assert.InDelta(t, 2.44, *recs[2].PriceFromBreakoutPct, 1e-9)
	require.NotNil(t, recs[2].EarlyHintTime)
	assert.True(t, recs[2].EarlyHintTime.Equal(time.Date(2025, 6, 2, 11, 54, 0, 0, time.UTC)))
	assert.True(t, recs[2].CandleTime.Equal(time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)))

	limited, err := r.RecentSignals(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestWriter_SheetColumnsArePopulated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.db")
	w, err := New(WriterConfig{DBPath: path})
	require.NoError(t, err)
	defer w.Close()

	hint := testRecord("XRP-USDT", 0)
	hint.LabelType = model.LabelHint
	hint.Timeframe = "1m"
	hint.Is1mHint = true
	hint.PriceFromBreakoutPct = nil
	hint.EMAAlignment = nil
	hint.EarlyHintTime = nil
	hint.SignalDelayMinutes = nil
	require.NoError(t, w.insertBatch([]model.SignalRecord{hint}))

	var (
		label    string
		isHint   bool
		pct      *float64
		hintTime *int64
	)
	err = w.DB().QueryRow(`SELECT label_type, is_1m_hint, price_from_breakout, early_hint_time FROM signals`).
		Scan(&label, &isHint, &pct, &hintTime)
	require.NoError(t, err)
	assert.Equal(t, "hint", label)
	assert.True(t, isHint)
	assert.Nil(t, pct)
	assert.Nil(t, hintTime)
}

func TestWriter_EmitReportsFullQueue(t *testing.T) {
	w, err := New(WriterConfig{DBPath: filepath.Join(t.TempDir(), "signals.db"), QueueSize: 1})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Emit(context.Background(), testRecord("BTC-USDT", 4)))
	assert.ErrorIs(t, w.Emit(context.Background(), testRecord("ETH-USDT", 4)), ErrQueueFull)
}

func TestReader_EmptyLogAndClampedLimit(t *testing.T) {
	r, err := NewReader(filepath.Join(t.TempDir(), "signals.db"))
	require.NoError(t, err)
	defer r.Close()

	recs, err := r.RecentSignals(0)
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = r.RecentSignals(10_000)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
