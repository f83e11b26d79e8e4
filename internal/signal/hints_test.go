package signal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHintTable_RecordConsume(t *testing.T) {
	h := NewHintTable()
	at := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	h.Record("BTC-USDT", "long", at.Add(-time.Minute))
	h.Record("BTC-USDT", "long", at) // refresh
	assert.Equal(t, 1, h.Len())

	got, ok := h.Consume("BTC-USDT", "long")
	require.True(t, ok)
	assert.Equal(t, at, got)
	assert.Zero(t, h.Len())

	_, ok = h.Consume("BTC-USDT", "long")
	assert.False(t, ok)
	_, ok = h.Consume("ETH-USDT", "long")
	assert.False(t, ok)
}

func TestHintTable_Prune(t *testing.T) {
	h := NewHintTable()
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	h.Record("OLD-USDT", "long", now.Add(-2*time.Hour))
	h.Record("NEW-USDT", "long", now.Add(-10*time.Minute))
	h.Record("ZERO-USDT", "long", time.Time{})

	assert.Zero(t, h.Prune(now, 0), "zero ttl keeps everything")
	assert.Equal(t, 1, h.Prune(now, time.Hour))
	assert.Equal(t, 2, h.Len())

	_, ok := h.Peek("OLD-USDT", "long")
	assert.False(t, ok)
}

func TestHintTable_ConcurrentAccess(t *testing.T) {
	h := NewHintTable()
	at := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Record("BTC-USDT", "long", at)
		}()
		go func() {
			defer wg.Done()
			h.Consume("BTC-USDT", "long")
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, h.Len(), 1)
}
