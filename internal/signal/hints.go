package signal

import (
	"sync"
	"time"
)

// HintTable remembers the candle time of the latest 1m early hint per
// symbol and direction until a slower timeframe confirms it.
// Record and Consume are each atomic.
type HintTable struct {
	mu    sync.Mutex
	hints map[string]map[string]time.Time // symbol → direction → candle time
}

// NewHintTable creates an empty hint table.
func NewHintTable() *HintTable {
	return &HintTable{hints: make(map[string]map[string]time.Time)}
}

// Record creates or refreshes the hint for (symbol, direction).
func (h *HintTable) Record(symbol, direction string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dirs, ok := h.hints[symbol]
	if !ok {
		dirs = make(map[string]time.Time)
		h.hints[symbol] = dirs
	}
	dirs[direction] = at
}

// Consume removes and returns the hint for (symbol, direction).
// ok is false when no entry existed.
func (h *HintTable) Consume(symbol, direction string) (at time.Time, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	dirs, found := h.hints[symbol]
	if !found {
		return time.Time{}, false
	}
	at, ok = dirs[direction]
	if !ok {
		return time.Time{}, false
	}
	delete(dirs, direction)
	if len(dirs) == 0 {
		delete(h.hints, symbol)
	}
	return at, true
}

// Peek returns the hint for (symbol, direction) without removing it.
func (h *HintTable) Peek(symbol, direction string) (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	at, ok := h.hints[symbol][direction]
	return at, ok
}

// Prune drops entries whose candle time is older than now-ttl and returns
// how many were removed. Entries with a zero time are kept so that Consume
// can report them. A non-positive ttl is a no-op.
func (h *HintTable) Prune(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-ttl)

	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for sym, dirs := range h.hints {
		for dir, at := range dirs {
			if !at.IsZero() && at.Before(cutoff) {
				delete(dirs, dir)
				removed++
			}
		}
		if len(dirs) == 0 {
			delete(h.hints, sym)
		}
	}
	return removed
}

// Len returns the number of pending hints.
func (h *HintTable) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, dirs := range h.hints {
		n += len(dirs)
	}
	return n
}
