package gateway

import (
	"math"
	"sort"
	"sync"
)

// LeadStats summarizes how many minutes 1m hints ran ahead of the
// confirmations that consumed them.
type LeadStats struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// LeadTimes keeps the most recent hint lead times in a circular buffer.
type LeadTimes struct {
	mu      sync.Mutex
	samples []float64
	pos     int
	count   int
}

// NewLeadTimes creates a tracker holding the last capacity samples.
func NewLeadTimes(capacity int) *LeadTimes {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LeadTimes{samples: make([]float64, capacity)}
}

// Record adds one lead time in minutes.
func (lt *LeadTimes) Record(minutes float64) {
	lt.mu.Lock()
	lt.samples[lt.pos] = minutes
	lt.pos = (lt.pos + 1) % len(lt.samples)
	if lt.count < len(lt.samples) {
		lt.count++
	}
	lt.mu.Unlock()
}

// Stats returns the sample count and percentiles. Zero when empty.
func (lt *LeadTimes) Stats() LeadStats {
	lt.mu.Lock()
	sorted := make([]float64, lt.count)
	copy(sorted, lt.samples[:lt.count])
	lt.mu.Unlock()

	if len(sorted) == 0 {
		return LeadStats{}
	}
	sort.Float64s(sorted)
	return LeadStats{
		Count: len(sorted),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	if lower+1 >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}
