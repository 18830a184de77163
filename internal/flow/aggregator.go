package flow

import "time"

// Window labels as produced by the netflow crawler. Sign convention:
// positive means net inflow to exchanges (bearish), negative means net
// outflow (bullish).
const (
	Window5m  = "5m"
	Window15m = "15m"
	Window30m = "30m"
	Window1h  = "1h"
	Window2h  = "2h"
	Window4h  = "4h"
	Window6h  = "6h"
	Window8h  = "8h"
	Window12h = "12h"
	Window24h = "24h"
)

// Freshness is the maximum age of a short-window sample before it is
// considered stale and ignored.
const Freshness = 5 * time.Minute

// Sample is one netflow observation carrying per-window magnitudes.
type Sample struct {
	Timestamp time.Time
	Windows   map[string]float64
}

// Feed serves netflow samples, most-recent-first.
type Feed interface {
	SamplesUpTo(ts time.Time) []Sample
}

// ShortWindowFlow returns the netflow value for label from the latest sample
// at or before ts that is still within the freshness bound. A stale sample
// must not be treated as current, so ok is false when none qualifies.
func ShortWindowFlow(feed Feed, ts time.Time, label string) (float64, bool) {
	for _, s := range feed.SamplesUpTo(ts) {
		if s.Timestamp.After(ts) {
			continue
		}
		if ts.Sub(s.Timestamp) > Freshness {
			return 0, false
		}
		v, present := s.Windows[label]
		if !present {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// AggregatedFlow sums the short-window values of the n most recent samples at
// or before ts (e.g. 12 five-minute samples make a one-hour aggregate). The
// feed is walked in descending-timestamp order and a bounded prefix is
// summed, not averaged.
func AggregatedFlow(feed Feed, ts time.Time, n int) (float64, bool) {
	if n <= 0 {
		return 0, false
	}
	sum := 0.0
	taken := 0
	for _, s := range feed.SamplesUpTo(ts) {
		if s.Timestamp.After(ts) {
			continue
		}
		v, present := s.Windows[Window5m]
		if !present {
			continue
		}
		sum += v
		taken++
		if taken == n {
			break
		}
	}
	if taken == 0 {
		return 0, false
	}
	return sum, true
}

// MemoryFeed is a Feed over a fixed sample slice, used by the backtester and
// tests. Samples may be provided in any order; they are served
// most-recent-first.
type MemoryFeed struct {
	samples []Sample // held most-recent-first
}

// NewMemoryFeed builds a feed from samples in any order.
func NewMemoryFeed(samples []Sample) *MemoryFeed {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	// insertion sort descending; feeds are small and mostly ordered already
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Timestamp.After(sorted[j-1].Timestamp); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return &MemoryFeed{samples: sorted}
}

// SamplesUpTo returns samples at or before ts, most-recent-first.
func (f *MemoryFeed) SamplesUpTo(ts time.Time) []Sample {
	for i, s := range f.samples {
		if !s.Timestamp.After(ts) {
			return f.samples[i:]
		}
	}
	return nil
}
