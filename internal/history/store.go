// Package history keeps a bounded, process-local series of market snapshots
// so price and volume deltas can be computed from observed data.
package history

import (
	"sort"
	"sync"
	"time"
)

// Snapshot is one observation of a market.
type Snapshot struct {
	Ticker       string
	Time         time.Time
	Price        float64 // cents
	Volume       float64
	OpenInterest float64
}

// Delta compares the latest snapshot with the oldest one inside a window.
type Delta struct {
	// PriceChange is in cents, i.e. percentage points of probability.
	PriceChange float64
	// FromPrice and ToPrice are the oldest and latest prices in cents.
	FromPrice float64
	ToPrice   float64
	// VolumeChangePct is the relative volume change in percent.
	VolumeChangePct float64
	Span            time.Duration
	Samples         int
}

// Store maintains per-ticker snapshots, oldest first.
type Store struct {
	mu sync.RWMutex

	snapshots map[string][]Snapshot

	maxPerMarket int
	maxAge       time.Duration
	minSpacing   time.Duration
}

type StoreOption func(*Store)

// WithMinSpacing overrides the minimum gap between two snapshots of the
// same ticker.
func WithMinSpacing(d time.Duration) StoreOption {
	return func(s *Store) {
		if d >= 0 {
			s.minSpacing = d
		}
	}
}

// NewStore keeps at most maxPerMarket snapshots per ticker and drops those
// older than maxAge. Non-positive values fall back to 1440 and 24h.
//
// Snapshots closer than maxAge/maxPerMarket to the ticker's previous one
// are dropped, so the count cap never shortens the series below maxAge no
// matter how often Record is called.
func NewStore(maxPerMarket int, maxAge time.Duration, opts ...StoreOption) *Store {
	if maxPerMarket <= 0 {
		maxPerMarket = 1440
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	s := &Store{
		snapshots:    make(map[string][]Snapshot),
		maxPerMarket: maxPerMarket,
		maxAge:       maxAge,
		minSpacing:   maxAge / time.Duration(maxPerMarket),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Record appends snapshots. Out-of-order snapshots for a ticker are
// dropped, as are those within the minimum spacing of the previous one.
func (s *Store) Record(snaps ...Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range snaps {
		if snap.Ticker == "" {
			continue
		}
		series := s.snapshots[snap.Ticker]
		if n := len(series); n > 0 {
			last := series[n-1].Time
			if snap.Time.Before(last) || snap.Time.Sub(last) < s.minSpacing {
				continue
			}
		}
		series = append(series, snap)
		series = trim(series, snap.Time.Add(-s.maxAge))

		if len(series) > s.maxPerMarket {
			series = series[len(series)-s.maxPerMarket:]
		}
		s.snapshots[snap.Ticker] = series
	}
}

// Snapshots returns a copy of a ticker's snapshots taken at or after since.
func (s *Store) Snapshots(ticker string, since time.Time) []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.snapshots[ticker]
	i := sort.Search(len(series), func(i int) bool { return !series[i].Time.Before(since) })

	out := make([]Snapshot, len(series)-i)
	copy(out, series[i:])
	return out
}

// Delta computes the change over the last window ending at now. It reports
// false when fewer than two snapshots fall inside the window.
func (s *Store) Delta(ticker string, window time.Duration, now time.Time) (Delta, bool) {
	snaps := s.Snapshots(ticker, now.Add(-window))
	if len(snaps) < 2 {
		return Delta{}, false
	}

	oldest, latest := snaps[0], snaps[len(snaps)-1]
	d := Delta{
		PriceChange: latest.Price - oldest.Price,
		FromPrice:   oldest.Price,
		ToPrice:     latest.Price,
		Span:        latest.Time.Sub(oldest.Time),
		Samples:     len(snaps),
	}
	if oldest.Volume > 0 {
		d.VolumeChangePct = (latest.Volume - oldest.Volume) / oldest.Volume * 100
	}
	return d, true
}

// Prune drops snapshots older than the store's max age relative to now and
// forgets tickers left empty.
func (s *Store) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.maxAge)
	removed := 0
	for ticker, series := range s.snapshots {
		kept := trim(series, cutoff)
		removed += len(series) - len(kept)
		if len(kept) == 0 {
			delete(s.snapshots, ticker)
			continue
		}
		s.snapshots[ticker] = kept
	}
	return removed
}

// Len returns the number of tracked tickers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

func trim(series []Snapshot, cutoff time.Time) []Snapshot {
	i := sort.Search(len(series), func(i int) bool { return !series[i].Time.Before(cutoff) })
	return series[i:]
}
