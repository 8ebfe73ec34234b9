// Package scoring derives the "unusual" flag and hotness score of markets.
//
// The formulas are policy, not correctness: they sit behind Scorer so they
// can be swapped once richer history is available.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/unusual-markets/internal/history"
	"github.com/unusual-markets/internal/markets"
)

var ErrUnknownMode = errors.New("unknown scoring mode")

type Reason string

const (
	ReasonWhaleVolume   Reason = "whale_volume"
	ReasonTightActive   Reason = "tight_spread_active"
	ReasonFlowImbalance Reason = "flow_imbalance"
	ReasonVolumeSurge   Reason = "volume_surge"
	ReasonPriceMove     Reason = "price_move"
)

const (
	ModeHistory = "history"
	ModeFlow    = "flow"
	ModeRandom  = "random"
)

// Signals is the output of a Scorer for one market.
type Signals struct {
	PriceChange  float64
	VolumeChange float64
	Hotness      int
	Unusual      bool
	Reasons      []Reason
}

// Scorer computes signals for a transformed market.
type Scorer interface {
	Name() string
	Score(m markets.Market) Signals
}

// Apply returns a copy of ms with each market's signals filled in.
func Apply(s Scorer, ms []markets.Market) []markets.Market {
	out := make([]markets.Market, len(ms))
	for i, m := range ms {
		sig := s.Score(m)
		m.PriceChange = sig.PriceChange
		m.VolumeChange = sig.VolumeChange
		m.HotnessScore = clampHotness(sig.Hotness)
		m.Unusual = sig.Unusual
		m.Reasons = nil
		for _, r := range sig.Reasons {
			m.Reasons = append(m.Reasons, string(r))
		}
		out[i] = m
	}
	return out
}

// New selects a scorer by mode. store may be nil unless mode is history.
func New(mode string, store *history.Store, window time.Duration) (Scorer, error) {
	switch mode {
	case ModeHistory, "":
		if store == nil {
			return nil, fmt.Errorf("%w: history mode needs a snapshot store", ErrUnknownMode)
		}
		return NewHistoryScorer(store, window), nil
	case ModeFlow:
		return FlowScorer{}, nil
	case ModeRandom:
		return NewRandomScorer(time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// deltaHotness maps absolute deltas onto 0-100: half the volume change in
// percent plus three times the price move in percent.
func deltaHotness(volumeChange, priceChange float64) int {
	return clampHotness(int(math.Floor(math.Abs(volumeChange)/2 + math.Abs(priceChange)*3)))
}

func deltaUnusual(volumeChange, priceChange float64) []Reason {
	var reasons []Reason
	if math.Abs(volumeChange) > 100 {
		reasons = append(reasons, ReasonVolumeSurge)
	}
	if math.Abs(priceChange) > 10 {
		reasons = append(reasons, ReasonPriceMove)
	}
	return reasons
}

func clampHotness(h int) int {
	if h < 0 {
		return 0
	}
	if h > 100 {
		return 100
	}
	return h
}
