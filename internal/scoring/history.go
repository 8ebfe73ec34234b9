package scoring

import (
	"math"
	"time"

	"github.com/unusual-markets/internal/history"
	"github.com/unusual-markets/internal/markets"
)

// HistoryScorer scores markets from observed deltas in a snapshot store.
// Markets without two snapshots in the window are scored by FlowScorer.
type HistoryScorer struct {
	store  *history.Store
	window time.Duration
	now    func() time.Time
	flow   FlowScorer
}

func NewHistoryScorer(store *history.Store, window time.Duration) *HistoryScorer {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &HistoryScorer{store: store, window: window, now: time.Now}
}

func (h *HistoryScorer) Name() string { return ModeHistory }

func (h *HistoryScorer) Score(m markets.Market) Signals {
	flow := h.flow.Score(m)

	d, ok := h.store.Delta(m.ID, h.window, h.now())
	if !ok {
		return flow
	}

	// Same unit as the transform's priceChange: percent of the old price.
	priceChange := math.Round(markets.PercentChange(d.FromPrice, d.ToPrice)*10) / 10
	volumeChange := math.Round(d.VolumeChangePct)

	reasons := append(deltaUnusual(volumeChange, priceChange), flow.Reasons...)
	return Signals{
		PriceChange:  priceChange,
		VolumeChange: volumeChange,
		Hotness:      deltaHotness(volumeChange, priceChange),
		Unusual:      len(reasons) > 0,
		Reasons:      reasons,
	}
}
