package scoring

import "github.com/unusual-markets/internal/markets"

// Volume thresholds for the flow rules.
const (
	whaleVolume     = 100_000
	tightVolume     = 50_000
	imbalanceVolume = 30_000
)

// FlowScorer flags markets from a single snapshot of their book and volume.
// Hotness is the market's liquidity score.
type FlowScorer struct{}

func (FlowScorer) Name() string { return ModeFlow }

func (FlowScorer) Score(m markets.Market) Signals {
	var reasons []Reason
	switch {
	case m.Volume24h > whaleVolume:
		reasons = append(reasons, ReasonWhaleVolume)
	case m.TightSpread && m.Volume24h > tightVolume:
		reasons = append(reasons, ReasonTightActive)
	case m.HasImbalance && m.Volume24h > imbalanceVolume:
		reasons = append(reasons, ReasonFlowImbalance)
	}

	return Signals{
		PriceChange:  m.PriceChange,
		VolumeChange: m.VolumeChange,
		Hotness:      m.LiquidityScore,
		Unusual:      len(reasons) > 0,
		Reasons:      reasons,
	}
}
