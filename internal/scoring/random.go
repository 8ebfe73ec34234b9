package scoring

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/unusual-markets/internal/markets"
)

// RandomScorer draws synthetic deltas. It only backs demo data, where no
// real history exists.
type RandomScorer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomScorer(seed int64) *RandomScorer {
	return &RandomScorer{rng: rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))}
}

func (r *RandomScorer) Name() string { return ModeRandom }

func (r *RandomScorer) Score(markets.Market) Signals {
	r.mu.Lock()
	priceChange := math.Round((r.rng.Float64()*30-15)*10) / 10
	volumeChange := math.Round(r.rng.Float64()*350 - 20)
	r.mu.Unlock()

	reasons := deltaUnusual(volumeChange, priceChange)
	return Signals{
		PriceChange:  priceChange,
		VolumeChange: volumeChange,
		Hotness:      deltaHotness(volumeChange, priceChange),
		Unusual:      len(reasons) > 0,
		Reasons:      reasons,
	}
}
