// Package scanner looks for no-arbitrage violations across the markets of
// mutually exclusive events.
package scanner

import (
	"fmt"
	"sort"

	"github.com/unusual-markets/internal/kalshi"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Violation is an event whose outcome prices do not sum to $1.
type Violation struct {
	EventTicker string   `json:"eventTicker"`
	Markets     []string `json:"markets"`
	Side        string   `json:"side"`
	// SumBuyPrice is the cost in dollars of buying YES on every outcome at
	// the ask; SumSellPrice is the revenue of selling them all at the bid.
	SumBuyPrice       float64 `json:"sumBuyPrice"`
	SumSellPrice      float64 `json:"sumSellPrice"`
	GrossArb          float64 `json:"grossArb"`
	EstimatedFees     float64 `json:"estimatedFees"`
	EstimatedSlippage float64 `json:"estimatedSlippage"`
	NetArb            float64 `json:"netArb"`
	Actionable        bool    `json:"actionable"`
}

// Options holds the cost model. All amounts are in dollars per contract set.
type Options struct {
	FeeRate        float64
	SlippagePerLeg float64
	MinNetArb      float64
}

func DefaultOptions() Options {
	return Options{
		FeeRate:        0.05,
		SlippagePerLeg: 0.01,
		MinNetArb:      0.02,
	}
}

type quote struct {
	ticker   string
	bid, ask float64
}

// NoArb checks every exclusive event with at least two quoted outcomes.
// Events with any leg missing a two-sided quote are skipped. Results are
// ordered by NetArb, best first.
func NoArb(ms []kalshi.Market, exclusive map[string]bool, opts Options) []Violation {
	groups := make(map[string][]quote)
	incomplete := make(map[string]bool)
	for _, m := range ms {
		if m.EventTicker == "" || !exclusive[m.EventTicker] {
			continue
		}
		bid := dollars(m.YesBid, m.YesBidDollars)
		ask := dollars(m.YesAsk, m.YesAskDollars)
		if bid <= 0 || ask <= 0 {
			incomplete[m.EventTicker] = true
			continue
		}
		groups[m.EventTicker] = append(groups[m.EventTicker], quote{ticker: m.Ticker, bid: bid, ask: ask})
	}

	var out []Violation
	for event, legs := range groups {
		if incomplete[event] || len(legs) < 2 {
			continue
		}
		if v, ok := check(event, legs, opts); ok {
			out = append(out, v)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].NetArb != out[j].NetArb {
			return out[i].NetArb > out[j].NetArb
		}
		return out[i].EventTicker < out[j].EventTicker
	})
	return out
}

func check(event string, legs []quote, opts Options) (Violation, bool) {
	v := Violation{EventTicker: event, Markets: make([]string, len(legs))}
	for i, l := range legs {
		v.Markets[i] = l.ticker
		v.SumBuyPrice += l.ask
		v.SumSellPrice += l.bid
	}
	sort.Strings(v.Markets)

	// Exactly one outcome pays $1, so the full set is worth exactly $1.
	notional := v.SumBuyPrice
	switch {
	case v.SumBuyPrice < 1:
		v.Side = SideBuy
		v.GrossArb = 1 - v.SumBuyPrice
	case v.SumSellPrice > 1:
		v.Side = SideSell
		v.GrossArb = v.SumSellPrice - 1
		notional = v.SumSellPrice
	default:
		return Violation{}, false
	}

	v.EstimatedFees = notional * opts.FeeRate
	v.EstimatedSlippage = opts.SlippagePerLeg * float64(len(legs))
	v.NetArb = v.GrossArb - v.EstimatedFees - v.EstimatedSlippage
	v.Actionable = v.NetArb > opts.MinNetArb
	return v, true
}

// dollars prefers the exact dollar field and falls back to cents.
func dollars(cents kalshi.Number, d kalshi.Dollars) float64 {
	if d.Valid {
		f, _ := d.Value.Float64()
		return f
	}
	return cents.Float() / 100
}

func (v Violation) String() string {
	if v.Side == SideBuy {
		return fmt.Sprintf("BUY ARB: event %s, buy all %d outcomes for %.2f¢ against a $1 payout, net after costs %.2f¢",
			v.EventTicker, len(v.Markets), v.SumBuyPrice*100, v.NetArb*100)
	}
	return fmt.Sprintf("SELL ARB: event %s, sell all %d outcomes for %.2f¢ against a $1 liability, net after costs %.2f¢",
		v.EventTicker, len(v.Markets), v.SumSellPrice*100, v.NetArb*100)
}
