// Package demo generates synthetic exchange data for running the dashboard
// without credentials.
package demo

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/unusual-markets/internal/kalshi"
)

type template struct {
	series   string
	event    string
	category string
	title    string
}

var templates = []template{
	{"KXFEDDECISION", "KXFEDDECISION-26DEC", "Economics", "Will the Fed cut rates in December?"},
	{"KXCPIYOY", "KXCPIYOY-26NOV", "Economics", "Will CPI inflation exceed 3% in November?"},
	{"KXPRESAPPROVAL", "KXPRESAPPROVAL-26DEC", "Politics", "Will presidential approval be above 45%?"},
	{"KXSENATE", "KXSENATE-26", "Elections", "Which party will control the Senate?"},
	{"KXNBAGAME", "KXNBAGAME-26NOV14LALBOS", "Sports", "Will the Lakers beat the Celtics?"},
	{"KXNFLGAME", "KXNFLGAME-26NOV16KCBUF", "Sports", "Will the Chiefs beat the Bills?"},
	{"KXBTCD", "KXBTCD-26DEC31", "Crypto", "Will Bitcoin close the year above $150k?"},
	{"KXETHD", "KXETHD-26DEC31", "Crypto", "Will Ether close the year above $6k?"},
	{"KXHIGHNY", "KXHIGHNY-26NOV20", "Climate and Weather", "Will NYC hit 60F on Nov 20?"},
	{"KXOSCARPIC", "KXOSCARPIC-27", "Entertainment", "Will a streaming film win Best Picture?"},
	{"KXAIMODEL", "KXAIMODEL-26DEC", "Science and Technology", "Will a new frontier AI model launch in December?"},
	{"KXGDP", "KXGDP-26Q4", "Economics", "Will Q4 GDP growth exceed 2%?"},
}

// Generator produces synthetic data. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// New returns a generator seeded for reproducible output.
func New(seed int64) *Generator {
	return &Generator{
		rng: rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15)),
		now: time.Now,
	}
}

// Events returns one event per template, carrying its category. The Y and N
// markets of an event are its mutually exclusive outcomes.
func (g *Generator) Events() []kalshi.Event {
	out := make([]kalshi.Event, len(templates))
	for i, t := range templates {
		out[i] = kalshi.Event{
			EventTicker:       t.event,
			SeriesTicker:      t.series,
			Title:             t.title,
			Category:          t.category,
			MutuallyExclusive: true,
		}
	}
	return out
}

// Markets returns two synthetic markets per template. The category is left
// empty so it is resolved through Events like live data.
func (g *Generator) Markets() []kalshi.Market {
	g.mu.Lock()
	defer g.mu.Unlock()

	closeTime := g.now().Add(30 * 24 * time.Hour).UTC().Format(time.RFC3339)
	out := make([]kalshi.Market, 0, 2*len(templates))
	for _, t := range templates {
		for _, side := range []string{"Y", "N"} {
			price := 3 + g.rng.IntN(95)
			prev := clamp(price+g.rng.IntN(21)-10, 1, 99)
			bid := clamp(price-1-g.rng.IntN(3), 1, 99)
			ask := clamp(price+1+g.rng.IntN(3), 1, 99)
			oi := 1_000 + g.rng.IntN(200_000)
			volume := int(float64(oi) * (0.05 + g.rng.Float64()*0.6))

			out = append(out, kalshi.Market{
				Ticker:                t.event + "-" + side,
				EventTicker:           t.event,
				MarketType:            "binary",
				Title:                 t.title,
				Status:                "active",
				LastPrice:             kalshi.Number(price),
				LastPriceDollars:      kalshi.NewDollars(centsToDollars(price)),
				PreviousYesBid:        kalshi.Number(prev),
				PreviousYesBidDollars: kalshi.NewDollars(centsToDollars(prev)),
				YesBid:                kalshi.Number(bid),
				YesAsk:                kalshi.Number(ask),
				Volume:                kalshi.Number(volume),
				Volume24h:             kalshi.Number(volume / 4),
				Liquidity:             kalshi.Number(volume * 5),
				OpenInterest:          kalshi.Number(oi),
				CloseTime:             closeTime,
			})
		}
	}
	return out
}

// Trades returns n synthetic trades for ticker, newest first.
func (g *Generator) Trades(ticker string, n int) []kalshi.Trade {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	price := 20 + g.rng.IntN(60)
	out := make([]kalshi.Trade, n)
	for i := range out {
		price = clamp(price+g.rng.IntN(5)-2, 1, 99)
		side := "yes"
		if g.rng.IntN(2) == 0 {
			side = "no"
		}
		out[i] = kalshi.Trade{
			TradeID:     fmt.Sprintf("demo-%s-%d", ticker, i),
			Ticker:      ticker,
			Count:       kalshi.Number(1 + g.rng.IntN(500)),
			YesPrice:    kalshi.Number(price),
			NoPrice:     kalshi.Number(100 - price),
			YesPriceUSD: kalshi.NewDollars(centsToDollars(price)),
			TakerSide:   side,
			CreatedTime: now.Add(-time.Duration(i) * 3 * time.Minute).UTC().Format(time.RFC3339),
		}
	}
	return out
}

// Candlesticks returns n hourly candles ending at the current hour, oldest
// first, following a bounded random walk.
func (g *Generator) Candlesticks(n int) []kalshi.Candlestick {
	g.mu.Lock()
	defer g.mu.Unlock()

	end := g.now().Truncate(time.Hour)
	price := float64(20 + g.rng.IntN(60))
	out := make([]kalshi.Candlestick, n)
	for i := range out {
		open := price
		price = math.Max(1, math.Min(99, price+g.rng.NormFloat64()*2))
		high := math.Max(open, price) + g.rng.Float64()*2
		low := math.Min(open, price) - g.rng.Float64()*2

		out[i] = kalshi.Candlestick{
			EndPeriodTS: end.Add(-time.Duration(n-1-i) * time.Hour).Unix(),
			Price: kalshi.OHLC{
				Open:  kalshi.Number(math.Round(open)),
				High:  kalshi.Number(math.Round(math.Min(99, high))),
				Low:   kalshi.Number(math.Round(math.Max(1, low))),
				Close: kalshi.Number(math.Round(price)),
			},
			Volume:       kalshi.Number(g.rng.IntN(5_000)),
			OpenInterest: kalshi.Number(10_000 + g.rng.IntN(50_000)),
		}
	}
	return out
}

func centsToDollars(cents int) string {
	return strconv.FormatFloat(float64(cents)/100, 'f', 4, 64)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
