package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unusual-markets/internal/kalshi"
)

func leg(event, ticker string, bid, ask float64) kalshi.Market {
	return kalshi.Market{Ticker: ticker, EventTicker: event, YesBid: kalshi.Number(bid), YesAsk: kalshi.Number(ask)}
}

func TestNoArb(t *testing.T) {
	ms := []kalshi.Market{
		leg("CHEAP", "CHEAP-A", 28, 30),
		leg("CHEAP", "CHEAP-B", 38, 40),
		leg("CHEAP", "CHEAP-C", 18, 20),

		leg("RICH", "RICH-A", 60, 62),
		leg("RICH", "RICH-B", 45, 47),

		leg("FAIR", "FAIR-A", 48, 52),
		leg("FAIR", "FAIR-B", 48, 52),

		leg("NOTEXCL", "NOTEXCL-A", 10, 12),
		leg("NOTEXCL", "NOTEXCL-B", 10, 12),

		leg("ONESIDED", "ONESIDED-A", 0, 20),
		leg("ONESIDED", "ONESIDED-B", 10, 20),

		leg("SINGLE", "SINGLE-A", 10, 12),
	}
	exclusive := map[string]bool{"CHEAP": true, "RICH": true, "FAIR": true, "ONESIDED": true, "SINGLE": true}

	got := NoArb(ms, exclusive, DefaultOptions())
	require.Len(t, got, 2)

	cheap := got[0]
	assert.Equal(t, "CHEAP", cheap.EventTicker)
	assert.Equal(t, SideBuy, cheap.Side)
	assert.Equal(t, []string{"CHEAP-A", "CHEAP-B", "CHEAP-C"}, cheap.Markets)
	assert.InDelta(t, 0.90, cheap.SumBuyPrice, 1e-9)
	assert.InDelta(t, 0.10, cheap.GrossArb, 1e-9)
	assert.InDelta(t, 0.045, cheap.EstimatedFees, 1e-9)
	assert.InDelta(t, 0.03, cheap.EstimatedSlippage, 1e-9)
	assert.InDelta(t, 0.025, cheap.NetArb, 1e-9)
	assert.True(t, cheap.Actionable)
	assert.Contains(t, cheap.String(), "BUY ARB: event CHEAP")

	rich := got[1]
	assert.Equal(t, "RICH", rich.EventTicker)
	assert.Equal(t, SideSell, rich.Side)
	assert.InDelta(t, 1.05, rich.SumSellPrice, 1e-9)
	assert.InDelta(t, 0.05, rich.GrossArb, 1e-9)
	assert.False(t, rich.Actionable, "fees eat the edge")
	assert.Contains(t, rich.String(), "SELL ARB")
}

func TestNoArb_PrefersDollarQuotes(t *testing.T) {
	ms := []kalshi.Market{
		{Ticker: "E-A", EventTicker: "E", YesBid: 1, YesAsk: 99, YesBidDollars: kalshi.NewDollars("0.2500"), YesAskDollars: kalshi.NewDollars("0.2600")},
		{Ticker: "E-B", EventTicker: "E", YesBidDollars: kalshi.NewDollars("0.3000"), YesAskDollars: kalshi.NewDollars("0.3100")},
	}

	got := NoArb(ms, map[string]bool{"E": true}, Options{})
	require.Len(t, got, 1)
	assert.InDelta(t, 0.57, got[0].SumBuyPrice, 1e-9)
	assert.InDelta(t, 0.43, got[0].NetArb, 1e-9, "zero cost model")
}

func TestNoArb_Empty(t *testing.T) {
	assert.Empty(t, NoArb(nil, nil, DefaultOptions()))
}
