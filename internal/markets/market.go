// Package markets reshapes raw exchange records into the dashboard schema.
package markets

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/unusual-markets/internal/catalog"
	"github.com/unusual-markets/internal/kalshi"
)

const (
	Platform      = "Kalshi"
	marketURLBase = "https://kalshi.com/markets/"

	// Bid-ask spread in dollars under which a book counts as tight.
	tightSpreadMax = 0.04
	// Volume over open interest above which recent flow is considered lopsided.
	imbalanceRatio = 0.3
	// Percent changes at or beyond this are treated as bad data.
	priceChangeSanity = 1000
)

var hundred = decimal.NewFromInt(100)

// Market is the dashboard representation of one exchange market.
type Market struct {
	ID          string `json:"id"`
	Platform    string `json:"platform"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	EventTicker string `json:"eventTicker,omitempty"`
	Status      string `json:"status,omitempty"`
	CloseTime   string `json:"closeTime,omitempty"`
	URL         string `json:"url"`

	// CurrentPrice is in cents with one decimal, e.g. "42.0".
	CurrentPrice string  `json:"currentPrice"`
	Price        float64 `json:"-"`
	PriceChange  float64 `json:"priceChange"`

	Volume24h    float64 `json:"volume24h"`
	Trades24h    float64 `json:"trades24h"`
	OpenInterest float64 `json:"-"`
	VolumeChange float64 `json:"volumeChange"`

	HotnessScore int      `json:"hotnessScore"`
	Unusual      bool     `json:"unusual"`
	Reasons      []string `json:"reasons,omitempty"`

	Spread         float64 `json:"spread"`
	TightSpread    bool    `json:"tightSpread"`
	HasImbalance   bool    `json:"hasImbalance"`
	LiquidityScore int     `json:"liquidityScore"`
}

// Transform maps one raw market. It performs no I/O and never fails:
// missing numeric fields are already zero on the raw record.
func Transform(m kalshi.Market) Market {
	price := PriceCents(m)
	priceF := price.InexactFloat64()
	volume := Volume(m)
	oi := m.OpenInterest.Float()

	title := m.Title
	if title == "" {
		title = "Unknown Market"
	}
	category := m.Category
	if category == "" {
		category = catalog.DefaultCategory
	}

	out := Market{
		ID:           m.Ticker,
		Platform:     Platform,
		Title:        title,
		Category:     category,
		EventTicker:  m.EventTicker,
		Status:       m.Status,
		CloseTime:    m.CloseTime,
		URL:          marketURLBase + m.Ticker,
		CurrentPrice: price.StringFixed(1),
		Price:        priceF,
		PriceChange:  round(priceChange(m, priceF), 1),
		Volume24h:    volume,
		Trades24h:    oi,
		OpenInterest: oi,
	}

	spread := spreadDollars(m)
	out.Spread = round(spread, 4)
	out.TightSpread = spread > 0 && spread < tightSpreadMax
	if oi > 0 {
		out.HasImbalance = volume/oi > imbalanceRatio
	}

	liquidity := volume/100 + oi/50
	if out.TightSpread {
		liquidity += 40
	}
	out.LiquidityScore = int(math.Round(math.Min(100, liquidity)))

	return out
}

// TransformAll maps every market in order.
func TransformAll(raw []kalshi.Market) []Market {
	out := make([]Market, len(raw))
	for i, m := range raw {
		out[i] = Transform(m)
	}
	return out
}

// PriceCents prefers last_price_dollars scaled to cents. Without it,
// last_price below 1 is read as a probability fraction and anything else
// as cents already.
func PriceCents(m kalshi.Market) decimal.Decimal {
	if m.LastPriceDollars.Valid {
		return m.LastPriceDollars.Value.Mul(hundred)
	}
	return centsFromNumber(m.LastPrice)
}

func centsFromNumber(n kalshi.Number) decimal.Decimal {
	v := decimal.NewFromFloat(n.Float())
	if v.IsPositive() && v.LessThan(decimal.NewFromInt(1)) {
		return v.Mul(hundred)
	}
	return v
}

// Volume is the first non-zero of volume, liquidity and open interest.
func Volume(m kalshi.Market) float64 {
	for _, v := range []kalshi.Number{m.Volume, m.Liquidity, m.OpenInterest} {
		if v != 0 {
			return v.Float()
		}
	}
	return 0
}

func priceChange(m kalshi.Market, current float64) float64 {
	var prev float64
	switch {
	case m.PreviousYesBidDollars.Valid && m.PreviousYesBidDollars.Value.IsPositive():
		prev = m.PreviousYesBidDollars.Value.Mul(hundred).InexactFloat64()
	case m.PreviousPriceDollars.Valid && m.PreviousPriceDollars.Value.IsPositive():
		prev = m.PreviousPriceDollars.Value.Mul(hundred).InexactFloat64()
	case m.PreviousPrice > 0:
		prev = centsFromNumber(m.PreviousPrice).InexactFloat64()
	}
	return PercentChange(prev, current)
}

// PercentChange is the relative move from prev to current in percent. It
// is zero when either price is missing or the move is implausibly large.
func PercentChange(prev, current float64) float64 {
	if prev <= 0 || current <= 0 {
		return 0
	}
	change := (current - prev) / prev * 100
	if math.Abs(change) >= priceChangeSanity || math.IsNaN(change) {
		return 0
	}
	return change
}

// spreadDollars is yes_ask minus yes_bid in dollars, zero when crossed or
// unquoted.
func spreadDollars(m kalshi.Market) float64 {
	bid, ask := m.YesBid.Float(), m.YesAsk.Float()
	if bid == 0 && ask == 0 && m.YesBidDollars.Valid && m.YesAskDollars.Valid {
		bid = m.YesBidDollars.Value.Mul(hundred).InexactFloat64()
		ask = m.YesAskDollars.Value.Mul(hundred).InexactFloat64()
	}
	if ask <= bid {
		return 0
	}
	return (ask - bid) / 100
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
