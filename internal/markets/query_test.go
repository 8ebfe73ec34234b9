package markets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(ms []Market) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func sample() []Market {
	return []Market{
		{ID: "A", Category: "Sports", Price: 40, Volume24h: 9000, HotnessScore: 10, LiquidityScore: 90, PriceChange: -30},
		{ID: "B", Category: "Politics", Price: 55, Volume24h: 1000, HotnessScore: 80, LiquidityScore: 20, Unusual: true},
		{ID: "C", Category: "sports", Price: 0, Volume24h: 50000, HotnessScore: 50, LiquidityScore: 50, PriceChange: 5, Unusual: true},
		{ID: "D", Category: "Other", Price: 12, Volume24h: 6000, HotnessScore: 80, LiquidityScore: 70},
	}
}

func TestParseSortKey(t *testing.T) {
	k, err := ParseSortKey("")
	require.NoError(t, err)
	assert.Equal(t, SortHotness, k)

	k, err = ParseSortKey(" Volume ")
	require.NoError(t, err)
	assert.Equal(t, SortVolume, k)

	_, err = ParseSortKey("alphabetical")
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"hotness default with id tiebreak", Query{}, []string{"B", "D", "C", "A"}},
		{"liquidity", Query{Sort: SortLiquidity}, []string{"A", "D", "C", "B"}},
		{"volume", Query{Sort: SortVolume}, []string{"C", "A", "D", "B"}},
		{"absolute price change", Query{Sort: SortPriceChange}, []string{"A", "C", "B", "D"}},
		{"unusual only", Query{UnusualOnly: true}, []string{"B", "C"}},
		{"category case insensitive", Query{Category: "SPORTS"}, []string{"C", "A"}},
		{"min volume drops unpriced", Query{MinVolume: 5000, Sort: SortVolume}, []string{"A", "D"}},
		{"limit", Query{Limit: 2}, []string{"B", "D"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sample()
			assert.Equal(t, tt.want, ids(Select(in, tt.q)))
			assert.Equal(t, []string{"A", "B", "C", "D"}, ids(in), "input order untouched")
		})
	}
}
