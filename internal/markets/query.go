package markets

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrInvalidQuery = errors.New("invalid market query")

// SortKey orders market listings, always descending.
type SortKey string

const (
	SortHotness     SortKey = "hotness"
	SortLiquidity   SortKey = "liquidity"
	SortVolume      SortKey = "volume"
	SortPriceChange SortKey = "price_change"
)

// ParseSortKey accepts "" as SortHotness.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return SortHotness, nil
	case SortHotness, SortLiquidity, SortVolume, SortPriceChange:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown sort %q", ErrInvalidQuery, s)
	}
}

// Query narrows and orders a listing.
type Query struct {
	Sort        SortKey
	UnusualOnly bool
	// Category matches case-insensitively; empty matches all.
	Category string
	// MinVolume > 0 keeps only priced markets trading at least this volume.
	MinVolume float64
	// Limit <= 0 means no limit.
	Limit int
}

// Select filters, sorts and truncates ms without modifying it.
func Select(ms []Market, q Query) []Market {
	out := make([]Market, 0, len(ms))
	for _, m := range ms {
		if q.UnusualOnly && !m.Unusual {
			continue
		}
		if q.Category != "" && !strings.EqualFold(m.Category, q.Category) {
			continue
		}
		if q.MinVolume > 0 && (m.Price <= 0 || m.Volume24h < q.MinVolume) {
			continue
		}
		out = append(out, m)
	}

	Sort(out, q.Sort)

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Sort orders ms in place, descending by key and then by ID for stability.
func Sort(ms []Market, key SortKey) {
	value := func(m Market) float64 {
		switch key {
		case SortLiquidity:
			return float64(m.LiquidityScore)
		case SortVolume:
			return m.Volume24h
		case SortPriceChange:
			if m.PriceChange < 0 {
				return -m.PriceChange
			}
			return m.PriceChange
		default:
			return float64(m.HotnessScore)
		}
	}
	sort.SliceStable(ms, func(i, j int) bool {
		vi, vj := value(ms[i]), value(ms[j])
		if vi != vj {
			return vi > vj
		}
		return ms[i].ID < ms[j].ID
	})
}
