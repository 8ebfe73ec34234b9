// Package catalog joins markets to the category of their owning event.
package catalog

import (
	"sort"

	"github.com/unusual-markets/internal/kalshi"
)

// DefaultCategory is assigned to markets whose event is unknown.
const DefaultCategory = "Other"

// CategoryMap maps event_ticker to category.
type CategoryMap map[string]string

// BuildCategoryMap indexes events by ticker. Events with an empty ticker or
// category are skipped; a duplicate ticker keeps the last category seen.
func BuildCategoryMap(events []kalshi.Event) CategoryMap {
	m := make(CategoryMap, len(events))
	for _, e := range events {
		if e.EventTicker == "" || e.Category == "" {
			continue
		}
		m[e.EventTicker] = e.Category
	}
	return m
}

// Lookup returns the category for an event ticker, or DefaultCategory.
func (m CategoryMap) Lookup(eventTicker string) string {
	if c, ok := m[eventTicker]; ok {
		return c
	}
	return DefaultCategory
}

// Annotate returns a copy of markets with Category resolved from m. A nil
// map annotates every market as DefaultCategory.
func Annotate(markets []kalshi.Market, m CategoryMap) []kalshi.Market {
	out := make([]kalshi.Market, len(markets))
	for i, mk := range markets {
		mk.Category = m.Lookup(mk.EventTicker)
		out[i] = mk
	}
	return out
}

// CategoryCount is one entry of Categories.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Categories counts annotated markets per category, largest first and then
// by name.
func Categories(markets []kalshi.Market) []CategoryCount {
	counts := make(map[string]int)
	for _, mk := range markets {
		c := mk.Category
		if c == "" {
			c = DefaultCategory
		}
		counts[c]++
	}

	out := make([]CategoryCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, CategoryCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
