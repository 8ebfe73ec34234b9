package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/unusual-markets/internal/catalog"
	"github.com/unusual-markets/internal/kalshi"
	"github.com/unusual-markets/internal/markets"
	"github.com/unusual-markets/internal/relay"
	"github.com/unusual-markets/internal/scanner"
)

type marketsResponse struct {
	Success   bool             `json:"success"`
	Demo      bool             `json:"demo"`
	Truncated bool             `json:"truncated"`
	Degraded  bool             `json:"degraded,omitempty"`
	Count     int              `json:"count"`
	Total     int              `json:"total"`
	Markets   []markets.Market `json:"markets"`
	Timestamp time.Time        `json:"timestamp"`
}

type rawMarketsResponse struct {
	Success   bool            `json:"success"`
	Demo      bool            `json:"demo"`
	Truncated bool            `json:"truncated"`
	Degraded  bool            `json:"degraded,omitempty"`
	Count     int             `json:"count"`
	Markets   []kalshi.Market `json:"markets"`
}

type detailsResponse struct {
	Success      bool                 `json:"success"`
	Demo         bool                 `json:"demo"`
	Ticker       string               `json:"ticker"`
	Trades       []kalshi.Trade       `json:"trades"`
	Candlesticks []kalshi.Candlestick `json:"candlesticks"`
}

type categoriesResponse struct {
	Success    bool                    `json:"success"`
	Demo       bool                    `json:"demo"`
	Truncated  bool                    `json:"truncated"`
	Degraded   bool                    `json:"degraded,omitempty"`
	Count      int                     `json:"count"`
	Categories []catalog.CategoryCount `json:"categories"`
	Timestamp  time.Time               `json:"timestamp"`
}

type noArbResponse struct {
	Success    bool                `json:"success"`
	Demo       bool                `json:"demo"`
	Truncated  bool                `json:"truncated"`
	Degraded   bool                `json:"degraded,omitempty"`
	Count      int                 `json:"count"`
	Violations []scanner.Violation `json:"violations"`
	Timestamp  time.Time           `json:"timestamp"`
}

type healthResponse struct {
	Status         string    `json:"status"`
	Mode           string    `json:"mode"`
	Configured     bool      `json:"configured"`
	DemoFallback   bool      `json:"demoFallback"`
	HistoryTickers int       `json:"historyTickers"`
	Timestamp      time.Time `json:"timestamp"`
}

func newMarketsResponse(res relay.MarketsResult) marketsResponse {
	ms := res.Markets
	if ms == nil {
		ms = []markets.Market{}
	}
	return marketsResponse{
		Success:   true,
		Demo:      res.Demo,
		Truncated: res.Truncated,
		Degraded:  res.Degraded,
		Count:     len(ms),
		Total:     res.Total,
		Markets:   ms,
		Timestamp: res.Timestamp,
	}
}

func (s *Server) getMarkets(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r.URL.Query())
	if err != nil {
		s.fail(w, r, err, "markets")
		return
	}

	res, err := s.svc.Markets(r.Context(), q)
	if err != nil {
		s.fail(w, r, err, "markets")
		return
	}
	writeJSON(w, http.StatusOK, newMarketsResponse(res))
}

func (s *Server) getRawMarkets(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.RawMarkets(r.Context())
	if err != nil {
		s.fail(w, r, err, "markets")
		return
	}

	ms := res.Markets
	if ms == nil {
		ms = []kalshi.Market{}
	}
	writeJSON(w, http.StatusOK, rawMarketsResponse{
		Success:   true,
		Demo:      res.Demo,
		Truncated: res.Truncated,
		Degraded:  res.Degraded,
		Count:     len(ms),
		Markets:   ms,
	})
}

func (s *Server) getMarketDetails(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]

	res, err := s.svc.MarketDetails(r.Context(), ticker)
	if err != nil {
		s.fail(w, r, err, "trades", "candlesticks")
		return
	}
	writeJSON(w, http.StatusOK, detailsResponse{
		Success:      true,
		Demo:         res.Demo,
		Ticker:       res.Ticker,
		Trades:       res.Trades,
		Candlesticks: res.Candlesticks,
	})
}

func (s *Server) getCategories(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Categories(r.Context())
	if err != nil {
		s.fail(w, r, err, "categories")
		return
	}

	cats := res.Categories
	if cats == nil {
		cats = []catalog.CategoryCount{}
	}
	writeJSON(w, http.StatusOK, categoriesResponse{
		Success:    true,
		Demo:       res.Demo,
		Truncated:  res.Truncated,
		Degraded:   res.Degraded,
		Count:      len(cats),
		Categories: cats,
		Timestamp:  res.Timestamp,
	})
}

func (s *Server) getNoArbViolations(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.NoArb(r.Context())
	if err != nil {
		s.fail(w, r, err, "violations")
		return
	}

	vs := res.Violations
	if vs == nil {
		vs = []scanner.Violation{}
	}
	writeJSON(w, http.StatusOK, noArbResponse{
		Success:    true,
		Demo:       res.Demo,
		Truncated:  res.Truncated,
		Degraded:   res.Degraded,
		Count:      len(vs),
		Violations: vs,
		Timestamp:  res.Timestamp,
	})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	h := s.svc.Health()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         h.Status,
		Mode:           h.Mode,
		Configured:     h.Configured,
		DemoFallback:   h.DemoFallback,
		HistoryTickers: h.HistoryTickers,
		Timestamp:      h.Timestamp,
	})
}

// parseQuery reads sort, unusual, category, limit and min_volume. Absent
// limit and min_volume fall back to the configured defaults; limit=0
// disables the limit.
func (s *Server) parseQuery(v url.Values) (markets.Query, error) {
	q := markets.Query{
		Category:  v.Get("category"),
		Limit:     s.config.DefaultLimit,
		MinVolume: s.config.MinVolume,
	}

	sort, err := markets.ParseSortKey(v.Get("sort"))
	if err != nil {
		return markets.Query{}, err
	}
	q.Sort = sort

	if raw := v.Get("unusual"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return markets.Query{}, fmt.Errorf("%w: unusual %q", markets.ErrInvalidQuery, raw)
		}
		q.UnusualOnly = b
	}

	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return markets.Query{}, fmt.Errorf("%w: limit %q", markets.ErrInvalidQuery, raw)
		}
		q.Limit = n
	}

	if raw := v.Get("min_volume"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 {
			return markets.Query{}, fmt.Errorf("%w: min_volume %q", markets.ErrInvalidQuery, raw)
		}
		q.MinVolume = f
	}

	return q, nil
}
