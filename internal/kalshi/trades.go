package kalshi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// GetTrades fetches the most recent trades for one market.
func (c *Client) GetTrades(ctx context.Context, ticker string, limit int) ([]Trade, error) {
	query := url.Values{}
	query.Set("ticker", ticker)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp TradesResponse
	if err := c.get(ctx, "trades", "/markets/trades", query, &resp); err != nil {
		return nil, fmt.Errorf("get trades %s: %w", ticker, err)
	}
	return resp.Trades, nil
}

// CandlestickOptions selects the window and resolution of a candlestick query.
type CandlestickOptions struct {
	// SeriesTicker defaults to SeriesTicker(ticker).
	SeriesTicker  string
	Start         time.Time
	End           time.Time
	PeriodMinutes int
}

// GetCandlesticks fetches OHLC history for one market.
func (c *Client) GetCandlesticks(ctx context.Context, ticker string, opts CandlestickOptions) ([]Candlestick, error) {
	series := opts.SeriesTicker
	if series == "" {
		series = SeriesTicker(ticker)
	}
	period := opts.PeriodMinutes
	if period <= 0 {
		period = 60
	}
	end := opts.End
	if end.IsZero() {
		end = time.Now()
	}
	start := opts.Start
	if start.IsZero() {
		start = end.Add(-24 * time.Hour)
	}

	query := url.Values{}
	query.Set("start_ts", strconv.FormatInt(start.Unix(), 10))
	query.Set("end_ts", strconv.FormatInt(end.Unix(), 10))
	query.Set("period_interval", strconv.Itoa(period))

	path := "/series/" + url.PathEscape(series) + "/markets/" + url.PathEscape(ticker) + "/candlesticks"

	var resp CandlesticksResponse
	if err := c.get(ctx, "candlesticks", path, query, &resp); err != nil {
		return nil, fmt.Errorf("get candlesticks %s: %w", ticker, err)
	}
	return resp.Candlesticks, nil
}
