package kalshi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// GetMarkets fetches a page of markets.
func (c *Client) GetMarkets(ctx context.Context, opts GetMarketsOptions) (*MarketsResponse, error) {
	query := url.Values{}

	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}
	if opts.EventTicker != "" {
		query.Set("event_ticker", opts.EventTicker)
	}
	if opts.SeriesTicker != "" {
		query.Set("series_ticker", opts.SeriesTicker)
	}
	if len(opts.Tickers) > 0 {
		query.Set("tickers", strings.Join(opts.Tickers, ","))
	}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}

	var resp MarketsResponse
	if err := c.get(ctx, "markets", "/markets", query, &resp); err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}

	return &resp, nil
}

// AllMarkets pages through /markets using opts.Limit as the page size.
func (c *Client) AllMarkets(ctx context.Context, opts GetMarketsOptions, maxPages int) (Result[Market], error) {
	return FetchAll(ctx, func(ctx context.Context, cursor string, limit int) (Page[Market], error) {
		o := opts
		o.Cursor = cursor
		o.Limit = limit
		resp, err := c.GetMarkets(ctx, o)
		if err != nil {
			return Page[Market]{}, err
		}
		return Page[Market]{Items: resp.Markets, Cursor: resp.Cursor}, nil
	}, opts.Limit, maxPages)
}

// GetEvents fetches a page of events.
func (c *Client) GetEvents(ctx context.Context, opts GetEventsOptions) (*EventsResponse, error) {
	query := url.Values{}

	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.SeriesTicker != "" {
		query.Set("series_ticker", opts.SeriesTicker)
	}

	var resp EventsResponse
	if err := c.get(ctx, "events", "/events", query, &resp); err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}

	return &resp, nil
}

// AllEvents pages through /events using opts.Limit as the page size.
func (c *Client) AllEvents(ctx context.Context, opts GetEventsOptions, maxPages int) (Result[Event], error) {
	return FetchAll(ctx, func(ctx context.Context, cursor string, limit int) (Page[Event], error) {
		o := opts
		o.Cursor = cursor
		o.Limit = limit
		resp, err := c.GetEvents(ctx, o)
		if err != nil {
			return Page[Event]{}, err
		}
		return Page[Event]{Items: resp.Events, Cursor: resp.Cursor}, nil
	}, opts.Limit, maxPages)
}
