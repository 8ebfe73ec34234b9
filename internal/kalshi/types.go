package kalshi

import "strings"

// MarketsResponse from GET /markets
type MarketsResponse struct {
	Markets []Market `json:"markets"`
	Cursor  string   `json:"cursor"`
}

// Market is a raw market record. Category is not populated by the markets
// endpoint; it is filled in from the owning event.
type Market struct {
	Ticker      string `json:"ticker"`
	EventTicker string `json:"event_ticker"`
	MarketType  string `json:"market_type,omitempty"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle,omitempty"`
	YesSubTitle string `json:"yes_sub_title,omitempty"`
	NoSubTitle  string `json:"no_sub_title,omitempty"`
	Status      string `json:"status"`
	Category    string `json:"category,omitempty"`

	// Prices in cents
	LastPrice      Number `json:"last_price"`
	PreviousPrice  Number `json:"previous_price"`
	PreviousYesBid Number `json:"previous_yes_bid"`
	YesBid         Number `json:"yes_bid"`
	YesAsk         Number `json:"yes_ask"`
	NoBid          Number `json:"no_bid"`
	NoAsk          Number `json:"no_ask"`

	// Prices as fixed-point dollar strings
	LastPriceDollars      Dollars `json:"last_price_dollars"`
	PreviousPriceDollars  Dollars `json:"previous_price_dollars"`
	PreviousYesBidDollars Dollars `json:"previous_yes_bid_dollars"`
	YesBidDollars         Dollars `json:"yes_bid_dollars"`
	YesAskDollars         Dollars `json:"yes_ask_dollars"`

	Volume       Number `json:"volume"`
	Volume24h    Number `json:"volume_24h"`
	Liquidity    Number `json:"liquidity"`
	OpenInterest Number `json:"open_interest"`

	OpenTime       string `json:"open_time,omitempty"`
	CloseTime      string `json:"close_time,omitempty"`
	ExpirationTime string `json:"expiration_time,omitempty"`
}

// EventsResponse from GET /events
type EventsResponse struct {
	Events []Event `json:"events"`
	Cursor string  `json:"cursor"`
}

// Event groups related markets and carries their category.
type Event struct {
	EventTicker       string `json:"event_ticker"`
	SeriesTicker      string `json:"series_ticker"`
	Title             string `json:"title"`
	SubTitle          string `json:"sub_title,omitempty"`
	Category          string `json:"category"`
	MutuallyExclusive bool   `json:"mutually_exclusive"`
}

// TradesResponse from GET /markets/trades
type TradesResponse struct {
	Trades []Trade `json:"trades"`
	Cursor string  `json:"cursor"`
}

type Trade struct {
	TradeID     string  `json:"trade_id"`
	Ticker      string  `json:"ticker"`
	Count       Number  `json:"count"`
	YesPrice    Number  `json:"yes_price"`
	NoPrice     Number  `json:"no_price"`
	YesPriceUSD Dollars `json:"yes_price_dollars"`
	TakerSide   string  `json:"taker_side"`
	CreatedTime string  `json:"created_time"`
}

// CandlesticksResponse from GET /series/{series}/markets/{ticker}/candlesticks
type CandlesticksResponse struct {
	Ticker       string        `json:"ticker"`
	Candlesticks []Candlestick `json:"candlesticks"`
}

type Candlestick struct {
	EndPeriodTS  int64  `json:"end_period_ts"`
	Price        OHLC   `json:"price"`
	YesBid       OHLC   `json:"yes_bid"`
	YesAsk       OHLC   `json:"yes_ask"`
	Volume       Number `json:"volume"`
	OpenInterest Number `json:"open_interest"`
}

// OHLC prices in cents.
type OHLC struct {
	Open  Number `json:"open"`
	High  Number `json:"high"`
	Low   Number `json:"low"`
	Close Number `json:"close"`
}

// GetMarketsOptions configures a GetMarkets request.
type GetMarketsOptions struct {
	Limit        int
	Cursor       string
	Status       string
	EventTicker  string
	SeriesTicker string
	Tickers      []string
}

// GetEventsOptions configures a GetEvents request.
type GetEventsOptions struct {
	Limit        int
	Cursor       string
	Status       string
	SeriesTicker string
}

// SeriesTicker derives the series from a market or event ticker by the
// exchange's naming convention: everything before the first dash.
func SeriesTicker(ticker string) string {
	if i := strings.IndexByte(ticker, '-'); i > 0 {
		return ticker[:i]
	}
	return ticker
}
