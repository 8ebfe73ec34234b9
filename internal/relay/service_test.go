package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unusual-markets/internal/alerting"
	"github.com/unusual-markets/internal/history"
	"github.com/unusual-markets/internal/kalshi"
	"github.com/unusual-markets/internal/logging"
	"github.com/unusual-markets/internal/markets"
	"github.com/unusual-markets/internal/metrics"
	"github.com/unusual-markets/internal/scanner"
)

type fakeUpstream struct {
	markets         []kalshi.Market
	events          []kalshi.Event
	truncated       bool
	eventsTruncated bool
	marketsErr      error
	eventsErr       error
	tradesErr       error
	calls           atomic.Int32
}

func (f *fakeUpstream) AllMarkets(ctx context.Context, opts kalshi.GetMarketsOptions, maxPages int) (kalshi.Result[kalshi.Market], error) {
	f.calls.Add(1)
	if f.marketsErr != nil {
		return kalshi.Result[kalshi.Market]{}, f.marketsErr
	}
	return kalshi.Result[kalshi.Market]{Items: f.markets, Pages: 1, Truncated: f.truncated}, nil
}

func (f *fakeUpstream) AllEvents(ctx context.Context, opts kalshi.GetEventsOptions, maxPages int) (kalshi.Result[kalshi.Event], error) {
	f.calls.Add(1)
	if f.eventsErr != nil {
		return kalshi.Result[kalshi.Event]{}, f.eventsErr
	}
	return kalshi.Result[kalshi.Event]{Items: f.events, Pages: 1, Truncated: f.eventsTruncated}, nil
}

func (f *fakeUpstream) GetTrades(ctx context.Context, ticker string, limit int) ([]kalshi.Trade, error) {
	f.calls.Add(1)
	if f.tradesErr != nil {
		return nil, f.tradesErr
	}
	return []kalshi.Trade{{TradeID: "t1", Ticker: ticker, Count: 5}}, nil
}

func (f *fakeUpstream) GetCandlesticks(ctx context.Context, ticker string, opts kalshi.CandlestickOptions) ([]kalshi.Candlestick, error) {
	f.calls.Add(1)
	if opts.PeriodMinutes != 60 || opts.End.Sub(opts.Start) != 24*time.Hour {
		return nil, errors.New("unexpected candlestick window")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return []kalshi.Candlestick{{EndPeriodTS: opts.End.Unix()}}, nil
}

func testOptions() Options {
	return Options{
		PageSize:            100,
		MaxPages:            3,
		EventPageSize:       200,
		EventMaxPages:       10,
		MarketStatus:        "open",
		TradeLimit:          100,
		CandlePeriodMinutes: 60,
		CandleWindow:        24 * time.Hour,
	}
}

func sampleUpstream() *fakeUpstream {
	return &fakeUpstream{
		markets: []kalshi.Market{
			{Ticker: "FED-26DEC-Y", EventTicker: "FED-26DEC", Title: "Fed cut?", LastPriceDollars: kalshi.NewDollars("0.42"), Volume: 120000},
			{Ticker: "NBA-26NOV-Y", EventTicker: "NBA-26NOV", Title: "Lakers win?", LastPrice: 55, Volume: 900},
			{Ticker: "ORPHAN-1", EventTicker: "MISSING", Title: "No event", LastPrice: 0.2, Volume: 10},
		},
		events: []kalshi.Event{
			{EventTicker: "FED-26DEC", Category: "Economics"},
			{EventTicker: "NBA-26NOV", Category: "Sports"},
		},
	}
}

func newTestService(up Upstream, opts Options, extra ...ServiceOption) *Service {
	base := []ServiceOption{WithLogger(logging.Discard())}
	return NewService(up, opts, append(base, extra...)...)
}

// gathered sums every sample of the named family.
func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
	}
	return total
}

func byID(ms []markets.Market) map[string]markets.Market {
	out := make(map[string]markets.Market, len(ms))
	for _, m := range ms {
		out[m.ID] = m
	}
	return out
}

func TestMarkets_JoinsCategoriesAndScores(t *testing.T) {
	svc := newTestService(sampleUpstream(), testOptions())

	res, err := svc.Markets(context.Background(), markets.Query{})
	require.NoError(t, err)
	assert.False(t, res.Demo)
	assert.False(t, res.Degraded)
	assert.Equal(t, 3, res.Total)

	got := byID(res.Markets)
	assert.Equal(t, "Economics", got["FED-26DEC-Y"].Category)
	assert.Equal(t, "Sports", got["NBA-26NOV-Y"].Category)
	assert.Equal(t, "Other", got["ORPHAN-1"].Category)
	assert.Equal(t, "42.0", got["FED-26DEC-Y"].CurrentPrice)
	assert.True(t, got["FED-26DEC-Y"].Unusual, "whale volume")

	// hotness order by default
	assert.Equal(t, "FED-26DEC-Y", res.Markets[0].ID)
}

func TestMarkets_EventsFailureDegrades(t *testing.T) {
	up := sampleUpstream()
	up.eventsErr = errors.New("events down")
	reg := prometheus.NewRegistry()
	m := metrics.NewManager(metrics.WithRegistry(reg))

	svc := newTestService(up, testOptions(), WithMetrics(m))
	res, err := svc.Markets(context.Background(), markets.Query{})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.Len(t, res.Markets, 3)
	for _, mk := range res.Markets {
		assert.Equal(t, "Other", mk.Category)
	}
	assert.Equal(t, 1.0, gathered(t, reg, "unusual_markets_fetch_events_degraded_total"))
}

func TestMarkets_MarketsFailureIsFatal(t *testing.T) {
	up := sampleUpstream()
	up.marketsErr = &kalshi.APIError{StatusCode: 503, Message: "unavailable"}

	svc := newTestService(up, testOptions())
	_, err := svc.Markets(context.Background(), markets.Query{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)

	var apiErr *kalshi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.StatusCode)
}

func TestMarkets_DemoFallback(t *testing.T) {
	up := sampleUpstream()
	up.marketsErr = errors.New("boom")
	opts := testOptions()
	opts.DemoFallback = true

	svc := newTestService(up, opts)
	res, err := svc.Markets(context.Background(), markets.Query{})
	require.NoError(t, err)
	assert.True(t, res.Demo)
	assert.NotEmpty(t, res.Markets)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Markets(ctx, markets.Query{})
	assert.Error(t, err, "a cancelled caller gets no fallback")
}

func TestMarkets_DemoModeMakesNoCalls(t *testing.T) {
	svc := newTestService(nil, testOptions())
	assert.False(t, svc.Configured())

	res, err := svc.Markets(context.Background(), markets.Query{Limit: 5})
	require.NoError(t, err)
	assert.True(t, res.Demo)
	assert.Len(t, res.Markets, 5)
	assert.Equal(t, 24, res.Total)

	raw, err := svc.RawMarkets(context.Background())
	require.NoError(t, err)
	assert.True(t, raw.Demo)
	for _, m := range raw.Markets {
		assert.NotEqual(t, "", m.Category)
		assert.NotEqual(t, "Other", m.Category, "demo events cover every demo market")
	}

	details, err := svc.MarketDetails(context.Background(), "KXBTCD-26DEC31-Y")
	require.NoError(t, err)
	assert.True(t, details.Demo)
	assert.Len(t, details.Candlesticks, 24)

	assert.Equal(t, ModeDemo, svc.Health().Mode)
}

func TestMarkets_TruncationPropagates(t *testing.T) {
	up := sampleUpstream()
	up.truncated = true

	svc := newTestService(up, testOptions())
	res, err := svc.Markets(context.Background(), markets.Query{})
	require.NoError(t, err)
	assert.True(t, res.Truncated)

	raw, err := svc.RawMarkets(context.Background())
	require.NoError(t, err)
	assert.True(t, raw.Truncated)
}

func TestMarkets_EventsTruncationPropagates(t *testing.T) {
	up := sampleUpstream()
	up.eventsTruncated = true

	svc := newTestService(up, testOptions())
	res, err := svc.Markets(context.Background(), markets.Query{})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.False(t, res.Degraded)

	cats, err := svc.Categories(context.Background())
	require.NoError(t, err)
	assert.True(t, cats.Truncated)

	arb, err := svc.NoArb(context.Background())
	require.NoError(t, err)
	assert.True(t, arb.Truncated)
}

func TestMarkets_QueryApplied(t *testing.T) {
	svc := newTestService(sampleUpstream(), testOptions())

	res, err := svc.Markets(context.Background(), markets.Query{Category: "sports"})
	require.NoError(t, err)
	require.Len(t, res.Markets, 1)
	assert.Equal(t, "NBA-26NOV-Y", res.Markets[0].ID)
	assert.Equal(t, 3, res.Total)

	res, err = svc.Markets(context.Background(), markets.Query{UnusualOnly: true})
	require.NoError(t, err)
	for _, m := range res.Markets {
		assert.True(t, m.Unusual)
	}
}

func TestMarkets_RecordsHistoryAndAlerts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := history.NewStore(10, time.Hour)
	alerts := make(chan alerting.Alert, 1)

	svc := newTestService(sampleUpstream(), testOptions(),
		WithHistory(store),
		WithAlerts(alerts),
		WithClock(func() time.Time { return now }),
	)

	_, err := svc.Markets(context.Background(), markets.Query{})
	require.NoError(t, err)
	assert.Equal(t, 3, store.Len())
	assert.Equal(t, 3, svc.Health().HistoryTickers)

	select {
	case a := <-alerts:
		assert.Equal(t, "FED-26DEC-Y", a.Market.ID)
		assert.Equal(t, now, a.Time)
	default:
		t.Fatal("expected an alert for the whale market")
	}

	// a full queue never blocks the pipeline
	alerts <- alerting.Alert{}
	_, err = svc.Markets(context.Background(), markets.Query{})
	require.NoError(t, err)
}

func TestMarkets_RepeatedCallsDoNotGrowHistory(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	// 24h over 1440 snapshots: at most one snapshot a minute.
	store := history.NewStore(1440, 24*time.Hour)

	svc := newTestService(sampleUpstream(), testOptions(),
		WithHistory(store),
		WithClock(func() time.Time { return clock }),
	)

	for i := 0; i < 30; i++ {
		clock = now.Add(time.Duration(i) * time.Second)
		_, err := svc.Markets(context.Background(), markets.Query{})
		require.NoError(t, err)
	}
	assert.Len(t, store.Snapshots("FED-26DEC-Y", time.Time{}), 1)

	clock = now.Add(time.Minute)
	_, err := svc.Markets(context.Background(), markets.Query{})
	require.NoError(t, err)
	assert.Len(t, store.Snapshots("FED-26DEC-Y", time.Time{}), 2)
}

func TestCategories(t *testing.T) {
	svc := newTestService(sampleUpstream(), testOptions())

	res, err := svc.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Categories, 3)
	names := []string{res.Categories[0].Name, res.Categories[1].Name, res.Categories[2].Name}
	assert.ElementsMatch(t, []string{"Economics", "Sports", "Other"}, names)
	for _, c := range res.Categories {
		assert.Equal(t, 1, c.Count)
	}
}

func TestMarketDetails(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(sampleUpstream(), testOptions(), WithClock(func() time.Time { return now }))

	res, err := svc.MarketDetails(context.Background(), "FED-26DEC-Y")
	require.NoError(t, err)
	assert.False(t, res.Demo)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "FED-26DEC-Y", res.Trades[0].Ticker)
	require.Len(t, res.Candlesticks, 1)
	assert.Equal(t, now.Unix(), res.Candlesticks[0].EndPeriodTS)

	_, err = svc.MarketDetails(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidTicker)
}

func TestMarketDetails_UpstreamError(t *testing.T) {
	up := sampleUpstream()
	up.tradesErr = &kalshi.APIError{StatusCode: 404, Message: "not found"}

	svc := newTestService(up, testOptions())
	_, err := svc.MarketDetails(context.Background(), "NOPE")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)

	var apiErr *kalshi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestNoArb(t *testing.T) {
	up := &fakeUpstream{
		markets: []kalshi.Market{
			{Ticker: "WIN-A", EventTicker: "WIN", YesBid: 28, YesAsk: 30},
			{Ticker: "WIN-B", EventTicker: "WIN", YesBid: 38, YesAsk: 40},
			{Ticker: "WIN-C", EventTicker: "WIN", YesBid: 18, YesAsk: 20},
			{Ticker: "IND-A", EventTicker: "IND", YesBid: 10, YesAsk: 12},
			{Ticker: "IND-B", EventTicker: "IND", YesBid: 10, YesAsk: 12},
		},
		events: []kalshi.Event{
			{EventTicker: "WIN", Category: "Sports", MutuallyExclusive: true},
			{EventTicker: "IND", Category: "Sports"},
		},
	}
	opts := testOptions()
	opts.NoArb = scanner.DefaultOptions()

	res, err := newTestService(up, opts).NoArb(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "WIN", res.Violations[0].EventTicker)
	assert.True(t, res.Violations[0].Actionable)

	up.eventsErr = errors.New("events down")
	res, err = newTestService(up, opts).NoArb(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Violations, "exclusivity is unknown without events")

	demoRes, err := newTestService(nil, opts).NoArb(context.Background())
	require.NoError(t, err)
	assert.True(t, demoRes.Demo)
}

func TestHealth(t *testing.T) {
	opts := testOptions()
	opts.DemoFallback = true
	h := newTestService(sampleUpstream(), opts).Health()
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, ModeLive, h.Mode)
	assert.True(t, h.Configured)
	assert.True(t, h.DemoFallback)
}

func TestPoller(t *testing.T) {
	up := sampleUpstream()
	store := history.NewStore(10, time.Hour)
	reg := prometheus.NewRegistry()
	m := metrics.NewManager(metrics.WithRegistry(reg))

	svc := newTestService(up, testOptions(), WithHistory(store), WithMetrics(m))
	p := NewPoller(svc, store, 10*time.Millisecond, logging.Discard(), m)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.GreaterOrEqual(t, up.calls.Load(), int32(4), "immediate poll plus at least one tick")
	assert.Equal(t, 3, store.Len())
	assert.Equal(t, 3.0, gathered(t, reg, "unusual_markets_history_tickers"))
	assert.GreaterOrEqual(t, gathered(t, reg, "unusual_markets_poller_runs_total"), 2.0)
}

func TestPoller_DisabledOrDemo(t *testing.T) {
	svc := newTestService(sampleUpstream(), testOptions())
	assert.NoError(t, NewPoller(svc, nil, 0, nil, nil).Run(context.Background()))

	demoSvc := newTestService(nil, testOptions())
	assert.NoError(t, NewPoller(demoSvc, nil, time.Second, nil, nil).Run(context.Background()))
}
