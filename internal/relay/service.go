// Package relay runs the market pipeline behind the HTTP facade: fetch
// markets and events, join categories, transform, score and select.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unusual-markets/internal/alerting"
	"github.com/unusual-markets/internal/catalog"
	"github.com/unusual-markets/internal/config"
	"github.com/unusual-markets/internal/demo"
	"github.com/unusual-markets/internal/history"
	"github.com/unusual-markets/internal/kalshi"
	"github.com/unusual-markets/internal/markets"
	"github.com/unusual-markets/internal/metrics"
	"github.com/unusual-markets/internal/scanner"
	"github.com/unusual-markets/internal/scoring"
)

var (
	// ErrUpstream wraps failures of the essential upstream calls.
	ErrUpstream = errors.New("upstream request failed")

	ErrInvalidTicker = errors.New("invalid ticker")
)

const (
	ModeLive = "live"
	ModeDemo = "demo"

	demoReasonUnconfigured = "unconfigured"
	demoReasonFallback     = "fallback"
)

// Upstream is the part of *kalshi.Client the relay depends on.
type Upstream interface {
	AllMarkets(ctx context.Context, opts kalshi.GetMarketsOptions, maxPages int) (kalshi.Result[kalshi.Market], error)
	AllEvents(ctx context.Context, opts kalshi.GetEventsOptions, maxPages int) (kalshi.Result[kalshi.Event], error)
	GetTrades(ctx context.Context, ticker string, limit int) ([]kalshi.Trade, error)
	GetCandlesticks(ctx context.Context, ticker string, opts kalshi.CandlestickOptions) ([]kalshi.Candlestick, error)
}

// Options are the pipeline's tunables.
type Options struct {
	PageSize      int
	MaxPages      int
	EventPageSize int
	EventMaxPages int
	MarketStatus  string

	// DemoFallback serves synthetic data when the upstream fails instead
	// of an error.
	DemoFallback bool

	TradeLimit          int
	CandlePeriodMinutes int
	CandleWindow        time.Duration

	NoArb scanner.Options
}

// OptionsFromConfig maps the fetch and API sections onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PageSize:            cfg.Fetch.PageSize,
		MaxPages:            cfg.Fetch.MaxPages,
		EventPageSize:       cfg.Fetch.EventPageSize,
		EventMaxPages:       cfg.Fetch.EventMaxPages,
		MarketStatus:        "open",
		DemoFallback:        cfg.API.DemoFallback,
		TradeLimit:          100,
		CandlePeriodMinutes: 60,
		CandleWindow:        24 * time.Hour,
		NoArb:               scanner.DefaultOptions(),
	}
}

// Service is safe for concurrent use.
type Service struct {
	upstream   Upstream
	opts       Options
	scorer     scoring.Scorer
	demoScorer scoring.Scorer
	demo       *demo.Generator
	store      *history.Store
	alerts     chan<- alerting.Alert
	logger     *slog.Logger
	metrics    *metrics.Manager
	now        func() time.Time
}

type ServiceOption func(*Service)

func WithScorer(s scoring.Scorer) ServiceOption {
	return func(svc *Service) {
		if s != nil {
			svc.scorer = s
		}
	}
}

// WithHistory records a snapshot of every live pipeline run into store.
func WithHistory(store *history.Store) ServiceOption {
	return func(svc *Service) { svc.store = store }
}

// WithAlerts forwards markets flagged unusual to ch without blocking.
func WithAlerts(ch chan<- alerting.Alert) ServiceOption {
	return func(svc *Service) { svc.alerts = ch }
}

func WithDemo(g *demo.Generator) ServiceOption {
	return func(svc *Service) {
		if g != nil {
			svc.demo = g
		}
	}
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(svc *Service) {
		if l != nil {
			svc.logger = l
		}
	}
}

func WithMetrics(m *metrics.Manager) ServiceOption {
	return func(svc *Service) { svc.metrics = m }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(svc *Service) {
		if now != nil {
			svc.now = now
		}
	}
}

// NewService builds the pipeline. A nil upstream puts the service in demo
// mode: every call is answered from synthetic data without network access.
func NewService(upstream Upstream, opts Options, svcOpts ...ServiceOption) *Service {
	seed := time.Now().UnixNano()
	s := &Service{
		upstream:   upstream,
		opts:       opts,
		scorer:     scoring.FlowScorer{},
		demoScorer: scoring.NewRandomScorer(seed),
		demo:       demo.New(seed),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range svcOpts {
		o(s)
	}
	return s
}

// Configured reports whether the service talks to the live upstream.
func (s *Service) Configured() bool { return s.upstream != nil }

// MarketsResult is a scored, filtered market listing.
type MarketsResult struct {
	Markets   []markets.Market
	Demo      bool
	// Truncated is set when markets or events stopped at the page ceiling.
	Truncated bool
	// Degraded is set when categories could not be loaded and every
	// market fell back to the default category.
	Degraded  bool
	Total     int
	Timestamp time.Time
}

// Markets runs the full pipeline and applies q.
func (s *Service) Markets(ctx context.Context, q markets.Query) (MarketsResult, error) {
	if !s.Configured() {
		return s.demoMarkets(q, demoReasonUnconfigured), nil
	}

	batch, err := s.fetchAnnotated(ctx)
	if err != nil {
		if s.fallback(ctx, err) {
			return s.demoMarkets(q, demoReasonFallback), nil
		}
		return MarketsResult{}, err
	}

	now := s.now()
	transformed := markets.TransformAll(batch.markets)
	s.record(transformed, now)
	scored := scoring.Apply(s.scorer, transformed)
	s.notify(scored, now)

	return MarketsResult{
		Markets:   markets.Select(scored, q),
		Truncated: batch.truncated,
		Degraded:  batch.degraded,
		Total:     len(scored),
		Timestamp: now,
	}, nil
}

// RawMarketsResult holds category-annotated provider records.
type RawMarketsResult struct {
	Markets   []kalshi.Market
	Demo      bool
	Truncated bool
	Degraded  bool
}

// RawMarkets returns the joined records without transformation.
func (s *Service) RawMarkets(ctx context.Context) (RawMarketsResult, error) {
	if !s.Configured() {
		s.metrics.RecordDemo(demoReasonUnconfigured)
		return RawMarketsResult{Markets: s.demoRaw(), Demo: true}, nil
	}

	batch, err := s.fetchAnnotated(ctx)
	if err != nil {
		if s.fallback(ctx, err) {
			s.metrics.RecordDemo(demoReasonFallback)
			return RawMarketsResult{Markets: s.demoRaw(), Demo: true}, nil
		}
		return RawMarketsResult{}, err
	}
	return RawMarketsResult{Markets: batch.markets, Truncated: batch.truncated, Degraded: batch.degraded}, nil
}

// CategoriesResult counts markets per category.
type CategoriesResult struct {
	Categories []catalog.CategoryCount
	Demo       bool
	Truncated  bool
	Degraded   bool
	Timestamp  time.Time
}

func (s *Service) Categories(ctx context.Context) (CategoriesResult, error) {
	raw, err := s.RawMarkets(ctx)
	if err != nil {
		return CategoriesResult{}, err
	}
	return CategoriesResult{
		Categories: catalog.Categories(raw.Markets),
		Demo:       raw.Demo,
		Truncated:  raw.Truncated,
		Degraded:   raw.Degraded,
		Timestamp:  s.now(),
	}, nil
}

// NoArbResult lists exclusive events whose quotes do not sum to $1.
type NoArbResult struct {
	Violations []scanner.Violation
	Demo       bool
	Truncated  bool
	// Degraded means events were unavailable, so no event could be
	// checked.
	Degraded  bool
	Timestamp time.Time
}

// NoArb scans the current quotes of every mutually exclusive event.
func (s *Service) NoArb(ctx context.Context) (NoArbResult, error) {
	if !s.Configured() {
		return s.demoNoArb(demoReasonUnconfigured), nil
	}

	batch, err := s.fetchAnnotated(ctx)
	if err != nil {
		if s.fallback(ctx, err) {
			return s.demoNoArb(demoReasonFallback), nil
		}
		return NoArbResult{}, err
	}
	return NoArbResult{
		Violations: scanner.NoArb(batch.markets, batch.exclusive, s.opts.NoArb),
		Truncated:  batch.truncated,
		Degraded:   batch.degraded,
		Timestamp:  s.now(),
	}, nil
}

// DetailsResult is the trade tape and price history of one market.
type DetailsResult struct {
	Ticker       string
	Trades       []kalshi.Trade
	Candlesticks []kalshi.Candlestick
	Demo         bool
}

// MarketDetails fetches trades and candlesticks concurrently. The first
// failure cancels the other call.
func (s *Service) MarketDetails(ctx context.Context, ticker string) (DetailsResult, error) {
	if ticker == "" {
		return DetailsResult{}, ErrInvalidTicker
	}
	if !s.Configured() {
		return s.demoDetails(ticker, demoReasonUnconfigured), nil
	}

	var (
		trades  []kalshi.Trade
		candles []kalshi.Candlestick
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		trades, err = s.upstream.GetTrades(gctx, ticker, s.opts.TradeLimit)
		return err
	})
	g.Go(func() error {
		end := s.now()
		var err error
		candles, err = s.upstream.GetCandlesticks(gctx, ticker, kalshi.CandlestickOptions{
			Start:         end.Add(-s.opts.CandleWindow),
			End:           end,
			PeriodMinutes: s.opts.CandlePeriodMinutes,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		err = fmt.Errorf("%w: details %s: %w", ErrUpstream, ticker, err)
		if s.fallback(ctx, err) {
			return s.demoDetails(ticker, demoReasonFallback), nil
		}
		return DetailsResult{}, err
	}

	if trades == nil {
		trades = []kalshi.Trade{}
	}
	if candles == nil {
		candles = []kalshi.Candlestick{}
	}
	return DetailsResult{Ticker: ticker, Trades: trades, Candlesticks: candles}, nil
}

// Health describes the service mode without touching the upstream.
type Health struct {
	Status         string
	Mode           string
	Configured     bool
	DemoFallback   bool
	HistoryTickers int
	Timestamp      time.Time
}

func (s *Service) Health() Health {
	h := Health{
		Status:       "healthy",
		Mode:         ModeDemo,
		Configured:   s.Configured(),
		DemoFallback: s.opts.DemoFallback,
		Timestamp:    s.now(),
	}
	if h.Configured {
		h.Mode = ModeLive
	}
	if s.store != nil {
		h.HistoryTickers = s.store.Len()
	}
	return h
}

type batch struct {
	markets   []kalshi.Market
	exclusive map[string]bool
	// truncated is set when either listing stopped at its page ceiling.
	// Markets of unseen events fall back to the default category.
	truncated bool
	degraded  bool
}

// fetchAnnotated loads markets and events in parallel. A markets failure
// fails the batch; an events failure only drops category enrichment.
func (s *Service) fetchAnnotated(ctx context.Context) (batch, error) {
	var (
		mres      kalshi.Result[kalshi.Market]
		eres      kalshi.Result[kalshi.Event]
		eventsErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		mres, err = s.upstream.AllMarkets(gctx, kalshi.GetMarketsOptions{
			Limit:  s.opts.PageSize,
			Status: s.opts.MarketStatus,
		}, s.opts.MaxPages)
		if err != nil {
			return fmt.Errorf("%w: markets: %w", ErrUpstream, err)
		}
		return nil
	})
	g.Go(func() error {
		eres, eventsErr = s.upstream.AllEvents(gctx, kalshi.GetEventsOptions{
			Limit:  s.opts.EventPageSize,
			Status: s.opts.MarketStatus,
		}, s.opts.EventMaxPages)
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("markets fetch failed", "error", err)
		return batch{}, err
	}

	s.metrics.RecordFetch("markets", mres.Pages, mres.Truncated)
	if mres.Truncated {
		s.logger.Warn("markets truncated at page ceiling", "pages", mres.Pages, "markets", len(mres.Items))
	}

	cats := catalog.CategoryMap{}
	exclusive := map[string]bool{}
	degraded := false
	truncated := mres.Truncated
	if eventsErr != nil {
		degraded = true
		s.metrics.RecordEventsDegraded()
		s.logger.Warn("events fetch failed, categories default to Other", "error", eventsErr)
	} else {
		s.metrics.RecordFetch("events", eres.Pages, eres.Truncated)
		if eres.Truncated {
			truncated = true
			s.logger.Warn("events truncated at page ceiling", "pages", eres.Pages, "events", len(eres.Items))
		}
		cats = catalog.BuildCategoryMap(eres.Items)
		exclusive = exclusiveEvents(eres.Items)
	}

	return batch{
		markets:   catalog.Annotate(mres.Items, cats),
		exclusive: exclusive,
		truncated: truncated,
		degraded:  degraded,
	}, nil
}

func exclusiveEvents(events []kalshi.Event) map[string]bool {
	out := make(map[string]bool)
	for _, e := range events {
		if e.MutuallyExclusive && e.EventTicker != "" {
			out[e.EventTicker] = true
		}
	}
	return out
}

// fallback reports whether err should be answered with demo data. A
// cancelled caller never gets a fallback.
func (s *Service) fallback(ctx context.Context, err error) bool {
	if !s.opts.DemoFallback || ctx.Err() != nil {
		return false
	}
	s.logger.Warn("serving demo data after upstream failure", "error", err)
	return true
}

func (s *Service) record(ms []markets.Market, now time.Time) {
	if s.store == nil {
		return
	}
	snaps := make([]history.Snapshot, len(ms))
	for i, m := range ms {
		snaps[i] = history.Snapshot{
			Ticker:       m.ID,
			Time:         now,
			Price:        m.Price,
			Volume:       m.Volume24h,
			OpenInterest: m.OpenInterest,
		}
	}
	s.store.Record(snaps...)
	s.metrics.SetHistoryTickers(s.store.Len())
}

func (s *Service) notify(ms []markets.Market, now time.Time) {
	unusual := 0
	for _, m := range ms {
		if !m.Unusual {
			continue
		}
		unusual++
		if s.alerts == nil {
			continue
		}
		select {
		case s.alerts <- alerting.Alert{Market: m, Time: now}:
		default:
			s.logger.Debug("alert queue full, dropping", "ticker", m.ID)
		}
	}
	s.metrics.SetUnusualMarkets(unusual)
}

func (s *Service) demoRaw() []kalshi.Market {
	return catalog.Annotate(s.demo.Markets(), catalog.BuildCategoryMap(s.demo.Events()))
}

func (s *Service) demoMarkets(q markets.Query, reason string) MarketsResult {
	s.metrics.RecordDemo(reason)
	scored := scoring.Apply(s.demoScorer, markets.TransformAll(s.demoRaw()))
	return MarketsResult{
		Markets:   markets.Select(scored, q),
		Demo:      true,
		Total:     len(scored),
		Timestamp: s.now(),
	}
}

func (s *Service) demoNoArb(reason string) NoArbResult {
	s.metrics.RecordDemo(reason)
	return NoArbResult{
		Violations: scanner.NoArb(s.demo.Markets(), exclusiveEvents(s.demo.Events()), s.opts.NoArb),
		Demo:       true,
		Timestamp:  s.now(),
	}
}

func (s *Service) demoDetails(ticker, reason string) DetailsResult {
	s.metrics.RecordDemo(reason)
	return DetailsResult{
		Ticker:       ticker,
		Trades:       s.demo.Trades(ticker, 50),
		Candlesticks: s.demo.Candlesticks(24),
		Demo:         true,
	}
}
