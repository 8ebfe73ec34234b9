package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/unusual-markets/internal/history"
	"github.com/unusual-markets/internal/markets"
	"github.com/unusual-markets/internal/metrics"
)

// Poller runs the markets pipeline on a fixed interval so history keeps
// accumulating between dashboard requests.
type Poller struct {
	svc      *Service
	store    *history.Store
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Manager
}

func NewPoller(svc *Service, store *history.Store, interval time.Duration, logger *slog.Logger, m *metrics.Manager) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{svc: svc, store: store, interval: interval, logger: logger, metrics: m}
}

// Run polls immediately and then every interval until ctx is done. It
// returns nil straight away when the interval is zero or the service is in
// demo mode.
func (p *Poller) Run(ctx context.Context) error {
	if p.interval <= 0 || !p.svc.Configured() {
		return nil
	}

	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	start := time.Now()
	res, err := p.svc.Markets(ctx, markets.Query{})
	p.metrics.RecordPollerRun(err)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("snapshot poll failed", "error", err)
		}
		return
	}

	pruned := 0
	if p.store != nil {
		pruned = p.store.Prune(time.Now())
		p.metrics.SetHistoryTickers(p.store.Len())
	}
	p.logger.Info("snapshot poll complete",
		"markets", res.Total,
		"truncated", res.Truncated,
		"pruned", pruned,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}
