package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unusual-markets/internal/alerting"
	"github.com/unusual-markets/internal/api"
	"github.com/unusual-markets/internal/auth"
	"github.com/unusual-markets/internal/config"
	"github.com/unusual-markets/internal/history"
	"github.com/unusual-markets/internal/kalshi"
	"github.com/unusual-markets/internal/logging"
	"github.com/unusual-markets/internal/metrics"
	"github.com/unusual-markets/internal/relay"
	"github.com/unusual-markets/internal/scoring"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "unusual-markets: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger.Info("starting unusual markets relay")

	m := metrics.NewManager()

	authorizer, err := newAuthorizer(cfg)
	if err != nil {
		return err
	}

	// upstream stays a nil interface in demo mode
	var upstream relay.Upstream
	if authorizer != nil {
		upstream = kalshi.NewClient(cfg.Kalshi.APIBaseURL, authorizer,
			kalshi.WithTimeout(time.Duration(cfg.Fetch.RequestTimeoutSecs)*time.Second),
			kalshi.WithRetries(cfg.Fetch.MaxRetries, 500*time.Millisecond),
			kalshi.WithRateLimit(cfg.Fetch.RateLimitPerSecond),
			kalshi.WithLogger(logger),
			kalshi.WithObserver(m),
		)
		logger.Info("kalshi client configured", "base_url", cfg.Kalshi.APIBaseURL)
	} else {
		logger.Warn("no kalshi credentials, serving demo data")
	}

	window := time.Duration(cfg.Scoring.HistoryWindowSecs) * time.Second
	store := history.NewStore(cfg.Scoring.MaxSnapshotsPerMarket, window)
	scorer, err := scoring.New(cfg.Scoring.Mode, store, window)
	if err != nil {
		return err
	}
	logger.Info("scorer selected", "mode", scorer.Name())

	alerts := make(chan alerting.Alert, 100)
	alertManager := alerting.NewManager(cfg.Alerting, alerts,
		alerting.WithLogger(logger),
		alerting.WithMetrics(m),
	)

	svcOpts := []relay.ServiceOption{
		relay.WithScorer(scorer),
		relay.WithHistory(store),
		relay.WithLogger(logger),
		relay.WithMetrics(m),
	}
	if cfg.Alerting.Enabled {
		svcOpts = append(svcOpts, relay.WithAlerts(alerts))
	}
	svc := relay.NewService(upstream, relay.OptionsFromConfig(cfg), svcOpts...)
	poller := relay.NewPoller(svc, store,
		time.Duration(cfg.Fetch.SnapshotIntervalSecs)*time.Second, logger, m)

	server := api.NewServer(cfg.API, svc,
		api.WithLogger(logger),
		api.WithMetrics(m),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return poller.Run(ctx) })
	g.Go(func() error { return alertManager.Run(ctx) })

	logger.Info("all components started", "mode", svc.Health().Mode, "addr", cfg.API.BindAddress)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// newAuthorizer prefers RSA request signing over the email/password login.
// It returns nil when neither credential is configured.
func newAuthorizer(cfg *config.Config) (auth.Authorizer, error) {
	k := cfg.Kalshi
	switch {
	case k.HasSigningKey():
		signer, err := auth.NewSigner(auth.Credentials{KeyID: k.APIKeyID, PrivateKeyPEM: k.PrivateKey})
		if err != nil {
			return nil, fmt.Errorf("kalshi signing key: %w", err)
		}
		return signer, nil
	case k.HasLogin():
		ts, err := auth.NewTokenSource(k.APIBaseURL, k.Email, k.Password,
			auth.WithTokenHTTPClient(&http.Client{Timeout: time.Duration(cfg.Fetch.RequestTimeoutSecs) * time.Second}),
		)
		if err != nil {
			return nil, fmt.Errorf("kalshi login: %w", err)
		}
		return ts, nil
	default:
		return nil, nil
	}
}
