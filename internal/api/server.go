// Package api serves the dashboard: JSON endpoints, a WebSocket market
// stream, Prometheus metrics and the static front end.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/unusual-markets/internal/config"
	"github.com/unusual-markets/internal/markets"
	"github.com/unusual-markets/internal/metrics"
	"github.com/unusual-markets/internal/relay"
)

// MarketService is the pipeline the handlers read from. *relay.Service
// implements it.
type MarketService interface {
	Markets(ctx context.Context, q markets.Query) (relay.MarketsResult, error)
	RawMarkets(ctx context.Context) (relay.RawMarketsResult, error)
	MarketDetails(ctx context.Context, ticker string) (relay.DetailsResult, error)
	Categories(ctx context.Context) (relay.CategoriesResult, error)
	NoArb(ctx context.Context) (relay.NoArbResult, error)
	Health() relay.Health
}

type Server struct {
	config  config.APIConfig
	svc     MarketService
	logger  *slog.Logger
	metrics *metrics.Manager
	server  *http.Server
	runCtx  context.Context
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Manager) Option {
	return func(s *Server) { s.metrics = m }
}

func NewServer(cfg config.APIConfig, svc MarketService, opts ...Option) *Server {
	s := &Server{
		config: cfg,
		svc:    svc,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the full routing tree wrapped in CORS.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.instrument)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/markets", s.getMarkets).Methods(http.MethodGet)
	api.HandleFunc("/kalshi/markets", s.getRawMarkets).Methods(http.MethodGet)
	api.HandleFunc("/market/{ticker}/details", s.getMarketDetails).Methods(http.MethodGet)
	api.HandleFunc("/categories", s.getCategories).Methods(http.MethodGet)
	api.HandleFunc("/scanner/noarb", s.getNoArbViolations).Methods(http.MethodGet)

	router.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	router.HandleFunc("/ws/markets", s.streamMarkets).Methods(http.MethodGet)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	if dir := s.staticDir(); dir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(dir)))
	}
	router.NotFoundHandler = http.HandlerFunc(s.notFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowed)

	c := cors.New(cors.Options{
		AllowedOrigins: s.config.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         3600,
	})
	return c.Handler(router)
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.runCtx = ctx
	s.server = &http.Server{
		Addr:              s.config.BindAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", s.config.BindAddress)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) runContext() context.Context {
	if s.runCtx == nil {
		return context.Background()
	}
	return s.runCtx
}

// staticDir returns the configured dashboard directory if it exists.
func (s *Server) staticDir() string {
	if s.config.StaticDir == "" {
		return ""
	}
	info, err := os.Stat(s.config.StaticDir)
	if err != nil || !info.IsDir() {
		s.logger.Warn("static dir unavailable, dashboard not served", "dir", s.config.StaticDir)
		return ""
	}
	return s.config.StaticDir
}
