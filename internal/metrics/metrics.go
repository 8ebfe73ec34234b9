// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the relay's collectors. All methods are safe on a nil
// *Manager, which records nothing.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	upstreamRequests        *prometheus.CounterVec
	upstreamRequestDuration *prometheus.HistogramVec

	pagesFetched   *prometheus.CounterVec
	truncations    *prometheus.CounterVec
	eventsDegraded prometheus.Counter
	demoResponses  *prometheus.CounterVec
	unusualMarkets prometheus.Gauge
	historyTickers prometheus.Gauge
	alertsSent     *prometheus.CounterVec
	streamClients  prometheus.Gauge
	pollerRuns     *prometheus.CounterVec
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithHistogramBuckets sets custom histogram buckets for latency metrics.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithRegistry registers collectors on r instead of a fresh registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// NewManager creates a manager backed by its own registry, so the
// exposition holds only relay and runtime metrics.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "unusual_markets",
		histogramBuckets: prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, by route, method and status code",
	}, []string{"route", "method", "code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   m.histogramBuckets,
	}, []string{"route", "method"})

	m.upstreamRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Upstream API attempts, by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	m.upstreamRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Upstream API attempt latency",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint"})

	m.pagesFetched = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "fetch",
		Name:      "pages_total",
		Help:      "Pages fetched by paginated walks",
	}, []string{"resource"})

	m.truncations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "fetch",
		Name:      "truncations_total",
		Help:      "Paginated walks stopped by the page ceiling with a cursor pending",
	}, []string{"resource"})

	m.eventsDegraded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "fetch",
		Name:      "events_degraded_total",
		Help:      "Requests served with an empty category map after an events failure",
	})

	m.demoResponses = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "demo_responses_total",
		Help:      "Responses served from synthetic data, by reason",
	}, []string{"reason"})

	m.unusualMarkets = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "unusual_markets",
		Help:      "Markets flagged unusual in the latest pipeline run",
	})

	m.historyTickers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "history",
		Name:      "tickers",
		Help:      "Tickers with snapshots in the history store",
	})

	m.alertsSent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "alerting",
		Name:      "sent_total",
		Help:      "Alert deliveries, by channel and outcome",
	}, []string{"channel", "outcome"})

	m.streamClients = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "stream",
		Name:      "clients",
		Help:      "Connected WebSocket clients",
	})

	m.pollerRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "poller",
		Name:      "runs_total",
		Help:      "Background snapshot runs, by outcome",
	}, []string{"outcome"})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Manager) ObserveHTTP(route, method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// ObserveUpstream satisfies kalshi.Observer.
func (m *Manager) ObserveUpstream(endpoint, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	m.upstreamRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (m *Manager) RecordFetch(resource string, pages int, truncated bool) {
	if m == nil {
		return
	}
	m.pagesFetched.WithLabelValues(resource).Add(float64(pages))
	if truncated {
		m.truncations.WithLabelValues(resource).Inc()
	}
}

func (m *Manager) RecordEventsDegraded() {
	if m == nil {
		return
	}
	m.eventsDegraded.Inc()
}

func (m *Manager) RecordDemo(reason string) {
	if m == nil {
		return
	}
	m.demoResponses.WithLabelValues(reason).Inc()
}

func (m *Manager) SetUnusualMarkets(n int) {
	if m == nil {
		return
	}
	m.unusualMarkets.Set(float64(n))
}

func (m *Manager) SetHistoryTickers(n int) {
	if m == nil {
		return
	}
	m.historyTickers.Set(float64(n))
}

func (m *Manager) RecordAlert(channel string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.alertsSent.WithLabelValues(channel, outcome).Inc()
}

func (m *Manager) StreamClientConnected() {
	if m == nil {
		return
	}
	m.streamClients.Inc()
}

func (m *Manager) StreamClientDisconnected() {
	if m == nil {
		return
	}
	m.streamClients.Dec()
}

func (m *Manager) RecordPollerRun(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.pollerRuns.WithLabelValues(outcome).Inc()
}
