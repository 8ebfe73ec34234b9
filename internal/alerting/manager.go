// Package alerting posts webhook notifications when a market turns unusual.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/unusual-markets/internal/config"
	"github.com/unusual-markets/internal/markets"
	"github.com/unusual-markets/internal/metrics"
)

var ErrDeliveryFailed = errors.New("alert delivery failed")

// Alert is a market that was flagged unusual at Time.
type Alert struct {
	Market markets.Market
	Time   time.Time
}

type Manager struct {
	enabled   bool
	cooldown  time.Duration
	alerts    <-chan Alert
	notifiers []Notifier
	logger    *slog.Logger
	metrics   *metrics.Manager
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
	wg       sync.WaitGroup
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(mm *metrics.Manager) Option {
	return func(m *Manager) { m.metrics = mm }
}

// WithNotifiers replaces the webhook clients derived from config.
func WithNotifiers(n ...Notifier) Option {
	return func(m *Manager) { m.notifiers = n }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(cfg config.AlertingConfig, alerts <-chan Alert, opts ...Option) *Manager {
	var notifiers []Notifier
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, NewSlackClient(cfg.SlackWebhookURL))
	}
	if cfg.DiscordWebhookURL != "" {
		notifiers = append(notifiers, NewDiscordClient(cfg.DiscordWebhookURL))
	}

	m := &Manager{
		enabled:   cfg.Enabled,
		cooldown:  time.Duration(cfg.AlertCooldownSecs) * time.Second,
		alerts:    alerts,
		notifiers: notifiers,
		logger:    slog.Default(),
		now:       time.Now,
		lastSent:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run consumes alerts until ctx is cancelled, then waits for in-flight
// deliveries. It returns immediately when alerting is disabled or has no
// destinations.
func (m *Manager) Run(ctx context.Context) error {
	if !m.enabled || len(m.notifiers) == 0 {
		return nil
	}
	defer m.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case alert, ok := <-m.alerts:
			if !ok {
				return nil
			}
			m.handle(ctx, alert)
		}
	}
}

func (m *Manager) handle(ctx context.Context, alert Alert) {
	if !m.admit(alert.Market.ID) {
		return
	}

	message := FormatMessage(alert)
	for _, n := range m.notifiers {
		m.wg.Add(1)
		go func(n Notifier) {
			defer m.wg.Done()
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()

			err := n.Send(sendCtx, message)
			m.metrics.RecordAlert(n.Name(), err)
			if err != nil {
				m.logger.Warn("alert delivery failed", "channel", n.Name(), "ticker", alert.Market.ID, "error", err)
			}
		}(n)
	}
}

// admit applies the per-ticker cooldown and records the send time.
func (m *Manager) admit(ticker string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if last, ok := m.lastSent[ticker]; ok && now.Sub(last) < m.cooldown {
		return false
	}
	m.lastSent[ticker] = now
	return true
}

// FormatMessage renders an alert as markdown understood by both Slack and
// Discord.
func FormatMessage(a Alert) string {
	mk := a.Market
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 **Unusual market: %s**\n", mk.Title)
	fmt.Fprintf(&b, "Ticker: %s (%s)\n", mk.ID, mk.Category)
	fmt.Fprintf(&b, "Price: %s¢ (%+.1f%%)\n", mk.CurrentPrice, mk.PriceChange)
	fmt.Fprintf(&b, "Volume: %.0f (%+.0f%%)\n", mk.Volume24h, mk.VolumeChange)
	fmt.Fprintf(&b, "Hotness: %d/100", mk.HotnessScore)
	if len(mk.Reasons) > 0 {
		fmt.Fprintf(&b, "\nSignals: %s", strings.Join(mk.Reasons, ", "))
	}
	if mk.URL != "" {
		fmt.Fprintf(&b, "\n%s", mk.URL)
	}
	return b.String()
}
