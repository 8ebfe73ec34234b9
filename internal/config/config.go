package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)

const defaultConfigPath = "config/default.toml"

type Config struct {
	Kalshi   KalshiConfig   `toml:"kalshi"`
	Fetch    FetchConfig    `toml:"fetch"`
	Scoring  ScoringConfig  `toml:"scoring"`
	API      APIConfig      `toml:"api"`
	Alerting AlertingConfig `toml:"alerting"`
	Logging  LoggingConfig  `toml:"logging"`
}

type KalshiConfig struct {
	APIBaseURL     string `toml:"api_base_url"`
	APIKeyID       string `toml:"api_key_id"`
	PrivateKey     string `toml:"private_key"`
	PrivateKeyPath string `toml:"private_key_path"`
	Email          string `toml:"email"`
	Password       string `toml:"password"`
}

// HasSigningKey reports whether both halves of the RSA credential are present.
func (k KalshiConfig) HasSigningKey() bool {
	return k.APIKeyID != "" && k.PrivateKey != ""
}

// HasLogin reports whether the email/password login pair is present.
func (k KalshiConfig) HasLogin() bool {
	return k.Email != "" && k.Password != ""
}

// Configured is false when the relay must run in demo mode.
func (k KalshiConfig) Configured() bool {
	return k.HasSigningKey() || k.HasLogin()
}

type FetchConfig struct {
	PageSize             int `toml:"page_size"`
	MaxPages             int `toml:"max_pages"`
	EventPageSize        int `toml:"event_page_size"`
	EventMaxPages        int `toml:"event_max_pages"`
	RequestTimeoutSecs   int `toml:"request_timeout_secs"`
	RateLimitPerSecond   int `toml:"rate_limit_per_second"`
	MaxRetries           int `toml:"max_retries"`
	SnapshotIntervalSecs int `toml:"snapshot_interval_secs"`
}

type ScoringConfig struct {
	Mode                  string `toml:"mode"`
	HistoryWindowSecs     int    `toml:"history_window_secs"`
	MaxSnapshotsPerMarket int    `toml:"max_snapshots_per_market"`
}

type APIConfig struct {
	BindAddress        string   `toml:"bind_address"`
	CORSOrigins        []string `toml:"cors_origins"`
	StaticDir          string   `toml:"static_dir"`
	DemoFallback       bool     `toml:"demo_fallback"`
	StreamIntervalSecs int      `toml:"stream_interval_secs"`
	DefaultLimit       int      `toml:"default_limit"`
	MinVolume          float64  `toml:"min_volume"`
}

type AlertingConfig struct {
	Enabled           bool   `toml:"enabled"`
	SlackWebhookURL   string `toml:"slack_webhook_url"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	AlertCooldownSecs int    `toml:"alert_cooldown_secs"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Kalshi: KalshiConfig{
			APIBaseURL: "https://api.elections.kalshi.com/trade-api/v2",
		},
		Fetch: FetchConfig{
			PageSize:             1000,
			MaxPages:             3,
			EventPageSize:        200,
			EventMaxPages:        10,
			RequestTimeoutSecs:   15,
			RateLimitPerSecond:   10,
			MaxRetries:           2,
			SnapshotIntervalSecs: 0,
		},
		Scoring: ScoringConfig{
			Mode:                  "history",
			HistoryWindowSecs:     86400,
			MaxSnapshotsPerMarket: 1440,
		},
		API: APIConfig{
			BindAddress:        "0.0.0.0:3000",
			CORSOrigins:        []string{"*"},
			StaticDir:          "public",
			DemoFallback:       false,
			StreamIntervalSecs: 30,
			DefaultLimit:       50,
			MinVolume:          0,
		},
		Alerting: AlertingConfig{
			Enabled:           false,
			AlertCooldownSecs: 300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config by layering, lowest precedence first:
//  1. Default()
//  2. TOML file (KALSHI_CONFIG, else config/default.toml when it exists)
//  3. .env file (KALSHI_ENV_FILE, else ./.env) merged into the process env
//  4. environment variables
func Load() (*Config, error) {
	cfg := Default()

	tomlPath := os.Getenv("KALSHI_CONFIG")
	if tomlPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			tomlPath = defaultConfigPath
		}
	}
	if tomlPath != "" {
		if err := loadFile(tomlPath, cfg); err != nil {
			return nil, err
		}
	}

	if err := loadDotenv(); err != nil {
		return nil, err
	}

	applyEnv(cfg)

	if err := cfg.resolvePrivateKey(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrLoadConfig, path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrLoadConfig, path, err)
	}
	return nil
}

// loadDotenv never overrides variables already present in the environment.
func loadDotenv() error {
	path := os.Getenv("KALSHI_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: dotenv %s: %v", ErrLoadConfig, path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	envString(&cfg.Kalshi.APIBaseURL, "KALSHI__KALSHI__API_BASE_URL", "KALSHI_API_BASE_URL")
	envString(&cfg.Kalshi.APIKeyID, "KALSHI__KALSHI__API_KEY_ID", "KALSHI_API_KEY_ID")
	envString(&cfg.Kalshi.PrivateKey, "KALSHI__KALSHI__PRIVATE_KEY", "KALSHI_PRIVATE_KEY")
	envString(&cfg.Kalshi.PrivateKeyPath, "KALSHI__KALSHI__PRIVATE_KEY_PATH", "KALSHI_PRIVATE_KEY_PATH")
	envString(&cfg.Kalshi.Email, "KALSHI__KALSHI__EMAIL", "KALSHI_EMAIL")
	envString(&cfg.Kalshi.Password, "KALSHI__KALSHI__PASSWORD", "KALSHI_PASSWORD")

	envInt(&cfg.Fetch.PageSize, "KALSHI__FETCH__PAGE_SIZE")
	envInt(&cfg.Fetch.MaxPages, "KALSHI__FETCH__MAX_PAGES")
	envInt(&cfg.Fetch.EventPageSize, "KALSHI__FETCH__EVENT_PAGE_SIZE")
	envInt(&cfg.Fetch.EventMaxPages, "KALSHI__FETCH__EVENT_MAX_PAGES")
	envInt(&cfg.Fetch.RequestTimeoutSecs, "KALSHI__FETCH__REQUEST_TIMEOUT_SECS")
	envInt(&cfg.Fetch.RateLimitPerSecond, "KALSHI__FETCH__RATE_LIMIT_PER_SECOND")
	envInt(&cfg.Fetch.MaxRetries, "KALSHI__FETCH__MAX_RETRIES")
	envInt(&cfg.Fetch.SnapshotIntervalSecs, "KALSHI__FETCH__SNAPSHOT_INTERVAL_SECS")

	envString(&cfg.Scoring.Mode, "KALSHI__SCORING__MODE")
	envInt(&cfg.Scoring.HistoryWindowSecs, "KALSHI__SCORING__HISTORY_WINDOW_SECS")
	envInt(&cfg.Scoring.MaxSnapshotsPerMarket, "KALSHI__SCORING__MAX_SNAPSHOTS_PER_MARKET")

	envString(&cfg.API.BindAddress, "KALSHI__API__BIND_ADDRESS")
	if port := os.Getenv("PORT"); port != "" {
		cfg.API.BindAddress = "0.0.0.0:" + port
	}
	envSlice(&cfg.API.CORSOrigins, "KALSHI__API__CORS_ORIGINS")
	envString(&cfg.API.StaticDir, "KALSHI__API__STATIC_DIR")
	envBool(&cfg.API.DemoFallback, "KALSHI__API__DEMO_FALLBACK")
	envInt(&cfg.API.StreamIntervalSecs, "KALSHI__API__STREAM_INTERVAL_SECS")
	envInt(&cfg.API.DefaultLimit, "KALSHI__API__DEFAULT_LIMIT")
	envFloat(&cfg.API.MinVolume, "KALSHI__API__MIN_VOLUME")

	envBool(&cfg.Alerting.Enabled, "KALSHI__ALERTING__ENABLED")
	envString(&cfg.Alerting.SlackWebhookURL, "KALSHI__ALERTING__SLACK_WEBHOOK_URL")
	envString(&cfg.Alerting.DiscordWebhookURL, "KALSHI__ALERTING__DISCORD_WEBHOOK_URL")
	envInt(&cfg.Alerting.AlertCooldownSecs, "KALSHI__ALERTING__ALERT_COOLDOWN_SECS")

	envString(&cfg.Logging.Level, "KALSHI__LOGGING__LEVEL", "LOG_LEVEL")
	envString(&cfg.Logging.Format, "KALSHI__LOGGING__FORMAT")
}

// resolvePrivateKey reads PrivateKeyPath when no inline PEM was supplied.
func (c *Config) resolvePrivateKey() error {
	if c.Kalshi.PrivateKey != "" || c.Kalshi.PrivateKeyPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.Kalshi.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("%w: read private key: %v", ErrInvalidConfig, err)
	}
	c.Kalshi.PrivateKey = string(data)
	return nil
}

// Validate checks the limits that the fetch pipeline relies on.
func (c *Config) Validate() error {
	switch {
	case c.Kalshi.APIBaseURL == "":
		return fmt.Errorf("%w: kalshi.api_base_url must not be empty", ErrInvalidConfig)
	case c.Fetch.PageSize <= 0 || c.Fetch.EventPageSize <= 0:
		return fmt.Errorf("%w: page sizes must be positive", ErrInvalidConfig)
	case c.Fetch.MaxPages <= 0 || c.Fetch.EventMaxPages <= 0:
		return fmt.Errorf("%w: max pages must be positive", ErrInvalidConfig)
	case c.Fetch.RequestTimeoutSecs <= 0:
		return fmt.Errorf("%w: fetch.request_timeout_secs must be positive", ErrInvalidConfig)
	case c.Fetch.RateLimitPerSecond <= 0:
		return fmt.Errorf("%w: fetch.rate_limit_per_second must be positive", ErrInvalidConfig)
	case c.Fetch.MaxRetries < 0 || c.Fetch.SnapshotIntervalSecs < 0:
		return fmt.Errorf("%w: fetch retries and snapshot interval must not be negative", ErrInvalidConfig)
	case c.API.BindAddress == "":
		return fmt.Errorf("%w: api.bind_address must not be empty", ErrInvalidConfig)
	case c.API.StreamIntervalSecs <= 0:
		return fmt.Errorf("%w: api.stream_interval_secs must be positive", ErrInvalidConfig)
	}
	switch c.Scoring.Mode {
	case "history", "flow", "random":
	default:
		return fmt.Errorf("%w: unknown scoring.mode %q", ErrInvalidConfig, c.Scoring.Mode)
	}
	return nil
}

func envString(dst *string, keys ...string) {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			*dst = value
			return
		}
	}
}

func envInt(dst *int, key string) {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			*dst = intValue
		}
	}
}

func envFloat(dst *float64, key string) {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			*dst = floatValue
		}
	}
}

func envBool(dst *bool, key string) {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			*dst = boolValue
		}
	}
}

func envSlice(dst *[]string, key string) {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
