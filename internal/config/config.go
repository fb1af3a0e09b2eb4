// Package config defines the top-level configuration for the pollypilot
// engine and provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLLYPILOT_* environment variables.
type Config struct {
	Engine     EngineConfig     `toml:"engine"`
	Risk       RiskConfig       `toml:"risk"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	News       NewsConfig       `toml:"news"`
	Anthropic  AnthropicConfig  `toml:"anthropic"`
	Tavily     TavilyConfig     `toml:"tavily"`
	Storage    StorageConfig    `toml:"storage"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	LogLevel   string           `toml:"log_level"`
}

// EngineConfig holds the scheduler cadence and the per-cycle job limits.
type EngineConfig struct {
	InitialBalance     float64  `toml:"initial_balance"`
	AutoStart          bool     `toml:"auto_start"`
	Workers            int      `toml:"workers"`
	SniperInterval     duration `toml:"sniper_interval"`
	ResearcherInterval duration `toml:"researcher_interval"`
	PriceInterval      duration `toml:"price_interval"`
	ArchiveInterval    duration `toml:"archive_interval"`
	// JobTimeout bounds one run of any job; zero leaves it to the gateways.
	JobTimeout         duration `toml:"job_timeout"`
	TakeProfitPct      float64  `toml:"take_profit_pct"`
	MinTradeUSD        float64  `toml:"min_trade_usd"`
	HeadlinesPerCycle  int      `toml:"headlines_per_cycle"`
	MarketsPerHeadline int      `toml:"markets_per_headline"`
	MarketScanLimit    int      `toml:"market_scan_limit"`
	ResearchScanLimit  int      `toml:"research_scan_limit"`
	ResearchCandidates int      `toml:"research_candidates"`
	ResearchDepth      int      `toml:"research_depth"`
	QuoteConcurrency   int      `toml:"quote_concurrency"`
}

// RiskConfig seeds the operator settings on first boot. Stored settings
// always win over these values.
type RiskConfig struct {
	Mode           string  `toml:"mode"`
	MaxDays        int     `toml:"max_days"`
	AllowShorting  bool    `toml:"allow_shorting"`
	RiskMultiplier float64 `toml:"risk_multiplier"`
}

// PolymarketConfig holds the public market-data endpoints.
type PolymarketConfig struct {
	GammaHost string   `toml:"gamma_host"`
	ClobHost  string   `toml:"clob_host"`
	CacheTTL  duration `toml:"cache_ttl"`
	Timeout   duration `toml:"timeout"`
}

// NewsConfig configures the headline sources.
type NewsConfig struct {
	Feeds          []Feed   `toml:"feeds"`
	CryptoPanicKey string   `toml:"cryptopanic_key"`
	CryptoPanicURL string   `toml:"cryptopanic_url"`
	PerFeedLimit   int      `toml:"per_feed_limit"`
	DedupWindow    duration `toml:"dedup_window"`
	Timeout        duration `toml:"timeout"`
}

// Feed is a named RSS/Atom source.
type Feed struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

// AnthropicConfig configures the fast and deep probability estimators.
type AnthropicConfig struct {
	APIKey            string   `toml:"api_key"`
	BaseURL           string   `toml:"base_url"`
	FastModel         string   `toml:"fast_model"`
	FastMaxTokens     int      `toml:"fast_max_tokens"`
	DeepModel         string   `toml:"deep_model"`
	DeepMaxTokens     int      `toml:"deep_max_tokens"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	Timeout           duration `toml:"timeout"`
}

// TavilyConfig configures the research search client.
type TavilyConfig struct {
	APIKey            string   `toml:"api_key"`
	BaseURL           string   `toml:"base_url"`
	SearchDepth       string   `toml:"search_depth"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	Timeout           duration `toml:"timeout"`
}

// StorageConfig selects the persistence driver.
type StorageConfig struct {
	// Driver is "memory" or "postgres".
	Driver        string `toml:"driver"`
	EventLogLimit int    `toml:"event_log_limit"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, caches,
// dedup and the event bus run in-process.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for snapshots.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	HistoryLimit   int    `toml:"history_limit"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimitPerMinute caps requests per client IP; zero disables it.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
	RateLimitBurst     int `toml:"rate_limit_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// DefaultFeeds are the Google News sections polled when no feeds are
// configured.
func DefaultFeeds() []Feed {
	return []Feed{
		{Name: "google_world", URL: "https://news.google.com/rss/topics/CAAqJggKIiBDQkFTRWdvSUwyMHZNRGx1YlY4U0FtVnVHZ0pWVXlnQVAB"},
		{Name: "google_politics", URL: "https://news.google.com/rss/topics/CAAqIQgKIhtDQkFTRGdvSUwyMHZNRFZ4ZERBU0FtVnVLQUFQAQ"},
		{Name: "google_business", URL: "https://news.google.com/rss/topics/CAAqJggKIiBDQkFTRWdvSUwyMHZNRGx6TVdZU0FtVnVHZ0pWVXlnQVAB"},
		{Name: "google_sports", URL: "https://news.google.com/rss/topics/CAAqJggKIiBDQkFTRWdvSUwyMHZNRFp1ZEdvU0FtVnVHZ0pWVXlnQVAB"},
		{Name: "google_crypto", URL: "https://news.google.com/rss/search?q=cryptocurrency+OR+bitcoin+OR+ethereum&hl=en-US&gl=US&ceid=US:en"},
	}
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			InitialBalance:     1000,
			Workers:            3,
			SniperInterval:     duration{30 * time.Second},
			ResearcherInterval: duration{10 * time.Minute},
			PriceInterval:      duration{60 * time.Second},
			ArchiveInterval:    duration{time.Hour},
			JobTimeout:         duration{5 * time.Minute},
			TakeProfitPct:      20,
			MinTradeUSD:        1,
			HeadlinesPerCycle:  5,
			MarketsPerHeadline: 2,
			MarketScanLimit:    100,
			ResearchScanLimit:  50,
			ResearchCandidates: 10,
			ResearchDepth:      3,
			QuoteConcurrency:   4,
		},
		Risk: RiskConfig{
			Mode:           "balanced",
			MaxDays:        30,
			AllowShorting:  false,
			RiskMultiplier: 1.0,
		},
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
			ClobHost:  "https://clob.polymarket.com",
			CacheTTL:  duration{5 * time.Minute},
			Timeout:   duration{15 * time.Second},
		},
		News: NewsConfig{
			Feeds:          DefaultFeeds(),
			CryptoPanicURL: "https://cryptopanic.com/api/v1/posts/",
			PerFeedLimit:   10,
			DedupWindow:    duration{time.Hour},
			Timeout:        duration{10 * time.Second},
		},
		Anthropic: AnthropicConfig{
			BaseURL:           "https://api.anthropic.com",
			FastModel:         "claude-3-5-haiku-20241022",
			FastMaxTokens:     300,
			DeepModel:         "claude-3-5-sonnet-20241022",
			DeepMaxTokens:     500,
			RequestsPerMinute: 50,
			Timeout:           duration{30 * time.Second},
		},
		Tavily: TavilyConfig{
			BaseURL:           "https://api.tavily.com",
			SearchDepth:       "advanced",
			RequestsPerMinute: 30,
			Timeout:           duration{20 * time.Second},
		},
		Storage: StorageConfig{
			Driver:        "memory",
			EventLogLimit: 1000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "pollypilot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "pollypilot",
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "pollypilot",
			UseSSL:         true,
			ForcePathStyle: true,
			HistoryLimit:   200,
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8080,
			CORSOrigins:        []string{"http://localhost:3000"},
			RateLimitPerMinute: 120,
			RateLimitBurst:     20,
		},
		Notify: NotifyConfig{
			Events: []string{"trade", "error"},
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validModes = map[string]bool{
	"grind":    true,
	"balanced": true,
	"moonshot": true,
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	e := c.Engine
	if e.InitialBalance <= 0 {
		errs = append(errs, "engine: initial_balance must be > 0")
	}
	if e.Workers < 3 {
		errs = append(errs, fmt.Sprintf("engine: workers must be >= 3, got %d", e.Workers))
	}
	if e.SniperInterval.Duration <= 0 {
		errs = append(errs, "engine: sniper_interval must be positive")
	}
	if e.ResearcherInterval.Duration <= 0 {
		errs = append(errs, "engine: researcher_interval must be positive")
	}
	if e.PriceInterval.Duration <= 0 {
		errs = append(errs, "engine: price_interval must be positive")
	}
	if e.JobTimeout.Duration < 0 {
		errs = append(errs, "engine: job_timeout must not be negative")
	}
	if e.TakeProfitPct <= 0 {
		errs = append(errs, "engine: take_profit_pct must be > 0")
	}
	if e.MinTradeUSD < 0 {
		errs = append(errs, "engine: min_trade_usd must be >= 0")
	}
	if e.HeadlinesPerCycle < 1 || e.MarketsPerHeadline < 1 || e.ResearchCandidates < 1 || e.ResearchDepth < 1 {
		errs = append(errs, "engine: per-cycle limits must be >= 1")
	}
	if e.MarketScanLimit < 1 || e.ResearchScanLimit < 1 {
		errs = append(errs, "engine: market scan limits must be >= 1")
	}

	// Risk seed
	if !validModes[strings.ToLower(c.Risk.Mode)] {
		errs = append(errs, fmt.Sprintf("risk: unknown mode %q (valid: grind, balanced, moonshot)", c.Risk.Mode))
	}
	if c.Risk.MaxDays < 1 || c.Risk.MaxDays > 365 {
		errs = append(errs, fmt.Sprintf("risk: max_days must be 1-365, got %d", c.Risk.MaxDays))
	}
	if c.Risk.RiskMultiplier < 0.1 || c.Risk.RiskMultiplier > 3.0 {
		errs = append(errs, fmt.Sprintf("risk: risk_multiplier must be 0.1-3.0, got %g", c.Risk.RiskMultiplier))
	}

	// Polymarket
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}

	// News
	if len(c.News.Feeds) == 0 && c.News.CryptoPanicKey == "" {
		errs = append(errs, "news: at least one feed or a cryptopanic_key is required")
	}
	for i, f := range c.News.Feeds {
		if f.Name == "" {
			errs = append(errs, fmt.Sprintf("news: feeds[%d]: name must not be empty", i))
		}
		if u, err := url.Parse(f.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("news: feeds[%d]: invalid url %q", i, f.URL))
		}
	}
	if c.News.DedupWindow.Duration <= 0 {
		errs = append(errs, "news: dedup_window must be positive")
	}

	// Anthropic: a missing key is allowed, the estimator then reports
	// itself unavailable on every call.
	if c.Anthropic.FastModel == "" || c.Anthropic.DeepModel == "" {
		errs = append(errs, "anthropic: fast_model and deep_model must not be empty")
	}
	if c.Anthropic.RequestsPerMinute < 1 {
		errs = append(errs, "anthropic: requests_per_minute must be >= 1")
	}
	if c.Tavily.RequestsPerMinute < 1 {
		errs = append(errs, "tavily: requests_per_minute must be >= 1")
	}

	// Storage
	switch strings.ToLower(c.Storage.Driver) {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: memory, postgres)", c.Storage.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Engine.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "engine: archive_interval must be positive when s3 is enabled")
		}
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, "server: rate_limit_per_minute must be >= 0")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
