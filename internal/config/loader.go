package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLLYPILOT_* environment variable overrides, and
// returns the final Config. A missing file is not an error: the defaults
// plus environment are enough to run in memory mode. The returned Config has
// NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLLYPILOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). The bare provider variables (ANTHROPIC_API_KEY and friends) are
// honoured as fallbacks for the secrets.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setFloat64(&cfg.Engine.InitialBalance, "POLLYPILOT_ENGINE_INITIAL_BALANCE")
	setBool(&cfg.Engine.AutoStart, "POLLYPILOT_ENGINE_AUTO_START")
	setInt(&cfg.Engine.Workers, "POLLYPILOT_ENGINE_WORKERS")
	setDuration(&cfg.Engine.SniperInterval, "POLLYPILOT_ENGINE_SNIPER_INTERVAL")
	setDuration(&cfg.Engine.ResearcherInterval, "POLLYPILOT_ENGINE_RESEARCHER_INTERVAL")
	setDuration(&cfg.Engine.PriceInterval, "POLLYPILOT_ENGINE_PRICE_INTERVAL")
	setDuration(&cfg.Engine.ArchiveInterval, "POLLYPILOT_ENGINE_ARCHIVE_INTERVAL")
	setDuration(&cfg.Engine.JobTimeout, "POLLYPILOT_ENGINE_JOB_TIMEOUT")
	setFloat64(&cfg.Engine.TakeProfitPct, "POLLYPILOT_ENGINE_TAKE_PROFIT_PCT")

	// ── Risk seed ──
	setStr(&cfg.Risk.Mode, "POLLYPILOT_RISK_MODE")
	setInt(&cfg.Risk.MaxDays, "POLLYPILOT_RISK_MAX_DAYS")
	setBool(&cfg.Risk.AllowShorting, "POLLYPILOT_RISK_ALLOW_SHORTING")
	setFloat64(&cfg.Risk.RiskMultiplier, "POLLYPILOT_RISK_MULTIPLIER")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "POLLYPILOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.ClobHost, "POLLYPILOT_POLYMARKET_CLOB_HOST")
	setDuration(&cfg.Polymarket.CacheTTL, "POLLYPILOT_POLYMARKET_CACHE_TTL")

	// ── News ──
	setStr(&cfg.News.CryptoPanicKey, "CRYPTOPANIC_API_KEY")
	setStr(&cfg.News.CryptoPanicKey, "POLLYPILOT_NEWS_CRYPTOPANIC_KEY")
	setInt(&cfg.News.PerFeedLimit, "POLLYPILOT_NEWS_PER_FEED_LIMIT")
	setDuration(&cfg.News.DedupWindow, "POLLYPILOT_NEWS_DEDUP_WINDOW")

	// ── Anthropic ──
	setStr(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setStr(&cfg.Anthropic.APIKey, "POLLYPILOT_ANTHROPIC_API_KEY")
	setStr(&cfg.Anthropic.BaseURL, "POLLYPILOT_ANTHROPIC_BASE_URL")
	setStr(&cfg.Anthropic.FastModel, "POLLYPILOT_ANTHROPIC_FAST_MODEL")
	setStr(&cfg.Anthropic.DeepModel, "POLLYPILOT_ANTHROPIC_DEEP_MODEL")
	setInt(&cfg.Anthropic.RequestsPerMinute, "POLLYPILOT_ANTHROPIC_REQUESTS_PER_MINUTE")

	// ── Tavily ──
	setStr(&cfg.Tavily.APIKey, "TAVILY_API_KEY")
	setStr(&cfg.Tavily.APIKey, "POLLYPILOT_TAVILY_API_KEY")
	setStr(&cfg.Tavily.BaseURL, "POLLYPILOT_TAVILY_BASE_URL")
	setInt(&cfg.Tavily.RequestsPerMinute, "POLLYPILOT_TAVILY_REQUESTS_PER_MINUTE")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "POLLYPILOT_STORAGE_DRIVER")
	setInt(&cfg.Storage.EventLogLimit, "POLLYPILOT_STORAGE_EVENT_LOG_LIMIT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLLYPILOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POLLYPILOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLLYPILOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLLYPILOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLLYPILOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLLYPILOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLLYPILOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLLYPILOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLLYPILOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLLYPILOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLLYPILOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLLYPILOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLLYPILOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLLYPILOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLLYPILOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "POLLYPILOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "POLLYPILOT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLLYPILOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLLYPILOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLLYPILOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLLYPILOT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "POLLYPILOT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "POLLYPILOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLLYPILOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLLYPILOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLLYPILOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLLYPILOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLLYPILOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "POLLYPILOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "POLLYPILOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMinute, "POLLYPILOT_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLLYPILOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLLYPILOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLLYPILOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLLYPILOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "POLLYPILOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
