package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/pollypilot/internal/blob/s3"
	"github.com/alanyoungcy/pollypilot/internal/cache/local"
	"github.com/alanyoungcy/pollypilot/internal/cache/redis"
	"github.com/alanyoungcy/pollypilot/internal/config"
	"github.com/alanyoungcy/pollypilot/internal/domain"
	"github.com/alanyoungcy/pollypilot/internal/notify"
	"github.com/alanyoungcy/pollypilot/internal/server/handler"
	"github.com/alanyoungcy/pollypilot/internal/store/memory"
	"github.com/alanyoungcy/pollypilot/internal/store/postgres"
)

// Dependencies bundles the infrastructure the application needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	LedgerRepo    domain.LedgerRepository
	SettingsStore domain.SettingsStore
	EventStore    domain.EventStore

	// Caches and messaging. Locker is nil unless Redis is enabled.
	MarketCache   domain.MarketListCache
	HeadlineDedup domain.HeadlineDedup
	SignalBus     domain.SignalBus
	Locker        domain.JobLocker

	// Blob storage; nil unless S3 is enabled.
	BlobWriter domain.BlobWriter

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks probes every external dependency that was wired.
	HealthChecks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.Check)}

	// --- Storage ---
	switch strings.ToLower(cfg.Storage.Driver) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		// Run migrations if enabled.
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.LedgerRepo = postgres.NewLedgerRepo(pool)
		deps.SettingsStore = postgres.NewSettingsStore(pool)
		deps.EventStore = postgres.NewEventStore(pool, cfg.Storage.EventLogLimit)
		deps.HealthChecks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
		logger.InfoContext(ctx, "wire: postgres storage ready")
	default:
		deps.LedgerRepo = memory.NewLedgerRepo()
		deps.SettingsStore = memory.NewSettingsStore()
		deps.EventStore = memory.NewEventStore(cfg.Storage.EventLogLimit)
		logger.WarnContext(ctx, "wire: in-memory storage; the portfolio is lost on restart")
	}

	// --- Redis (optional; in-process fallbacks otherwise) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.HeadlineDedup = redis.NewHeadlineDedup(redisClient, cfg.News.DedupWindow.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient, logger)
		deps.Locker = redis.NewJobLock(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		deps.MarketCache = local.NewMarketCache()
		deps.HeadlineDedup = local.NewHeadlineDedup(cfg.News.DedupWindow.Duration)
		deps.SignalBus = local.NewBus(logger)
	}

	// --- S3 blob storage (optional) ---
	if cfg.S3.Enabled {
		bucket, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = bucket.Close() })

		deps.BlobWriter = bucket
		deps.HealthChecks["s3"] = bucket.Health
	}

	// --- Notifications ---
	deps.Notifier = notify.New(notify.Config{
		TelegramToken:     cfg.Notify.TelegramToken,
		TelegramChatID:    cfg.Notify.TelegramChatID,
		DiscordWebhookURL: cfg.Notify.DiscordWebhookURL,
		Events:            cfg.Notify.Events,
	}, logger)

	return deps, cleanup, nil
}
