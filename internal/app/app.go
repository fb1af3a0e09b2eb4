// Package app provides the top-level application lifecycle management for
// pollypilot. It wires together storage, caches, gateways, the trading jobs,
// the engine and the operator API, and runs them until the context is
// cancelled or the engine reports a fatal storage failure.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/pollypilot/internal/blob/s3"
	"github.com/alanyoungcy/pollypilot/internal/config"
	"github.com/alanyoungcy/pollypilot/internal/domain"
	"github.com/alanyoungcy/pollypilot/internal/engine"
	"github.com/alanyoungcy/pollypilot/internal/platform/anthropic"
	"github.com/alanyoungcy/pollypilot/internal/platform/news"
	"github.com/alanyoungcy/pollypilot/internal/platform/polymarket"
	"github.com/alanyoungcy/pollypilot/internal/platform/tavily"
	"github.com/alanyoungcy/pollypilot/internal/portfolio"
	"github.com/alanyoungcy/pollypilot/internal/server"
	"github.com/alanyoungcy/pollypilot/internal/server/handler"
	"github.com/alanyoungcy/pollypilot/internal/server/middleware"
	"github.com/alanyoungcy/pollypilot/internal/server/ws"
	"github.com/alanyoungcy/pollypilot/internal/service"
	"github.com/alanyoungcy/pollypilot/internal/strategy"
)

const (
	// shutdownTimeout bounds the HTTP server shutdown.
	shutdownTimeout = 10 * time.Second
	// drainTimeout bounds how long in-flight job runs may take to finish
	// after the engine is stopped.
	drainTimeout = 30 * time.Second
	// limiterCleanupInterval is how often idle rate-limit buckets are swept.
	limiterCleanupInterval = time.Minute
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// Runtime holds the assembled components of a running process.
type Runtime struct {
	Ledger  *portfolio.Ledger
	Journal *service.Journal
	Engine  *engine.Engine
	Hub     *ws.Hub
	Server  *server.Server // nil when the API is disabled
	Limiter *middleware.IPLimiter
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the engine
// (when auto_start is set), the WebSocket hub and the HTTP server, and blocks
// until ctx is cancelled. A fatal engine error is returned.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("storage", a.cfg.Storage.Driver),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("s3", a.cfg.S3.Enabled),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	rt, err := a.Build(ctx, deps)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.Hub.Run(gctx)
	})

	g.Go(func() error {
		select {
		case err := <-rt.Engine.Fatal():
			a.logger.Error("app: engine halted", slog.String("error", err.Error()))
			return fmt.Errorf("app: engine: %w", err)
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	if rt.Server != nil {
		g.Go(func() error {
			return rt.Server.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return rt.Server.Shutdown(sctx)
		})
		if rt.Limiter != nil {
			g.Go(func() error {
				rt.Limiter.Cleanup(gctx, limiterCleanupInterval)
				return nil
			})
		}
	}

	if a.cfg.Engine.AutoStart {
		rt.Engine.Start(ctx)
	} else {
		a.logger.InfoContext(ctx, "app: engine idle; start it with POST /api/engine/start")
	}

	err = g.Wait()
	a.shutdownEngine(rt)
	return err
}

// Build assembles the ledger, gateways, jobs, engine and API over deps.
// Nothing is started.
func (a *App) Build(ctx context.Context, deps *Dependencies) (*Runtime, error) {
	cfg := a.cfg

	ledger, err := portfolio.Open(ctx, deps.LedgerRepo, cfg.Engine.InitialBalance, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: open ledger: %w", err)
	}

	settings := service.NewSettingsService(deps.SettingsStore, a.logger)
	if err := settings.Seed(ctx, a.seedSettings()); err != nil {
		return nil, fmt.Errorf("app: seed settings: %w", err)
	}

	var alerts service.Alerter
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		alerts = deps.Notifier
		a.logger.InfoContext(ctx, "app: alerts enabled", slog.Any("channels", deps.Notifier.Senders()))
	}
	journal := service.NewJournal(deps.EventStore, deps.SignalBus, alerts, a.logger)

	markets := polymarket.NewClient(polymarket.Config{
		GammaHost: cfg.Polymarket.GammaHost,
		ClobHost:  cfg.Polymarket.ClobHost,
		Timeout:   cfg.Polymarket.Timeout.Duration,
		CacheTTL:  cfg.Polymarket.CacheTTL.Duration,
	}, deps.MarketCache, a.logger)

	feeds := make([]news.Feed, 0, len(cfg.News.Feeds))
	for _, f := range cfg.News.Feeds {
		feeds = append(feeds, news.Feed{Name: f.Name, URL: f.URL})
	}
	headlines := news.NewClient(news.Config{
		Feeds:          feeds,
		CryptoPanicKey: cfg.News.CryptoPanicKey,
		CryptoPanicURL: cfg.News.CryptoPanicURL,
		PerFeedLimit:   cfg.News.PerFeedLimit,
		Timeout:        cfg.News.Timeout.Duration,
	}, deps.HeadlineDedup, a.logger)

	llm := anthropic.NewClient(anthropic.Config{
		APIKey:            cfg.Anthropic.APIKey,
		BaseURL:           cfg.Anthropic.BaseURL,
		RequestsPerMinute: cfg.Anthropic.RequestsPerMinute,
		Timeout:           cfg.Anthropic.Timeout.Duration,
	}, a.logger)
	if cfg.Anthropic.APIKey == "" {
		a.logger.WarnContext(ctx, "app: anthropic api_key not set; every estimate will fail")
	}

	research := tavily.NewClient(tavily.Config{
		APIKey:            cfg.Tavily.APIKey,
		BaseURL:           cfg.Tavily.BaseURL,
		SearchDepth:       cfg.Tavily.SearchDepth,
		RequestsPerMinute: cfg.Tavily.RequestsPerMinute,
		Timeout:           cfg.Tavily.Timeout.Duration,
	}, a.logger)

	sd := strategy.Deps{
		Markets:  markets,
		News:     headlines,
		Research: research,
		Fast:     anthropic.NewFastEstimator(llm, cfg.Anthropic.FastModel, cfg.Anthropic.FastMaxTokens),
		Deep:     anthropic.NewDeepEstimator(llm, cfg.Anthropic.DeepModel, cfg.Anthropic.DeepMaxTokens),
		Book:     ledger,
		Settings: settings,
		Journal:  journal,
	}
	sc := a.strategyConfig()
	timeout := cfg.Engine.JobTimeout.Duration

	schedules := []engine.Schedule{
		{Job: strategy.NewSniper(sd, sc, a.logger), Interval: cfg.Engine.SniperInterval.Duration, Immediate: true, Timeout: timeout},
		{Job: strategy.NewResearcher(sd, sc, a.logger), Interval: cfg.Engine.ResearcherInterval.Duration, Timeout: timeout},
		{Job: strategy.NewPriceUpdater(sd, sc, a.logger), Interval: cfg.Engine.PriceInterval.Duration, Timeout: timeout},
	}
	if deps.BlobWriter != nil {
		archiver := s3blob.NewArchiver(deps.BlobWriter, ledger, cfg.S3.HistoryLimit, a.logger)
		schedules = append(schedules, engine.Schedule{Job: archiver, Interval: cfg.Engine.ArchiveInterval.Duration, Timeout: timeout})
	}

	eng, err := engine.New(engine.Config{
		Workers:   cfg.Engine.Workers,
		Schedules: schedules,
	}, engine.Deps{
		Ledger:   ledger,
		Settings: settings,
		Journal:  journal,
		Markets:  markets,
		Locker:   deps.Locker,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: build engine: %w", err)
	}

	hub := ws.NewHub(deps.SignalBus, func(ctx context.Context) any { return eng.Status(ctx) }, cfg.Server.CORSOrigins, a.logger)
	rt := &Runtime{Ledger: ledger, Journal: journal, Engine: eng, Hub: hub}

	if cfg.Server.Enabled {
		if cfg.Server.RateLimitPerMinute > 0 {
			rt.Limiter = middleware.NewIPLimiter(cfg.Server.RateLimitPerMinute, cfg.Server.RateLimitBurst)
		}
		rt.Server = server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
			Limiter:     rt.Limiter,
		}, server.Handlers{
			Health:    handler.NewHealthHandler(deps.HealthChecks, a.logger),
			Engine:    handler.NewEngineHandler(eng, a.logger),
			Positions: handler.NewPositionHandler(eng, a.logger),
			Portfolio: handler.NewPortfolioHandler(eng, a.logger),
			Settings:  handler.NewSettingsHandler(eng, a.logger),
			Logs:      handler.NewLogHandler(eng, a.logger),
			Markets:   handler.NewMarketHandler(eng, a.logger),
		}, hub, a.logger)
	}

	p := ledger.Portfolio()
	a.logger.InfoContext(ctx, "app: ready",
		slog.Float64("balance", p.Balance),
		slog.Int("open_positions", len(ledger.OpenPositions())),
		slog.Int("jobs", len(schedules)),
	)
	return rt, nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// shutdownEngine stops scheduling and waits for in-flight runs so their
// ledger writes land before storage is closed.
func (a *App) shutdownEngine(rt *Runtime) {
	if rt.Engine.Running() {
		rt.Engine.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := rt.Engine.Drain(ctx); err != nil {
		a.logger.Warn("app: job runs still in flight at exit", slog.String("error", err.Error()))
	}
}

// seedSettings converts the [risk] section into the settings written on
// first boot.
func (a *App) seedSettings() domain.Settings {
	r := a.cfg.Risk
	return domain.Settings{
		Mode:           domain.RiskMode(strings.ToLower(r.Mode)),
		MaxDays:        r.MaxDays,
		AllowShorting:  r.AllowShorting,
		RiskMultiplier: r.RiskMultiplier,
	}
}

func (a *App) strategyConfig() strategy.Config {
	e := a.cfg.Engine
	sc := strategy.DefaultConfig()
	sc.HeadlinesPerCycle = e.HeadlinesPerCycle
	sc.MarketsPerHeadline = e.MarketsPerHeadline
	sc.SniperMarketScan = e.MarketScanLimit
	sc.ResearchMarketScan = e.ResearchScanLimit
	sc.ResearchCandidates = e.ResearchCandidates
	sc.ResearchDepth = e.ResearchDepth
	sc.TakeProfitPct = e.TakeProfitPct
	sc.MinTradeUSD = e.MinTradeUSD
	if e.QuoteConcurrency > 0 {
		sc.QuoteConcurrency = e.QuoteConcurrency
	}
	return sc
}
