package strategy

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/pollypilot/internal/domain"
	"github.com/alanyoungcy/pollypilot/internal/matcher"
)

// Sniper reacts to fresh headlines: it matches each headline to a few
// markets, asks the fast estimator for a verdict and trades approved ones.
type Sniper struct {
	news      domain.NewsGateway
	markets   domain.MarketGateway
	estimator domain.Estimator
	settings  SettingsSource
	journal   Recorder
	trader    *trader
	cfg       Config
	logger    *slog.Logger
}

// NewSniper creates the headline job.
func NewSniper(d Deps, cfg Config, logger *slog.Logger) *Sniper {
	logger = logger.With(slog.String("component", NameSniper))
	return &Sniper{
		news:      d.News,
		markets:   d.Markets,
		estimator: d.Fast,
		settings:  d.Settings,
		journal:   d.Journal,
		trader:    newTrader(d, cfg, logger),
		cfg:       cfg,
		logger:    logger,
	}
}

// Name implements engine.Job.
func (s *Sniper) Name() string { return NameSniper }

// Run executes one sniper cycle.
func (s *Sniper) Run(ctx context.Context) error {
	settings, err := s.settings.Current(ctx)
	if err != nil {
		s.journal.Recordf(ctx, domain.LogError, NameSniper, "Settings unavailable: %v", err)
		return nil
	}

	headlines, err := s.news.Poll(ctx)
	if err != nil {
		s.journal.Recordf(ctx, domain.LogWarn, NameSniper, "News unavailable: %v", err)
		return nil
	}
	if len(headlines) == 0 {
		s.logger.DebugContext(ctx, "sniper: no new headlines")
		return nil
	}
	if len(headlines) > s.cfg.HeadlinesPerCycle {
		headlines = headlines[:s.cfg.HeadlinesPerCycle]
	}

	markets, err := s.markets.ListActiveMarkets(ctx, s.cfg.SniperMarketScan)
	if err != nil {
		s.journal.Recordf(ctx, domain.LogWarn, NameSniper, "Markets unavailable: %v", err)
		return nil
	}

	s.journal.Recordf(ctx, domain.LogInfo, NameSniper, "Processing %d headlines against %d markets", len(headlines), len(markets))

	opened := 0
	for _, h := range headlines {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.processHeadline(ctx, h, markets, settings)
		opened += n
		if err != nil {
			if errors.Is(err, domain.ErrEstimatorUnavailable) {
				s.journal.Record(ctx, domain.LogError, NameSniper, estimatorFailure(err))
				return nil
			}
			return err
		}

		if err := s.news.MarkProcessed(ctx, h); err != nil {
			s.logger.WarnContext(ctx, "sniper: mark processed failed",
				slog.String("hash", h.Hash),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "sniper: cycle complete",
		slog.Int("headlines", len(headlines)),
		slog.Int("opened", opened),
	)
	return nil
}

func (s *Sniper) processHeadline(ctx context.Context, h domain.Headline, markets []domain.Market, settings domain.Settings) (int, error) {
	matches := matcher.Markets(h.Title, markets)
	if len(matches) > s.cfg.MarketsPerHeadline {
		matches = matches[:s.cfg.MarketsPerHeadline]
	}

	opened := 0
	for _, m := range matches {
		est, err := s.estimator.Estimate(ctx, domain.EstimateRequest{
			Question: m.Question,
			YesPrice: m.YesPrice,
			NoPrice:  m.NoPrice,
			Headline: h.Title,
		})
		switch {
		case errors.Is(err, domain.ErrEstimatorUnavailable):
			return opened, err
		case errors.Is(err, domain.ErrUnparsableResponse):
			s.logger.DebugContext(ctx, "sniper: no signal", slog.String("market_id", m.ID))
			continue
		case err != nil:
			s.journal.Recordf(ctx, domain.LogWarn, NameSniper, "Estimate failed for %s: %v", truncate(m.Question, 50), err)
			continue
		}

		ok, err := s.trader.consider(ctx, domain.StrategySniper, m, est, settings)
		if err != nil {
			return opened, err
		}
		if ok {
			opened++
		}
	}
	return opened, nil
}
