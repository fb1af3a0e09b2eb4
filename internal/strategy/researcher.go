package strategy

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// Researcher runs a slow, deep pass: web research plus the deep estimator on
// a handful of markets without a position, followed by a take-profit sweep
// over the open book.
type Researcher struct {
	markets   domain.MarketGateway
	research  domain.ResearchGateway
	estimator domain.Estimator
	book      Book
	settings  SettingsSource
	journal   Recorder
	trader    *trader
	cfg       Config
	logger    *slog.Logger
}

// NewResearcher creates the research job.
func NewResearcher(d Deps, cfg Config, logger *slog.Logger) *Researcher {
	logger = logger.With(slog.String("component", NameResearcher))
	return &Researcher{
		markets:   d.Markets,
		research:  d.Research,
		estimator: d.Deep,
		book:      d.Book,
		settings:  d.Settings,
		journal:   d.Journal,
		trader:    newTrader(d, cfg, logger),
		cfg:       cfg,
		logger:    logger,
	}
}

// Name implements engine.Job.
func (r *Researcher) Name() string { return NameResearcher }

// Run executes one research cycle.
func (r *Researcher) Run(ctx context.Context) error {
	settings, err := r.settings.Current(ctx)
	if err != nil {
		r.journal.Recordf(ctx, domain.LogError, NameResearcher, "Settings unavailable: %v", err)
		return nil
	}

	if err := r.researchMarkets(ctx, settings); err != nil {
		return err
	}

	closed, err := r.trader.closeForProfit(ctx, domain.StrategyResearcher)
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "researcher: cycle complete", slog.Int("closed", closed))
	return nil
}

func (r *Researcher) researchMarkets(ctx context.Context, settings domain.Settings) error {
	markets, err := r.markets.ListActiveMarkets(ctx, r.cfg.ResearchMarketScan)
	if err != nil {
		r.journal.Recordf(ctx, domain.LogWarn, NameResearcher, "Markets unavailable: %v", err)
		return nil
	}

	candidates := r.unheld(markets)
	if len(candidates) == 0 {
		r.logger.DebugContext(ctx, "researcher: no candidate markets")
		return nil
	}
	if len(candidates) > r.cfg.ResearchDepth {
		candidates = candidates[:r.cfg.ResearchDepth]
	}

	r.journal.Recordf(ctx, domain.LogInfo, NameResearcher, "Researching %d markets", len(candidates))

	for _, m := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}

		results, err := r.research.Search(ctx, m.Question, r.cfg.SearchResults)
		if err != nil {
			r.journal.Recordf(ctx, domain.LogWarn, NameResearcher, "Search failed for %s: %v", truncate(m.Question, 50), err)
			continue
		}
		if len(results) == 0 {
			continue
		}

		est, err := r.estimator.Estimate(ctx, domain.EstimateRequest{
			Question: m.Question,
			YesPrice: m.YesPrice,
			NoPrice:  m.NoPrice,
			Research: results,
		})
		switch {
		case errors.Is(err, domain.ErrEstimatorUnavailable):
			r.journal.Record(ctx, domain.LogError, NameResearcher, estimatorFailure(err))
			return nil
		case errors.Is(err, domain.ErrUnparsableResponse):
			r.logger.DebugContext(ctx, "researcher: no signal", slog.String("market_id", m.ID))
			continue
		case err != nil:
			r.journal.Recordf(ctx, domain.LogWarn, NameResearcher, "Estimate failed for %s: %v", truncate(m.Question, 50), err)
			continue
		}
		if _, err := r.trader.consider(ctx, domain.StrategyResearcher, m, est, settings); err != nil {
			return err
		}
	}
	return nil
}

// unheld returns up to ResearchCandidates markets without an open position.
func (r *Researcher) unheld(markets []domain.Market) []domain.Market {
	held := make(map[string]bool)
	for _, p := range r.book.OpenPositions() {
		held[p.MarketID] = true
	}
	out := make([]domain.Market, 0, r.cfg.ResearchCandidates)
	for _, m := range markets {
		if held[m.ID] {
			continue
		}
		out = append(out, m)
		if len(out) == r.cfg.ResearchCandidates {
			break
		}
	}
	return out
}
