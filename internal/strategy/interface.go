// Package strategy implements the periodic trading jobs: the headline
// sniper, the deep researcher and the price updater. Jobs only talk to the
// outside world through domain gateways and only mutate the portfolio
// through the Book.
package strategy

import (
	"context"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// Job names.
const (
	NameSniper       = "sniper"
	NameResearcher   = "researcher"
	NamePriceUpdater = "price_updater"
)

// Book is the portfolio surface the jobs need. *portfolio.Ledger satisfies it.
type Book interface {
	OpenPosition(ctx context.Context, req domain.OpenRequest) (domain.Position, error)
	RefreshPosition(ctx context.Context, id int64, price float64) (domain.Position, error)
	ClosePosition(ctx context.Context, id int64, exitPrice float64) (float64, error)
	OpenPositions() []domain.Position
	Portfolio() domain.Portfolio
}

// SettingsSource returns the settings in force for one job run.
type SettingsSource interface {
	Current(ctx context.Context) (domain.Settings, error)
}

// Recorder appends journal entries. *service.Journal satisfies it.
type Recorder interface {
	Record(ctx context.Context, level domain.LogLevel, strategy, message string)
	Recordf(ctx context.Context, level domain.LogLevel, strategy, format string, args ...any)
}

// Deps bundles the collaborators shared by every job.
type Deps struct {
	Markets  domain.MarketGateway
	News     domain.NewsGateway
	Research domain.ResearchGateway
	Fast     domain.Estimator
	Deep     domain.Estimator
	Book     Book
	Settings SettingsSource
	Journal  Recorder
}

// Config holds the per-cycle limits of the jobs.
type Config struct {
	HeadlinesPerCycle  int
	MarketsPerHeadline int
	SniperMarketScan   int
	ResearchMarketScan int
	ResearchCandidates int
	ResearchDepth      int
	SearchResults      int
	// TakeProfitPct closes a position once its return on cost exceeds it.
	TakeProfitPct float64
	MinTradeUSD   float64
	// MinRelevance is the estimator confidence below which an estimate is
	// considered unrelated to its market and never traded.
	MinRelevance     float64
	QuoteConcurrency int
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		HeadlinesPerCycle:  5,
		MarketsPerHeadline: 2,
		SniperMarketScan:   100,
		ResearchMarketScan: 50,
		ResearchCandidates: 10,
		ResearchDepth:      3,
		SearchResults:      5,
		TakeProfitPct:      20,
		MinTradeUSD:        1,
		MinRelevance:       10,
		QuoteConcurrency:   4,
	}
}
