package strategy

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// PriceUpdater marks open positions to the latest quote. Quotes are fetched
// concurrently before any ledger call, so no ledger lock is held across
// network I/O.
type PriceUpdater struct {
	markets domain.MarketGateway
	book    Book
	cfg     Config
	logger  *slog.Logger
}

// NewPriceUpdater creates the mark-to-market job.
func NewPriceUpdater(d Deps, cfg Config, logger *slog.Logger) *PriceUpdater {
	return &PriceUpdater{
		markets: d.Markets,
		book:    d.Book,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", NamePriceUpdater)),
	}
}

// Name implements engine.Job.
func (u *PriceUpdater) Name() string { return NamePriceUpdater }

type quote struct {
	price float64
	ok    bool
}

// Run executes one refresh cycle.
func (u *PriceUpdater) Run(ctx context.Context) error {
	var positions []domain.Position
	for _, p := range u.book.OpenPositions() {
		if p.TokenID != "" {
			positions = append(positions, p)
		}
	}
	if len(positions) == 0 {
		return nil
	}

	quotes := make([]quote, len(positions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, u.cfg.QuoteConcurrency))
	for i, p := range positions {
		g.Go(func() error {
			price, ok, err := u.markets.Quote(gctx, p.TokenID)
			if err != nil {
				u.logger.DebugContext(gctx, "price_updater: quote failed",
					slog.Int64("id", p.ID),
					slog.String("token_id", p.TokenID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			quotes[i] = quote{price: price, ok: ok}
			return nil
		})
	}
	_ = g.Wait()

	updated := 0
	for i, p := range positions {
		if !quotes[i].ok {
			continue
		}
		_, err := u.book.RefreshPosition(ctx, p.ID, quotes[i].price)
		switch {
		case err == nil:
			updated++
		case errors.Is(err, domain.ErrStorage):
			return err
		case errors.Is(err, domain.ErrPositionClosed), errors.Is(err, domain.ErrNotFound):
			// closed or reset since the snapshot was taken
		default:
			u.logger.WarnContext(ctx, "price_updater: refresh rejected",
				slog.Int64("id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	u.logger.DebugContext(ctx, "price_updater: cycle complete",
		slog.Int("positions", len(positions)),
		slog.Int("updated", updated),
	)
	return nil
}
