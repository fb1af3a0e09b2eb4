package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/pollypilot/internal/domain"
	"github.com/alanyoungcy/pollypilot/internal/risk"
)

// maxTextLen bounds stored question and rationale text, in runes.
const maxTextLen = 500

// trader turns an estimate on a market into a sized paper position.
type trader struct {
	book    Book
	journal Recorder
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

func newTrader(d Deps, cfg Config, logger *slog.Logger) *trader {
	return &trader{
		book:    d.Book,
		journal: d.Journal,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// consider runs the relevance and horizon gates and the risk policy, and
// opens a position when all pass. It reports whether a position was opened.
// Only storage failures are returned as errors.
func (t *trader) consider(ctx context.Context, strategy domain.StrategyName, m domain.Market, est domain.Estimate, s domain.Settings) (bool, error) {
	tag := string(strategy)

	if est.Confidence < t.cfg.MinRelevance {
		t.logger.DebugContext(ctx, "trader: estimate not relevant",
			slog.String("market_id", m.ID),
			slog.Float64("confidence", est.Confidence),
		)
		return false, nil
	}

	if !risk.WithinHorizon(m.EndDate, s.MaxDays, t.now()) {
		t.logger.DebugContext(ctx, "trader: market beyond horizon",
			slog.String("market_id", m.ID),
			slog.String("end_date", m.EndDate),
			slog.Int("max_days", s.MaxDays),
		)
		return false, nil
	}

	d := risk.Evaluate(risk.Candidate{
		Probability: est.Probability / 100,
		Confidence:  est.Confidence,
		Side:        est.Side,
		YesPrice:    m.YesPrice,
		NoPrice:     m.NoPrice,
	}, s)
	if !d.Approved {
		t.journal.Recordf(ctx, domain.LogSignal, tag, "Filtered: %s | %s | edge %.1f%% | conf %.0f%% | %s",
			truncate(m.Question, 50), d.Side, d.Edge, est.Confidence, d.Reason)
		return false, nil
	}

	dollars := t.book.Portfolio().Balance * d.SizePct
	if dollars < t.cfg.MinTradeUSD {
		t.journal.Recordf(ctx, domain.LogSignal, tag, "Skipped: %s | size $%.2f below $%.2f minimum",
			truncate(m.Question, 50), dollars, t.cfg.MinTradeUSD)
		return false, nil
	}

	pos, err := t.book.OpenPosition(ctx, domain.OpenRequest{
		MarketID:   m.ID,
		Question:   truncate(m.Question, maxTextLen),
		Side:       d.Side,
		Price:      d.Price,
		Size:       dollars / d.Price,
		Strategy:   strategy,
		Confidence: est.Confidence,
		Edge:       d.Edge,
		Mode:       d.Mode,
		Reasoning:  truncate(est.Reasoning, maxTextLen),
		TokenID:    m.TokenFor(d.Side),
	})
	switch {
	case errors.Is(err, domain.ErrStorage):
		return false, err
	case errors.Is(err, domain.ErrInsufficientFunds):
		t.journal.Recordf(ctx, domain.LogWarn, tag, "Insufficient funds for %s ($%.2f)", truncate(m.Question, 50), dollars)
		return false, nil
	case err != nil:
		t.journal.Recordf(ctx, domain.LogWarn, tag, "Open rejected for %s: %v", truncate(m.Question, 50), err)
		return false, nil
	}

	t.journal.Recordf(ctx, domain.LogTrade, tag, "OPEN #%d %s %s @ %.3f x %.2f ($%.2f) | edge %.1f%% | conf %.0f%% | %s",
		pos.ID, pos.Side, truncate(pos.Question, 60), pos.EntryPrice, pos.Size, pos.CostBasis(), pos.Edge, pos.Confidence, d.Mode)
	return true, nil
}

// closeForProfit closes every open position whose return on cost exceeds the
// take-profit threshold, at its last marked price.
func (t *trader) closeForProfit(ctx context.Context, strategy domain.StrategyName) (int, error) {
	closed := 0
	for _, p := range t.book.OpenPositions() {
		roi := p.ReturnPct()
		if roi <= t.cfg.TakeProfitPct {
			continue
		}
		pnl, err := t.book.ClosePosition(ctx, p.ID, p.MarkPrice())
		if errors.Is(err, domain.ErrStorage) {
			return closed, err
		}
		if err != nil {
			t.logger.WarnContext(ctx, "trader: take profit close failed",
				slog.Int64("id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		closed++
		t.journal.Recordf(ctx, domain.LogTrade, string(strategy), "CLOSE #%d %s | take profit %.1f%% | P&L $%.2f",
			p.ID, truncate(p.Question, 60), roi, pnl)
	}
	return closed, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func estimatorFailure(err error) string {
	return fmt.Sprintf("estimator unavailable: %v", err)
}
