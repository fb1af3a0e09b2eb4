// Package memory implements the domain store interfaces in process memory.
// State lives only as long as the process; it backs tests and runs without a
// database.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// LedgerRepo implements domain.LedgerRepository with a map. Several ledgers
// may share one LedgerRepo; balances move by deltas under its lock.
type LedgerRepo struct {
	mu        sync.Mutex
	portfolio *domain.Portfolio
	positions map[int64]domain.Position
	lastID    int64
}

// NewLedgerRepo creates an empty LedgerRepo.
func NewLedgerRepo() *LedgerRepo {
	return &LedgerRepo{positions: make(map[int64]domain.Position)}
}

// Load returns the stored state, creating the portfolio on first use.
func (r *LedgerRepo) Load(_ context.Context, initialBalance float64) (domain.Portfolio, []domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.portfolio == nil {
		r.portfolio = &domain.Portfolio{
			Balance:        initialBalance,
			InitialBalance: initialBalance,
			UpdatedAt:      time.Now().UTC(),
		}
	}
	out := make([]domain.Position, 0, len(r.positions))
	for _, p := range r.positions {
		out = append(out, p)
	}
	return *r.portfolio, out, nil
}

// InsertPosition debits cost and stores pos under the next ID.
func (r *LedgerRepo) InsertPosition(_ context.Context, pos domain.Position, cost float64) (domain.Position, domain.Portfolio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.portfolio == nil {
		return domain.Position{}, domain.Portfolio{}, domain.ErrNotFound
	}

	balance := decimal.NewFromFloat(r.portfolio.Balance)
	c := decimal.NewFromFloat(cost)
	if balance.LessThan(c) {
		return domain.Position{}, *r.portfolio, fmt.Errorf("cost %s exceeds balance %s: %w",
			c.StringFixed(2), balance.StringFixed(2), domain.ErrInsufficientFunds)
	}

	r.lastID++
	pos.ID = r.lastID
	r.positions[pos.ID] = pos
	r.portfolio.Balance = balance.Sub(c).InexactFloat64()
	r.portfolio.UpdatedAt = pos.OpenedAt
	return pos, *r.portfolio, nil
}

// UpdatePosition overwrites the mark of a stored open position.
func (r *LedgerRepo) UpdatePosition(_ context.Context, pos domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.positions[pos.ID]
	if !ok || !cur.IsOpen() {
		return domain.ErrNotFound
	}
	r.positions[pos.ID] = pos
	return nil
}

// ClosePosition stores the closed position and credits proceeds and its P&L.
func (r *LedgerRepo) ClosePosition(_ context.Context, pos domain.Position, proceeds float64) (domain.Portfolio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.positions[pos.ID]
	switch {
	case !ok || cur.MarketID != pos.MarketID:
		return domain.Portfolio{}, domain.ErrNotFound
	case !cur.IsOpen():
		return *r.portfolio, domain.ErrPositionClosed
	}

	r.positions[pos.ID] = pos
	r.portfolio.Balance = decimal.NewFromFloat(r.portfolio.Balance).Add(decimal.NewFromFloat(proceeds)).InexactFloat64()
	r.portfolio.RealizedPnL = decimal.NewFromFloat(r.portfolio.RealizedPnL).Add(decimal.NewFromFloat(pos.PnL)).InexactFloat64()
	if pos.ClosedAt != nil {
		r.portfolio.UpdatedAt = *pos.ClosedAt
	}
	return *r.portfolio, nil
}

// Reset drops every position and restarts IDs at 1.
func (r *LedgerRepo) Reset(_ context.Context, p domain.Portfolio) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = make(map[int64]domain.Position)
	r.lastID = 0
	r.portfolio = &p
	return nil
}

var _ domain.LedgerRepository = (*LedgerRepo)(nil)
