// Package portfolio implements the paper-trading ledger: the cash balance,
// realized P&L and the position book. Every mutation is serialized within
// the process and persisted through a domain.LedgerRepository before it
// becomes visible to readers. The repository applies cash deltas and
// assigns IDs, so ledgers in several processes may share one store; Sync
// picks up what the others wrote.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/pollypilot/internal/domain"
	"github.com/shopspring/decimal"
)

// Ledger holds the authoritative in-process view of the portfolio.
type Ledger struct {
	mu     sync.RWMutex
	repo   domain.LedgerRepository
	logger *slog.Logger
	now    func() time.Time

	initial   decimal.Decimal
	balance   decimal.Decimal
	realized  decimal.Decimal
	updatedAt time.Time

	positions map[int64]*domain.Position
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used to stamp positions.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Open loads the ledger from repo, creating the portfolio with
// initialBalance if the repository is empty.
func Open(ctx context.Context, repo domain.LedgerRepository, initialBalance float64, logger *slog.Logger, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		repo:      repo,
		logger:    logger.With(slog.String("component", "ledger")),
		now:       time.Now,
		positions: make(map[int64]*domain.Position),
	}
	for _, o := range opts {
		o(l)
	}

	p, positions, err := repo.Load(ctx, initialBalance)
	if err != nil {
		return nil, fmt.Errorf("portfolio: load: %w: %w", domain.ErrStorage, err)
	}

	l.load(p, positions)

	l.logger.InfoContext(ctx, "ledger: loaded",
		slog.Float64("balance", p.Balance),
		slog.Int("positions", len(positions)),
	)
	return l, nil
}

// Sync replaces the in-memory view with the stored state.
func (l *Ledger) Sync(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.syncLocked(ctx)
}

func (l *Ledger) syncLocked(ctx context.Context) error {
	p, positions, err := l.repo.Load(ctx, l.initial.InexactFloat64())
	if err != nil {
		return fmt.Errorf("portfolio: sync: %w: %w", domain.ErrStorage, err)
	}
	l.load(p, positions)
	return nil
}

func (l *Ledger) load(p domain.Portfolio, positions []domain.Position) {
	l.initial = decimal.NewFromFloat(p.InitialBalance)
	l.adopt(p)
	l.positions = make(map[int64]*domain.Position, len(positions))
	for i := range positions {
		pos := positions[i]
		l.positions[pos.ID] = &pos
	}
}

// adopt takes the cash figures returned by the repository as authoritative.
func (l *Ledger) adopt(p domain.Portfolio) {
	l.balance = decimal.NewFromFloat(p.Balance)
	l.realized = decimal.NewFromFloat(p.RealizedPnL)
	l.updatedAt = p.UpdatedAt
}

// OpenPosition debits price*size from the balance and records a new open
// position in one atomic step. It returns ErrInsufficientFunds when the
// stored balance cannot cover the cost.
func (l *Ledger) OpenPosition(ctx context.Context, req domain.OpenRequest) (domain.Position, error) {
	if err := validateOpen(req); err != nil {
		return domain.Position{}, err
	}
	cost := decimal.NewFromFloat(req.Price).Mul(decimal.NewFromFloat(req.Size))

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	pos := domain.Position{
		OpenedAt:   now,
		MarketID:   req.MarketID,
		Question:   req.Question,
		Side:       req.Side,
		EntryPrice: req.Price,
		Size:       req.Size,
		Status:     domain.PositionStatusOpen,
		Strategy:   req.Strategy,
		Confidence: req.Confidence,
		Edge:       req.Edge,
		Mode:       req.Mode,
		Reasoning:  req.Reasoning,
		TokenID:    req.TokenID,
	}
	stored, p, err := l.repo.InsertPosition(ctx, pos, cost.InexactFloat64())
	if errors.Is(err, domain.ErrInsufficientFunds) {
		return domain.Position{}, fmt.Errorf("portfolio: open %s: %w", req.MarketID, err)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("portfolio: open %s: %w: %w", req.MarketID, domain.ErrStorage, err)
	}

	l.positions[stored.ID] = &stored
	l.adopt(p)

	l.logger.InfoContext(ctx, "ledger: position opened",
		slog.Int64("id", stored.ID),
		slog.String("market_id", stored.MarketID),
		slog.String("side", string(stored.Side)),
		slog.String("cost", cost.StringFixed(2)),
		slog.String("balance", l.balance.StringFixed(2)),
	)
	return clonePosition(stored), nil
}

// RefreshPosition marks an open position to price and recomputes its P&L from
// scratch. The balance is untouched. Closed positions are never modified;
// ErrPositionClosed is returned instead.
func (l *Ledger) RefreshPosition(ctx context.Context, id int64, price float64) (domain.Position, error) {
	if err := validatePrice(price); err != nil {
		return domain.Position{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.positions[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("portfolio: refresh %d: %w", id, domain.ErrNotFound)
	}
	if !cur.IsOpen() {
		return clonePosition(*cur), fmt.Errorf("portfolio: refresh %d: %w", id, domain.ErrPositionClosed)
	}

	next := clonePosition(*cur)
	next.CurrentPrice = &price
	next.PnL = pnl(next.EntryPrice, price, next.Size).InexactFloat64()

	if err := l.repo.UpdatePosition(ctx, next); errors.Is(err, domain.ErrNotFound) {
		// Closed or reset by another ledger sharing the store.
		if err := l.syncLocked(ctx); err != nil {
			return domain.Position{}, err
		}
		if p, ok := l.positions[id]; ok && !p.IsOpen() {
			return clonePosition(*p), fmt.Errorf("portfolio: refresh %d: %w", id, domain.ErrPositionClosed)
		}
		return domain.Position{}, fmt.Errorf("portfolio: refresh %d: %w", id, domain.ErrNotFound)
	} else if err != nil {
		return domain.Position{}, fmt.Errorf("portfolio: refresh %d: %w: %w", id, domain.ErrStorage, err)
	}
	*cur = next
	return clonePosition(next), nil
}

// ClosePosition settles a position at exitPrice: the final P&L is frozen,
// exitPrice*size is credited to the balance and the P&L is added to realized
// P&L. Closing an already closed position returns the stored P&L without
// crediting again.
func (l *Ledger) ClosePosition(ctx context.Context, id int64, exitPrice float64) (float64, error) {
	if err := validatePrice(exitPrice); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.positions[id]
	if !ok {
		return 0, fmt.Errorf("portfolio: close %d: %w", id, domain.ErrNotFound)
	}
	if !cur.IsOpen() {
		return cur.PnL, nil
	}

	now := l.now().UTC()
	size := decimal.NewFromFloat(cur.Size)
	final := pnl(cur.EntryPrice, exitPrice, cur.Size)
	proceeds := decimal.NewFromFloat(exitPrice).Mul(size)

	next := clonePosition(*cur)
	next.CurrentPrice = &exitPrice
	next.PnL = final.InexactFloat64()
	next.Status = domain.PositionStatusClosed
	next.ClosedAt = &now

	p, err := l.repo.ClosePosition(ctx, next, proceeds.InexactFloat64())
	switch {
	case errors.Is(err, domain.ErrPositionClosed):
		// Another ledger sharing the store settled it first; report its P&L.
		if err := l.syncLocked(ctx); err != nil {
			return 0, err
		}
		if stored, ok := l.positions[id]; ok {
			return stored.PnL, nil
		}
		return 0, fmt.Errorf("portfolio: close %d: %w", id, domain.ErrNotFound)
	case errors.Is(err, domain.ErrNotFound):
		if err := l.syncLocked(ctx); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("portfolio: close %d: %w", id, domain.ErrNotFound)
	case err != nil:
		return 0, fmt.Errorf("portfolio: close %d: %w: %w", id, domain.ErrStorage, err)
	}

	*cur = next
	l.adopt(p)

	l.logger.InfoContext(ctx, "ledger: position closed",
		slog.Int64("id", id),
		slog.String("pnl", final.StringFixed(2)),
		slog.String("proceeds", proceeds.StringFixed(2)),
		slog.String("balance", l.balance.StringFixed(2)),
	)
	return next.PnL, nil
}

// Reset wipes every position and restores the initial balance.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	if err := l.repo.Reset(ctx, l.snapshot(l.initial, decimal.Zero, now)); err != nil {
		return fmt.Errorf("portfolio: reset: %w: %w", domain.ErrStorage, err)
	}
	l.positions = make(map[int64]*domain.Position)
	l.balance = l.initial
	l.realized = decimal.Zero
	l.updatedAt = now

	l.logger.WarnContext(ctx, "ledger: portfolio reset",
		slog.String("balance", l.initial.StringFixed(2)),
	)
	return nil
}

// Position returns a single position by ID.
func (l *Ledger) Position(id int64) (domain.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.positions[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("portfolio: position %d: %w", id, domain.ErrNotFound)
	}
	return clonePosition(*p), nil
}

// OpenPositions returns every open position, newest first.
func (l *Ledger) OpenPositions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		if p.IsOpen() {
			out = append(out, clonePosition(*p))
		}
	}
	sortNewestFirst(out)
	return out
}

// History returns up to limit positions of any status, newest first. A
// non-positive limit returns everything.
func (l *Ledger) History(limit int) []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, clonePosition(*p))
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Portfolio returns the current cash record.
func (l *Ledger) Portfolio() domain.Portfolio {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot(l.balance, l.realized, l.updatedAt)
}

// Stats summarizes the ledger. Win rate is the share of closed positions with
// positive P&L, in percent rounded to one decimal, and 0 with nothing closed.
func (l *Ledger) Stats() domain.Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := domain.Stats{
		Balance:        l.balance.InexactFloat64(),
		InitialBalance: l.initial.InexactFloat64(),
		TotalPnL:       l.realized.InexactFloat64(),
		TotalTrades:    len(l.positions),
	}
	unrealized := decimal.Zero
	for _, p := range l.positions {
		if p.IsOpen() {
			s.OpenTrades++
			unrealized = unrealized.Add(decimal.NewFromFloat(p.PnL))
			continue
		}
		s.ClosedTrades++
		if p.PnL > 0 {
			s.WinningTrades++
		}
	}
	s.UnrealizedPnL = unrealized.InexactFloat64()
	if s.ClosedTrades > 0 {
		rate := float64(s.WinningTrades) / float64(s.ClosedTrades) * 100
		s.WinRate = math.Round(rate*10) / 10
	}
	return s
}

// EquityCurve returns account equity over time: the initial balance, then one
// point per closed position in close order, then the current equity (cash
// plus the marked value of open positions).
func (l *Ledger) EquityCurve() []domain.EquityPoint {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var closed []domain.Position
	start := l.updatedAt
	openValue := decimal.Zero
	for _, p := range l.positions {
		if p.OpenedAt.Before(start) {
			start = p.OpenedAt
		}
		if p.IsOpen() {
			openValue = openValue.Add(decimal.NewFromFloat(p.MarkPrice()).Mul(decimal.NewFromFloat(p.Size)))
			continue
		}
		closed = append(closed, *p)
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return closed[i].ClosedAt.Before(*closed[j].ClosedAt)
	})

	curve := make([]domain.EquityPoint, 0, len(closed)+2)
	curve = append(curve, domain.EquityPoint{Time: start, Equity: l.initial.InexactFloat64()})
	equity := l.initial
	for _, p := range closed {
		equity = equity.Add(decimal.NewFromFloat(p.PnL))
		curve = append(curve, domain.EquityPoint{Time: *p.ClosedAt, Equity: equity.InexactFloat64()})
	}
	curve = append(curve, domain.EquityPoint{
		Time:   l.now().UTC(),
		Equity: l.balance.Add(openValue).InexactFloat64(),
	})
	return curve
}

func (l *Ledger) snapshot(balance, realized decimal.Decimal, at time.Time) domain.Portfolio {
	return domain.Portfolio{
		Balance:        balance.InexactFloat64(),
		InitialBalance: l.initial.InexactFloat64(),
		RealizedPnL:    realized.InexactFloat64(),
		UpdatedAt:      at,
	}
}

func pnl(entry, price, size float64) decimal.Decimal {
	return decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(entry)).Mul(decimal.NewFromFloat(size))
}

func validateOpen(req domain.OpenRequest) error {
	switch {
	case req.MarketID == "":
		return fmt.Errorf("portfolio: open: empty market id: %w", domain.ErrInvalidPosition)
	case !req.Side.Valid():
		return fmt.Errorf("portfolio: open %s: side %q: %w", req.MarketID, req.Side, domain.ErrInvalidPosition)
	case req.Price <= 0 || req.Price > 1:
		return fmt.Errorf("portfolio: open %s: price %v outside (0,1]: %w", req.MarketID, req.Price, domain.ErrInvalidPosition)
	case req.Size <= 0 || math.IsInf(req.Size, 0) || math.IsNaN(req.Size):
		return fmt.Errorf("portfolio: open %s: size %v: %w", req.MarketID, req.Size, domain.ErrInvalidPosition)
	}
	return nil
}

func validatePrice(price float64) error {
	if price < 0 || price > 1 || math.IsNaN(price) {
		return fmt.Errorf("portfolio: price %v outside [0,1]: %w", price, domain.ErrInvalidPosition)
	}
	return nil
}

func clonePosition(p domain.Position) domain.Position {
	if p.CurrentPrice != nil {
		v := *p.CurrentPrice
		p.CurrentPrice = &v
	}
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		p.ClosedAt = &t
	}
	return p
}

func sortNewestFirst(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID > ps[j].ID })
}
