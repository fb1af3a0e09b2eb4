package portfolio_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/pollypilot/internal/domain"
	"github.com/alanyoungcy/pollypilot/internal/portfolio"
	"github.com/alanyoungcy/pollypilot/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLedger(t *testing.T, balance float64) (*portfolio.Ledger, *memory.LedgerRepo) {
	t.Helper()
	repo := memory.NewLedgerRepo()
	l, err := portfolio.Open(context.Background(), repo, balance, discardLogger())
	require.NoError(t, err)
	return l, repo
}

func openReq(price, size float64) domain.OpenRequest {
	return domain.OpenRequest{
		MarketID:   "mkt-1",
		Question:   "Will it happen?",
		Side:       domain.SideYes,
		Price:      price,
		Size:       size,
		Strategy:   domain.StrategySniper,
		Confidence: 80,
		Edge:       10,
		Mode:       domain.ModeBalanced,
		TokenID:    "tok-yes",
	}
}

func TestLedger_OpenRefreshCloseLifecycle(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 100)

	pos, err := l.OpenPosition(ctx, openReq(0.5, 20))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos.ID)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Nil(t, pos.CurrentPrice)
	assert.InDelta(t, 90.0, l.Portfolio().Balance, 1e-9)

	refreshed, err := l.RefreshPosition(ctx, pos.ID, 0.6)
	require.NoError(t, err)
	require.NotNil(t, refreshed.CurrentPrice)
	assert.InDelta(t, 0.6, *refreshed.CurrentPrice, 1e-9)
	assert.InDelta(t, 2.0, refreshed.PnL, 1e-9)
	assert.InDelta(t, 90.0, l.Portfolio().Balance, 1e-9, "refresh must not touch the balance")

	pnl, err := l.ClosePosition(ctx, pos.ID, 0.6)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, pnl, 1e-9)

	p := l.Portfolio()
	assert.InDelta(t, 102.0, p.Balance, 1e-9)
	assert.InDelta(t, 2.0, p.RealizedPnL, 1e-9)
	assert.Empty(t, l.OpenPositions())
}

func TestLedger_RefreshRecomputesPnL(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 100)

	pos, err := l.OpenPosition(ctx, openReq(0.4, 10))
	require.NoError(t, err)

	for _, price := range []float64{0.9, 0.1, 0.5} {
		_, err := l.RefreshPosition(ctx, pos.ID, price)
		require.NoError(t, err)
	}
	got, err := l.Position(pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.PnL, 1e-9)
}

func TestLedger_CloseTwiceDoesNotDoubleCredit(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 100)

	pos, err := l.OpenPosition(ctx, openReq(0.5, 20))
	require.NoError(t, err)

	first, err := l.ClosePosition(ctx, pos.ID, 0.7)
	require.NoError(t, err)
	balance := l.Portfolio().Balance

	second, err := l.ClosePosition(ctx, pos.ID, 0.1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, balance, l.Portfolio().Balance)
	assert.InDelta(t, 4.0, l.Portfolio().RealizedPnL, 1e-9)
}

func TestLedger_InsufficientFundsRejected(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 10)

	_, err := l.OpenPosition(ctx, openReq(0.5, 21))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.InDelta(t, 10.0, l.Portfolio().Balance, 1e-9)
	assert.Empty(t, l.History(0))

	_, err = l.OpenPosition(ctx, openReq(0.5, 20))
	require.NoError(t, err, "spending the exact balance is allowed")
	assert.InDelta(t, 0.0, l.Portfolio().Balance, 1e-9)
}

func TestLedger_RejectsInvalidRequests(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 100)

	tests := []struct {
		name string
		mut  func(*domain.OpenRequest)
	}{
		{"zero price", func(r *domain.OpenRequest) { r.Price = 0 }},
		{"price above one", func(r *domain.OpenRequest) { r.Price = 1.2 }},
		{"zero size", func(r *domain.OpenRequest) { r.Size = 0 }},
		{"negative size", func(r *domain.OpenRequest) { r.Size = -3 }},
		{"bad side", func(r *domain.OpenRequest) { r.Side = "MAYBE" }},
		{"no market", func(r *domain.OpenRequest) { r.MarketID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := openReq(0.5, 2)
			tt.mut(&req)
			_, err := l.OpenPosition(ctx, req)
			assert.ErrorIs(t, err, domain.ErrInvalidPosition)
		})
	}
	assert.InDelta(t, 100.0, l.Portfolio().Balance, 1e-9)
}

func TestLedger_RefreshNeverTouchesClosedPosition(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 100)

	pos, err := l.OpenPosition(ctx, openReq(0.5, 10))
	require.NoError(t, err)
	_, err = l.ClosePosition(ctx, pos.ID, 0.55)
	require.NoError(t, err)

	_, err = l.RefreshPosition(ctx, pos.ID, 0.9)
	require.ErrorIs(t, err, domain.ErrPositionClosed)

	got, err := l.Position(pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, *got.CurrentPrice, 1e-9)
	assert.InDelta(t, 0.5, got.PnL, 1e-9)
}

func TestLedger_UnknownPosition(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 100)

	_, err := l.RefreshPosition(ctx, 42, 0.5)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = l.ClosePosition(ctx, 42, 0.5)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedger_ConcurrentOpensNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 100)

	const workers = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		opened   int
		rejected int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := l.OpenPosition(ctx, openReq(0.5, 10))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				opened++
			case errors.Is(err, domain.ErrInsufficientFunds):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, opened)
	assert.Equal(t, 30, rejected)
	assert.InDelta(t, 0.0, l.Portfolio().Balance, 1e-9)
	assert.Len(t, l.OpenPositions(), 20)
}

func TestLedger_BalanceMatchesCashFlows(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 100)
	rng := rand.New(rand.NewSource(7))

	costs, proceeds := 0.0, 0.0
	var open []int64
	for i := 0; i < 300; i++ {
		if len(open) > 0 && rng.Intn(3) == 0 {
			idx := rng.Intn(len(open))
			id := open[idx]
			exit := float64(rng.Intn(101)) / 100
			pos, err := l.Position(id)
			require.NoError(t, err)
			_, err = l.ClosePosition(ctx, id, exit)
			require.NoError(t, err)
			proceeds += exit * pos.Size
			open = append(open[:idx], open[idx+1:]...)
			continue
		}
		price := float64(rng.Intn(99)+1) / 100
		size := float64(rng.Intn(40) + 1)
		pos, err := l.OpenPosition(ctx, openReq(price, size))
		if errors.Is(err, domain.ErrInsufficientFunds) {
			continue
		}
		require.NoError(t, err)
		costs += price * size
		open = append(open, pos.ID)

		require.GreaterOrEqual(t, l.Portfolio().Balance, 0.0)
	}
	assert.InDelta(t, 100-costs+proceeds, l.Portfolio().Balance, 1e-6)
}

func TestLedger_ReloadsFromRepository(t *testing.T) {
	ctx := context.Background()
	l, repo := newLedger(t, 100)

	a, err := l.OpenPosition(ctx, openReq(0.5, 20))
	require.NoError(t, err)
	_, err = l.OpenPosition(ctx, openReq(0.25, 8))
	require.NoError(t, err)
	_, err = l.ClosePosition(ctx, a.ID, 0.75)
	require.NoError(t, err)

	reloaded, err := portfolio.Open(ctx, repo, 500, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, l.Portfolio().Balance, reloaded.Portfolio().Balance)
	assert.InDelta(t, 100.0, reloaded.Portfolio().InitialBalance, 1e-9, "initial balance is fixed at creation")
	assert.Len(t, reloaded.OpenPositions(), 1)

	next, err := reloaded.OpenPosition(ctx, openReq(0.5, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(3), next.ID)
}

type failingRepo struct {
	*memory.LedgerRepo
	err error
}

func (f failingRepo) InsertPosition(context.Context, domain.Position, float64) (domain.Position, domain.Portfolio, error) {
	return domain.Position{}, domain.Portfolio{}, f.err
}

func (f failingRepo) ClosePosition(context.Context, domain.Position, float64) (domain.Portfolio, error) {
	return domain.Portfolio{}, f.err
}

func TestLedger_StorageFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewLedgerRepo()
	ok, err := portfolio.Open(ctx, inner, 100, discardLogger())
	require.NoError(t, err)
	pos, err := ok.OpenPosition(ctx, openReq(0.5, 10))
	require.NoError(t, err)

	repo := failingRepo{LedgerRepo: inner, err: errors.New("disk full")}
	l, err := portfolio.Open(ctx, repo, 100, discardLogger())
	require.NoError(t, err)

	_, err = l.OpenPosition(ctx, openReq(0.5, 10))
	require.ErrorIs(t, err, domain.ErrStorage)
	_, err = l.ClosePosition(ctx, pos.ID, 0.9)
	require.ErrorIs(t, err, domain.ErrStorage)

	assert.InDelta(t, 95.0, l.Portfolio().Balance, 1e-9)
	assert.Len(t, l.OpenPositions(), 1)
}

func TestLedger_StatsAndWinRate(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 100)

	assert.Zero(t, l.Stats().WinRate)

	ids := make([]int64, 0, 4)
	for i := 0; i < 4; i++ {
		pos, err := l.OpenPosition(ctx, openReq(0.5, 10))
		require.NoError(t, err)
		ids = append(ids, pos.ID)
	}
	_, err := l.ClosePosition(ctx, ids[0], 0.6)
	require.NoError(t, err)
	_, err = l.ClosePosition(ctx, ids[1], 0.4)
	require.NoError(t, err)
	_, err = l.ClosePosition(ctx, ids[2], 0.8)
	require.NoError(t, err)
	_, err = l.RefreshPosition(ctx, ids[3], 0.7)
	require.NoError(t, err)

	s := l.Stats()
	assert.Equal(t, 4, s.TotalTrades)
	assert.Equal(t, 1, s.OpenTrades)
	assert.Equal(t, 3, s.ClosedTrades)
	assert.Equal(t, 2, s.WinningTrades)
	assert.InDelta(t, 66.7, s.WinRate, 1e-9)
	assert.InDelta(t, 3.0, s.TotalPnL, 1e-9)
	assert.InDelta(t, 2.0, s.UnrealizedPnL, 1e-9)
}

func TestLedger_EquityCurve(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo := memory.NewLedgerRepo()
	l, err := portfolio.Open(ctx, repo, 100, discardLogger(), portfolio.WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))
	require.NoError(t, err)

	a, err := l.OpenPosition(ctx, openReq(0.5, 20))
	require.NoError(t, err)
	b, err := l.OpenPosition(ctx, openReq(0.5, 10))
	require.NoError(t, err)
	_, err = l.ClosePosition(ctx, a.ID, 0.6)
	require.NoError(t, err)
	_, err = l.RefreshPosition(ctx, b.ID, 0.3)
	require.NoError(t, err)

	curve := l.EquityCurve()
	require.Len(t, curve, 3)
	assert.InDelta(t, 100.0, curve[0].Equity, 1e-9)
	assert.InDelta(t, 102.0, curve[1].Equity, 1e-9)
	// cash 97 plus 10 shares marked at 0.3
	assert.InDelta(t, 100.0, curve[2].Equity, 1e-9)
}

func TestLedger_Reset(t *testing.T) {
	ctx := context.Background()
	l, repo := newLedger(t, 100)

	_, err := l.OpenPosition(ctx, openReq(0.5, 20))
	require.NoError(t, err)
	require.NoError(t, l.Reset(ctx))

	assert.InDelta(t, 100.0, l.Portfolio().Balance, 1e-9)
	assert.Empty(t, l.History(0))

	_, positions, err := repo.Load(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, positions)

	pos, err := l.OpenPosition(ctx, openReq(0.5, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos.ID)
}

func TestLedger_HistoryNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 100)
	for i := 0; i < 5; i++ {
		_, err := l.OpenPosition(ctx, openReq(0.1, 1))
		require.NoError(t, err)
	}
	h := l.History(3)
	require.Len(t, h, 3)
	assert.Equal(t, []int64{5, 4, 3}, []int64{h[0].ID, h[1].ID, h[2].ID})
}

func TestLedger_SharedRepositoryKeepsCashConsistent(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewLedgerRepo()
	a, err := portfolio.Open(ctx, repo, 100, discardLogger())
	require.NoError(t, err)
	b, err := portfolio.Open(ctx, repo, 100, discardLogger())
	require.NoError(t, err)

	first, err := a.OpenPosition(ctx, openReq(0.6, 100))
	require.NoError(t, err)
	_, err = b.OpenPosition(ctx, openReq(0.6, 100))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds, "b's view is stale but the store is not")

	second, err := b.OpenPosition(ctx, openReq(0.4, 100))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.InDelta(t, 0.0, b.Portfolio().Balance, 1e-9)

	stored, positions, err := repo.Load(ctx, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, stored.Balance, 1e-9)
	assert.Len(t, positions, 2)

	require.NoError(t, a.Sync(ctx))
	assert.Len(t, a.OpenPositions(), 2)
	assert.InDelta(t, 0.0, a.Portfolio().Balance, 1e-9)
}

func TestLedger_CloseSettledElsewhereCreditsOnce(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewLedgerRepo()
	a, err := portfolio.Open(ctx, repo, 100, discardLogger())
	require.NoError(t, err)
	pos, err := a.OpenPosition(ctx, openReq(0.5, 20))
	require.NoError(t, err)

	b, err := portfolio.Open(ctx, repo, 100, discardLogger())
	require.NoError(t, err)
	pnl, err := b.ClosePosition(ctx, pos.ID, 0.7)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, pnl, 1e-9)

	again, err := a.ClosePosition(ctx, pos.ID, 0.1)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, again, 1e-9, "the first settlement wins")
	assert.InDelta(t, 104.0, a.Portfolio().Balance, 1e-9)
	assert.InDelta(t, 4.0, a.Portfolio().RealizedPnL, 1e-9)

	_, err = a.RefreshPosition(ctx, pos.ID, 0.9)
	assert.ErrorIs(t, err, domain.ErrPositionClosed)
}
