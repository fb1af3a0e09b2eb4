package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/pp?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "pp"}))
	assert.Equal(t, "postgres://u:p@db:6543/pp?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, User: "u", Password: "p", Database: "pp", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

// newTestClient connects to the database named by POLLYPILOT_TEST_POSTGRES_DSN
// and starts from empty tables. The tests are skipped when it is unset.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("POLLYPILOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POLLYPILOT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx), "migrations must be re-runnable")
	_, err = c.Pool().Exec(ctx, `TRUNCATE trades, settings, event_log, portfolio RESTART IDENTITY`)
	require.NoError(t, err)
	return c
}

func TestLedgerRepoRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	repo := NewLedgerRepo(c.Pool())

	p, positions, err := repo.Load(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 100.0, p.Balance)
	assert.Empty(t, positions)

	opened := time.Now().UTC().Truncate(time.Microsecond)
	pos := domain.Position{
		OpenedAt: opened, MarketID: "m1", Question: "Will it rain?",
		Side: domain.SideYes, EntryPrice: 0.5, Size: 20,
		Status: domain.PositionStatusOpen, Strategy: domain.StrategySniper,
		Mode: domain.ModeBalanced, TokenID: "tok-yes",
	}
	pos, p, err = repo.InsertPosition(ctx, pos, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos.ID)
	assert.Equal(t, 90.0, p.Balance)

	_, _, err = repo.InsertPosition(ctx, domain.Position{
		OpenedAt: opened, MarketID: "m2", Question: "Too big?", Side: domain.SideNo,
		EntryPrice: 0.5, Size: 500, Status: domain.PositionStatusOpen, Strategy: domain.StrategySniper,
	}, 250)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	mark := 0.6
	pos.CurrentPrice = &mark
	pos.PnL = 2
	require.NoError(t, repo.UpdatePosition(ctx, pos))

	closed := opened.Add(time.Minute)
	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &closed
	p, err = repo.ClosePosition(ctx, pos, 12)
	require.NoError(t, err)
	assert.Equal(t, 102.0, p.Balance)
	assert.Equal(t, 2.0, p.RealizedPnL)

	_, err = repo.ClosePosition(ctx, pos, 12)
	assert.ErrorIs(t, err, domain.ErrPositionClosed, "only the first close credits")
	err = repo.UpdatePosition(ctx, pos)
	assert.ErrorIs(t, err, domain.ErrNotFound, "closed trades are frozen")
	pos.ID = 99
	_, err = repo.ClosePosition(ctx, pos, 12)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	p2, positions, err := repo.Load(ctx, 999)
	require.NoError(t, err)
	assert.Equal(t, 102.0, p2.Balance)
	assert.Equal(t, 100.0, p2.InitialBalance)
	require.Len(t, positions, 1)
	got := positions[0]
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	require.NotNil(t, got.CurrentPrice)
	assert.Equal(t, 0.6, *got.CurrentPrice)
	assert.Equal(t, 2.0, got.PnL)
	require.NotNil(t, got.ClosedAt)

	require.NoError(t, repo.Reset(ctx, domain.Portfolio{Balance: 100, InitialBalance: 100, UpdatedAt: time.Now()}))
	p3, positions, err := repo.Load(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, positions)
	assert.Equal(t, 100.0, p3.Balance)
	assert.Equal(t, 0.0, p3.RealizedPnL)

	again, _, err := repo.InsertPosition(ctx, domain.Position{
		OpenedAt: opened, MarketID: "m3", Question: "Fresh?", Side: domain.SideYes,
		EntryPrice: 0.5, Size: 2, Status: domain.PositionStatusOpen, Strategy: domain.StrategySniper,
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.ID, "reset restarts ids")
}

func TestLedgerRepoConcurrentDebitsNeverOverdraw(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	a := NewLedgerRepo(c.Pool())
	b := NewLedgerRepo(c.Pool())
	_, _, err := a.Load(ctx, 100)
	require.NoError(t, err)

	pos := domain.Position{
		OpenedAt: time.Now().UTC(), MarketID: "m1", Question: "q", Side: domain.SideYes,
		EntryPrice: 0.6, Size: 100, Status: domain.PositionStatusOpen, Strategy: domain.StrategySniper,
	}
	first, _, errA := a.InsertPosition(ctx, pos, 60)
	_, _, errB := b.InsertPosition(ctx, pos, 60)
	require.NoError(t, errA)
	assert.ErrorIs(t, errB, domain.ErrInsufficientFunds)

	second, p, err := b.InsertPosition(ctx, pos, 40)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 0.0, p.Balance)
}

func TestSettingsStore(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	s := NewSettingsStore(c.Pool())

	require.NoError(t, s.SeedDefaults(ctx, map[string]string{"mode": "balanced", "max_days": "30"}))
	require.NoError(t, s.Set(ctx, "mode", "grind"))
	require.NoError(t, s.SeedDefaults(ctx, map[string]string{"mode": "moonshot"}))

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"mode": "grind", "max_days": "30"}, all)
}

func TestEventStore(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	s := NewEventStore(c.Pool(), 0)

	for _, msg := range []string{"one", "two", "three"} {
		e, err := s.Append(ctx, domain.LogEntry{Level: domain.LogInfo, Message: msg})
		require.NoError(t, err)
		assert.NotZero(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "three", recent[0].Message)
	assert.Equal(t, "two", recent[1].Message)

	n, err := s.Prune(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "three", all[0].Message)
}
