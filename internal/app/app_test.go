package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pollypilot/internal/config"
	"github.com/alanyoungcy/pollypilot/internal/domain"
	"github.com/alanyoungcy/pollypilot/internal/strategy"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func build(t *testing.T, cfg config.Config) (*App, *Dependencies, *Runtime) {
	t.Helper()
	require.NoError(t, cfg.Validate())
	a := New(&cfg, discardLogger())
	ctx := context.Background()

	deps, cleanup, err := Wire(ctx, &cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	rt, err := a.Build(ctx, deps)
	require.NoError(t, err)
	return a, deps, rt
}

func jobNames(rt *Runtime) []string {
	var names []string
	for _, j := range rt.Engine.Status(context.Background()).Jobs {
		names = append(names, j.Name)
	}
	return names
}

func TestBuildInMemory(t *testing.T) {
	cfg := config.Defaults()
	cfg.Risk.Mode = "Grind"
	cfg.Risk.MaxDays = 7

	_, deps, rt := build(t, cfg)

	assert.Nil(t, deps.Locker, "no lock without redis")
	assert.Nil(t, deps.BlobWriter)
	assert.Empty(t, deps.HealthChecks)
	assert.False(t, deps.Notifier.Enabled())

	assert.Equal(t, []string{strategy.NameSniper, strategy.NameResearcher, strategy.NamePriceUpdater}, jobNames(rt))
	assert.False(t, rt.Engine.Running(), "engine starts idle")
	assert.NotNil(t, rt.Server)
	assert.NotNil(t, rt.Limiter)

	assert.Equal(t, cfg.Engine.InitialBalance, rt.Ledger.Portfolio().Balance)

	s, err := rt.Engine.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ModeGrind, s.Mode)
	assert.Equal(t, 7, s.MaxDays)
}

func TestBuildKeepsStoredSettings(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, discardLogger())
	ctx := context.Background()

	deps, cleanup, err := Wire(ctx, &cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(cleanup)
	require.NoError(t, deps.SettingsStore.Set(ctx, domain.SettingMode, "moonshot"))

	rt, err := a.Build(ctx, deps)
	require.NoError(t, err)
	s, err := rt.Engine.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeMoonshot, s.Mode, "stored settings win over the seed")
}

func TestBuildWithoutServer(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Enabled = false
	cfg.Server.RateLimitPerMinute = 0

	_, _, rt := build(t, cfg)
	assert.Nil(t, rt.Server)
	assert.Nil(t, rt.Limiter)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Enabled = false

	a := New(&cfg, discardLogger())
	t.Cleanup(a.Close)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
