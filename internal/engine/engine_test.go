package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pollypilot/internal/domain"
	"github.com/alanyoungcy/pollypilot/internal/portfolio"
	"github.com/alanyoungcy/pollypilot/internal/service"
	"github.com/alanyoungcy/pollypilot/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Run(ctx context.Context) error { return j.fn(ctx) }

type fixture struct {
	engine  *Engine
	ledger  *portfolio.Ledger
	journal *service.Journal
}

func newFixture(t *testing.T, schedules ...Schedule) *fixture {
	t.Helper()
	ctx := context.Background()
	ledger, err := portfolio.Open(ctx, memory.NewLedgerRepo(), 100, discardLogger())
	require.NoError(t, err)
	settings := service.NewSettingsService(memory.NewSettingsStore(), discardLogger())
	require.NoError(t, settings.Seed(ctx, domain.DefaultSettings()))
	journal := service.NewJournal(memory.NewEventStore(0), nil, nil, discardLogger())

	e, err := New(Config{Schedules: schedules}, Deps{
		Ledger:   ledger,
		Settings: settings,
		Journal:  journal,
	}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		if e.Running() {
			e.Stop()
		}
	})
	return &fixture{engine: e, ledger: ledger, journal: journal}
}

func jobStatus(t *testing.T, e *Engine, name string) JobStatus {
	t.Helper()
	for _, j := range e.Status(context.Background()).Jobs {
		if j.Name == name {
			return j
		}
	}
	t.Fatalf("job %s not found", name)
	return JobStatus{}
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "0h 0m 0s", FormatUptime(0))
	assert.Equal(t, "0h 0m 59s", FormatUptime(59*time.Second+900*time.Millisecond))
	assert.Equal(t, "1h 1m 1s", FormatUptime(time.Hour+time.Minute+time.Second))
	assert.Equal(t, "26h 3m 0s", FormatUptime(26*time.Hour+3*time.Minute))
	assert.Equal(t, "0h 0m 0s", FormatUptime(-time.Second))
}

func TestNewValidatesSchedules(t *testing.T) {
	deps := Deps{
		Ledger:   &portfolio.Ledger{},
		Settings: service.NewSettingsService(memory.NewSettingsStore(), discardLogger()),
		Journal:  service.NewJournal(memory.NewEventStore(0), nil, nil, discardLogger()),
	}
	noop := funcJob{name: "a", fn: func(context.Context) error { return nil }}

	_, err := New(Config{Schedules: []Schedule{{Job: noop, Interval: time.Second}, {Job: noop, Interval: time.Second}}}, deps, discardLogger())
	assert.Error(t, err)

	_, err = New(Config{Schedules: []Schedule{{Job: noop}}}, deps, discardLogger())
	assert.Error(t, err)

	_, err = New(Config{}, Deps{}, discardLogger())
	assert.Error(t, err)

	e, err := New(Config{Workers: 1}, deps, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, MinWorkers, cap(e.workers))
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	f := newFixture(t, Schedule{Job: funcJob{name: "noop", fn: func(context.Context) error { return nil }}, Interval: time.Hour})

	assert.True(t, f.engine.Start(context.Background()))
	assert.False(t, f.engine.Start(context.Background()))
	assert.True(t, f.engine.Running())

	assert.True(t, f.engine.Stop())
	assert.False(t, f.engine.Stop())
	assert.False(t, f.engine.Running())

	// restart after stop
	assert.True(t, f.engine.Start(context.Background()))
	assert.True(t, f.engine.Stop())
}

func TestImmediateJobRunsOnStart(t *testing.T) {
	var immediate, deferred atomic.Int32
	f := newFixture(t,
		Schedule{Job: funcJob{name: "sniper", fn: func(context.Context) error { immediate.Add(1); return nil }}, Interval: time.Hour, Immediate: true},
		Schedule{Job: funcJob{name: "researcher", fn: func(context.Context) error { deferred.Add(1); return nil }}, Interval: time.Hour},
	)
	f.engine.Start(context.Background())

	require.Eventually(t, func() bool { return immediate.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), deferred.Load())

	st := jobStatus(t, f.engine, "sniper")
	assert.Equal(t, int64(1), st.Runs)
	assert.NotEmpty(t, st.LastRunID)
	assert.NotNil(t, st.LastRunAt)
}

func TestOverlappingRunsAreCoalesced(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	job := funcJob{name: "slow", fn: func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}}
	f := newFixture(t, Schedule{Job: job, Interval: 5 * time.Millisecond, Immediate: true})
	f.engine.Start(context.Background())

	require.Eventually(t, func() bool { return jobStatus(t, f.engine, "slow").Skipped >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, "running", jobStatus(t, f.engine, "slow").State)

	started, err := f.engine.Trigger(context.Background(), "slow")
	require.NoError(t, err)
	assert.False(t, started)

	f.engine.Stop()
	close(release)
	require.NoError(t, f.engine.Drain(context.Background()))
	assert.Equal(t, int32(1), runs.Load())
}

func TestStopDoesNotCancelRunInProgress(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	result := make(chan error, 1)
	job := funcJob{name: "researcher", fn: func(ctx context.Context) error {
		close(entered)
		<-release
		result <- ctx.Err()
		return nil
	}}
	f := newFixture(t, Schedule{Job: job, Interval: time.Hour, Immediate: true})

	ctx, cancel := context.WithCancel(context.Background())
	f.engine.Start(ctx)
	<-entered
	cancel()
	f.engine.Stop()
	close(release)

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not complete")
	}
	require.NoError(t, f.engine.Drain(context.Background()))
	assert.Equal(t, int64(1), jobStatus(t, f.engine, "researcher").Runs)
}

func TestPanickingJobIsRecovered(t *testing.T) {
	var calls atomic.Int32
	job := funcJob{name: "flaky", fn: func(context.Context) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}}
	f := newFixture(t, Schedule{Job: job, Interval: time.Hour, Immediate: true})
	f.engine.Start(context.Background())

	require.Eventually(t, func() bool {
		st := jobStatus(t, f.engine, "flaky")
		return st.Failed == 1 && st.State == "idle"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, jobStatus(t, f.engine, "flaky").LastError, "boom")
	assert.True(t, f.engine.Running())

	started, err := f.engine.Trigger(context.Background(), "flaky")
	require.NoError(t, err)
	assert.True(t, started)
	require.Eventually(t, func() bool { return jobStatus(t, f.engine, "flaky").Runs == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, jobStatus(t, f.engine, "flaky").LastError)
}

func TestOrdinaryErrorKeepsEngineRunning(t *testing.T) {
	job := funcJob{name: "sniper", fn: func(context.Context) error { return errors.New("feed down") }}
	f := newFixture(t, Schedule{Job: job, Interval: time.Hour, Immediate: true})
	f.engine.Start(context.Background())

	require.Eventually(t, func() bool { return jobStatus(t, f.engine, "sniper").Failed == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, f.engine.Running())
	select {
	case err := <-f.engine.Fatal():
		t.Fatalf("unexpected fatal error: %v", err)
	default:
	}

	entries, err := f.journal.Recent(context.Background(), 0)
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.Level == domain.LogError {
			found = true
		}
	}
	assert.True(t, found)
}

func TestStorageErrorStopsEngine(t *testing.T) {
	job := funcJob{name: "price_updater", fn: func(context.Context) error {
		return fmt.Errorf("write failed: %w", domain.ErrStorage)
	}}
	f := newFixture(t, Schedule{Job: job, Interval: time.Hour, Immediate: true})
	f.engine.Start(context.Background())

	select {
	case err := <-f.engine.Fatal():
		assert.ErrorIs(t, err, domain.ErrStorage)
	case <-time.After(2 * time.Second):
		t.Fatal("expected fatal error")
	}
	assert.False(t, f.engine.Running())
}

func TestTriggerUnknownJob(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Trigger(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrUnknownJob)
}

func TestTriggerWhileStopped(t *testing.T) {
	done := make(chan struct{})
	f := newFixture(t, Schedule{Job: funcJob{name: "sniper", fn: func(context.Context) error { close(done); return nil }}, Interval: time.Hour})

	started, err := f.engine.Trigger(context.Background(), "sniper")
	require.NoError(t, err)
	assert.True(t, started)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered job did not run")
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, Schedule{Job: funcJob{name: "noop", fn: func(context.Context) error { return nil }}, Interval: time.Minute})
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time { return base }

	st := f.engine.Status(context.Background())
	assert.False(t, st.Running)
	assert.Equal(t, "0h 0m 0s", st.Uptime)
	assert.Equal(t, domain.ModeBalanced, st.Mode)
	assert.Equal(t, 100.0, st.Stats.Balance)
	require.Len(t, st.Jobs, 1)
	assert.Equal(t, "1m0s", st.Jobs[0].Interval)

	f.engine.Start(context.Background())
	f.engine.now = func() time.Time { return base.Add(time.Hour + 2*time.Minute + 3*time.Second) }
	st = f.engine.Status(context.Background())
	assert.True(t, st.Running)
	assert.Equal(t, "1h 2m 3s", st.Uptime)
	assert.Equal(t, int64(3723), st.UptimeSeconds)

	_, err := f.engine.UpdateSetting(context.Background(), domain.SettingMode, "moonshot")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeMoonshot, f.engine.Status(context.Background()).Mode)
}

func TestUpdateSettingRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.UpdateSetting(context.Background(), domain.SettingMaxDays, "0")
	assert.ErrorIs(t, err, domain.ErrInvalidSetting)

	_, err = f.engine.UpdateSettings(context.Background(), map[string]string{
		domain.SettingMode:    "grind",
		domain.SettingMaxDays: "abc",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSetting)

	s, err := f.engine.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ModeBalanced, s.Mode)
}

func TestClosePositionAtMarkPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pos, err := f.ledger.OpenPosition(ctx, domain.OpenRequest{
		MarketID: "m1",
		Question: "Will it happen?",
		Side:     domain.SideYes,
		Price:    0.5,
		Size:     20,
		Strategy: domain.StrategySniper,
	})
	require.NoError(t, err)
	_, err = f.ledger.RefreshPosition(ctx, pos.ID, 0.6)
	require.NoError(t, err)

	pnl, err := f.engine.ClosePosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, pnl, 1e-9)
	assert.InDelta(t, 102.0, f.engine.Portfolio().Balance, 1e-9)
	assert.Empty(t, f.engine.OpenPositions())

	again, err := f.engine.ClosePosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, again, 1e-9)

	_, err = f.engine.ClosePosition(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResetRequiresStoppedEngine(t *testing.T) {
	f := newFixture(t, Schedule{Job: funcJob{name: "noop", fn: func(context.Context) error { return nil }}, Interval: time.Hour})
	ctx := context.Background()
	_, err := f.ledger.OpenPosition(ctx, domain.OpenRequest{
		MarketID: "m1", Question: "q", Side: domain.SideNo, Price: 0.4, Size: 10, Strategy: domain.StrategyResearcher,
	})
	require.NoError(t, err)

	f.engine.Start(ctx)
	assert.ErrorIs(t, f.engine.Reset(ctx), ErrRunning)
	f.engine.Stop()

	require.NoError(t, f.engine.Reset(ctx))
	assert.Empty(t, f.engine.History(0))
	assert.Equal(t, 100.0, f.engine.PortfolioStats().Balance)
}

func TestMarketsWithoutGateway(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Markets(context.Background(), 10)
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

type heldLocker struct{ calls atomic.Int32 }

func (l *heldLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	l.calls.Add(1)
	return nil, domain.ErrLockHeld
}

func TestLockedJobIsSkipped(t *testing.T) {
	ctx := context.Background()
	ledger, err := portfolio.Open(ctx, memory.NewLedgerRepo(), 100, discardLogger())
	require.NoError(t, err)
	settings := service.NewSettingsService(memory.NewSettingsStore(), discardLogger())
	locker := &heldLocker{}
	var ran atomic.Int32

	e, err := New(Config{Schedules: []Schedule{{
		Job:      funcJob{name: "sniper", fn: func(context.Context) error { ran.Add(1); return nil }},
		Interval: time.Hour,
	}}}, Deps{
		Ledger:   ledger,
		Settings: settings,
		Journal:  service.NewJournal(memory.NewEventStore(0), nil, nil, discardLogger()),
		Locker:   locker,
	}, discardLogger())
	require.NoError(t, err)

	started, err := e.Trigger(ctx, "sniper")
	require.NoError(t, err)
	assert.True(t, started)
	require.Eventually(t, func() bool { return jobStatus(t, e, "sniper").Skipped == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
	assert.Equal(t, int32(1), locker.calls.Load())
	assert.Equal(t, int64(0), jobStatus(t, e, "sniper").Runs)
}

type freeLocker struct{}

func (freeLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

func TestLockedRunSeesTradesFromOtherLedgers(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewLedgerRepo()
	local, err := portfolio.Open(ctx, repo, 100, discardLogger())
	require.NoError(t, err)
	remote, err := portfolio.Open(ctx, repo, 100, discardLogger())
	require.NoError(t, err)

	var seen atomic.Int32
	e, err := New(Config{Schedules: []Schedule{{
		Job: funcJob{name: "sniper", fn: func(context.Context) error {
			seen.Store(int32(len(local.OpenPositions())))
			return nil
		}},
		Interval: time.Hour,
	}}}, Deps{
		Ledger:   local,
		Settings: service.NewSettingsService(memory.NewSettingsStore(), discardLogger()),
		Journal:  service.NewJournal(memory.NewEventStore(0), nil, nil, discardLogger()),
		Locker:   freeLocker{},
	}, discardLogger())
	require.NoError(t, err)

	_, err = remote.OpenPosition(ctx, domain.OpenRequest{
		MarketID: "m1", Question: "q", Side: domain.SideYes, Price: 0.5, Size: 20, Strategy: domain.StrategySniper,
	})
	require.NoError(t, err)
	assert.Empty(t, local.OpenPositions())

	_, err = e.Trigger(ctx, "sniper")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return jobStatus(t, e, "sniper").Runs == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), seen.Load())
	assert.Equal(t, 90.0, local.Portfolio().Balance)
}

func TestStopDropsRunWaitingForWorker(t *testing.T) {
	release := make(chan struct{})
	var started, queuedRan atomic.Int32
	blocker := func(name string) Schedule {
		return Schedule{Job: funcJob{name: name, fn: func(context.Context) error {
			started.Add(1)
			<-release
			return nil
		}}, Interval: time.Hour, Immediate: true}
	}
	f := newFixture(t,
		blocker("a"), blocker("b"), blocker("c"),
		Schedule{Job: funcJob{name: "queued", fn: func(context.Context) error {
			queuedRan.Add(1)
			return nil
		}}, Interval: 20 * time.Millisecond},
	)
	require.Equal(t, 3, cap(f.engine.workers))

	f.engine.Start(context.Background())
	require.Eventually(t, func() bool { return started.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return jobStatus(t, f.engine, "queued").State == "running" }, 2*time.Second, 5*time.Millisecond)

	f.engine.Stop()
	close(release)

	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.engine.Drain(drainCtx))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(0), queuedRan.Load())
	st := jobStatus(t, f.engine, "queued")
	assert.Equal(t, int64(0), st.Runs)
	assert.GreaterOrEqual(t, st.Skipped, int64(1))
}
