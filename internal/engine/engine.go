// Package engine runs the trading jobs on their schedules and exposes the
// control surface used by the operator API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// ErrRunning is returned by operations that require a stopped engine.
var ErrRunning = errors.New("engine is running; stop it first")

// MinWorkers is the smallest worker pool the engine runs with, so that a
// slow job never starves the others.
const MinWorkers = 3

// Ledger is the portfolio surface the engine exposes.
type Ledger interface {
	Position(id int64) (domain.Position, error)
	ClosePosition(ctx context.Context, id int64, exitPrice float64) (float64, error)
	OpenPositions() []domain.Position
	History(limit int) []domain.Position
	Portfolio() domain.Portfolio
	Stats() domain.Stats
	EquityCurve() []domain.EquityPoint
	Reset(ctx context.Context) error
	Sync(ctx context.Context) error
}

// SettingsManager reads and writes the persisted settings.
type SettingsManager interface {
	Current(ctx context.Context) (domain.Settings, error)
	Update(ctx context.Context, key, value string) (domain.Settings, error)
	UpdateMany(ctx context.Context, values map[string]string) (domain.Settings, error)
}

// Journal records operator-visible events.
type Journal interface {
	Record(ctx context.Context, level domain.LogLevel, strategy, message string)
	Recordf(ctx context.Context, level domain.LogLevel, strategy, format string, args ...any)
	Recent(ctx context.Context, limit int) ([]domain.LogEntry, error)
}

// Config tunes the engine.
type Config struct {
	Workers   int
	Schedules []Schedule
}

// Deps are the collaborators of the engine.
type Deps struct {
	Ledger   Ledger
	Settings SettingsManager
	Journal  Journal
	Markets  domain.MarketGateway
	// Locker, when set, guards each run with a lock named after the job so
	// that engines sharing one store never run the same job at once. The
	// ledger is re-synced from the store after each acquisition.
	Locker domain.JobLocker
}

// Status is a point-in-time view of the engine.
type Status struct {
	Running       bool            `json:"running"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	Uptime        string          `json:"uptime"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Mode          domain.RiskMode `json:"mode"`
	Stats         domain.Stats    `json:"stats"`
	Jobs          []JobStatus     `json:"jobs"`
}

// JobStatus describes one scheduled job.
type JobStatus struct {
	Name         string     `json:"name"`
	Interval     string     `json:"interval"`
	State        string     `json:"state"`
	Runs         int64      `json:"runs"`
	Skipped      int64      `json:"skipped"`
	Failed       int64      `json:"failed"`
	LastRunID    string     `json:"last_run_id,omitempty"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	LastDuration string     `json:"last_duration,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Engine owns the job schedules and the lifecycle of the bot.
type Engine struct {
	slots   []*slot
	byName  map[string]*slot
	workers chan struct{}

	ledger   Ledger
	settings SettingsManager
	journal  Journal
	markets  domain.MarketGateway
	locker   domain.JobLocker
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	loops     *sync.WaitGroup

	fatal     chan error
	fatalOnce sync.Once
}

// New builds an engine. Job names must be unique.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Engine, error) {
	if deps.Ledger == nil || deps.Settings == nil || deps.Journal == nil {
		return nil, errors.New("engine: ledger, settings and journal are required")
	}
	workers := cfg.Workers
	if workers < MinWorkers {
		workers = MinWorkers
	}
	e := &Engine{
		byName:   make(map[string]*slot, len(cfg.Schedules)),
		workers:  make(chan struct{}, workers),
		ledger:   deps.Ledger,
		settings: deps.Settings,
		journal:  deps.Journal,
		markets:  deps.Markets,
		locker:   deps.Locker,
		logger:   logger.With(slog.String("component", "engine")),
		now:      time.Now,
		fatal:    make(chan error, 1),
	}
	for _, sc := range cfg.Schedules {
		if sc.Job == nil {
			return nil, errors.New("engine: schedule without job")
		}
		if sc.Interval <= 0 {
			return nil, fmt.Errorf("engine: job %s: interval must be positive", sc.Job.Name())
		}
		name := sc.Job.Name()
		if _, dup := e.byName[name]; dup {
			return nil, fmt.Errorf("engine: duplicate job %q", name)
		}
		s := &slot{schedule: sc}
		e.slots = append(e.slots, s)
		e.byName[name] = s
	}
	return e, nil
}

// Start launches the job loops. Calling Start on a running engine logs a
// warning and does nothing; the return value reports whether the engine
// was started by this call. Runs outlive ctx; use Stop to halt scheduling.
func (e *Engine) Start(ctx context.Context) bool {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.logger.Warn("engine: start requested while already running")
		return false
	}
	runCtx := context.WithoutCancel(ctx)
	loopCtx, cancel := context.WithCancel(runCtx)
	wg := &sync.WaitGroup{}
	e.running = true
	e.startedAt = e.now()
	e.cancel = cancel
	e.loops = wg
	for _, s := range e.slots {
		wg.Add(1)
		go e.loop(loopCtx, runCtx, s, wg)
	}
	e.mu.Unlock()

	e.logger.Info("engine: started", slog.Int("jobs", len(e.slots)), slog.Int("workers", cap(e.workers)))
	e.journal.Record(runCtx, domain.LogInfo, "", "Engine started")
	return true
}

// Stop halts scheduling. Runs already in progress finish on their own.
// It reports whether the engine was running.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		e.logger.Warn("engine: stop requested while not running")
		return false
	}
	e.cancel()
	wg := e.loops
	e.running = false
	e.cancel = nil
	e.loops = nil
	e.mu.Unlock()

	wg.Wait()
	e.logger.Info("engine: stopped")
	e.journal.Record(context.Background(), domain.LogInfo, "", "Engine stopped")
	return true
}

// Running reports whether the loops are active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Drain waits until no job is running or ctx is done.
func (e *Engine) Drain(ctx context.Context) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		if e.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("engine: drain: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *Engine) idle() bool {
	for _, s := range e.slots {
		if s.state.Load() == stateRunning {
			return false
		}
	}
	return true
}

// Fatal delivers the first unrecoverable error, after which the engine has
// already stopped itself.
func (e *Engine) Fatal() <-chan error { return e.fatal }

func (e *Engine) fail(err error) {
	e.fatalOnce.Do(func() {
		e.logger.Error("engine: storage failure, stopping", slog.String("error", err.Error()))
		e.journal.Recordf(context.Background(), domain.LogError, "", "Storage failure, engine stopped: %v", err)
		e.Stop()
		e.fatal <- err
	})
}

// Trigger runs the named job now, outside its schedule. A run already in
// progress coalesces the request and Trigger returns false.
func (e *Engine) Trigger(ctx context.Context, name string) (bool, error) {
	s, ok := e.byName[name]
	if !ok {
		return false, fmt.Errorf("engine: trigger %q: %w", name, domain.ErrUnknownJob)
	}
	runCtx := context.WithoutCancel(ctx)
	started := e.dispatch(runCtx, runCtx, s)
	if started {
		e.logger.Info("engine: job triggered", slog.String("job", name))
	}
	return started, nil
}

// Status reports the running state, uptime, mode, portfolio statistics and
// per-job counters.
func (e *Engine) Status(ctx context.Context) Status {
	e.mu.Lock()
	running, startedAt := e.running, e.startedAt
	e.mu.Unlock()

	st := Status{
		Running: running,
		Stats:   e.ledger.Stats(),
		Jobs:    make([]JobStatus, 0, len(e.slots)),
	}
	var up time.Duration
	if running {
		at := startedAt
		st.StartedAt = &at
		up = e.now().Sub(startedAt)
	}
	st.Uptime = FormatUptime(up)
	st.UptimeSeconds = int64(up / time.Second)

	if settings, err := e.settings.Current(ctx); err == nil {
		st.Mode = settings.Mode
	} else {
		e.logger.Warn("engine: status: settings unavailable", slog.String("error", err.Error()))
		st.Mode = domain.DefaultSettings().Mode
	}
	for _, s := range e.slots {
		st.Jobs = append(st.Jobs, s.status())
	}
	return st
}

// FormatUptime renders d as "Xh Ym Zs".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%dh %dm %ds", secs/3600, (secs%3600)/60, secs%60)
}

// OpenPositions lists open positions, newest first.
func (e *Engine) OpenPositions() []domain.Position { return e.ledger.OpenPositions() }

// History lists up to limit positions of any status, newest first.
func (e *Engine) History(limit int) []domain.Position { return e.ledger.History(limit) }

// PortfolioStats returns the aggregate statistics.
func (e *Engine) PortfolioStats() domain.Stats { return e.ledger.Stats() }

// Portfolio returns the cash snapshot.
func (e *Engine) Portfolio() domain.Portfolio { return e.ledger.Portfolio() }

// EquityCurve returns the realised equity series ending at the current
// marked value.
func (e *Engine) EquityCurve() []domain.EquityPoint { return e.ledger.EquityCurve() }

// Settings returns the settings in force.
func (e *Engine) Settings(ctx context.Context) (domain.Settings, error) {
	return e.settings.Current(ctx)
}

// UpdateSetting validates and persists one setting. Jobs pick it up on
// their next run.
func (e *Engine) UpdateSetting(ctx context.Context, key, value string) (domain.Settings, error) {
	s, err := e.settings.Update(ctx, key, value)
	if err != nil {
		return domain.Settings{}, err
	}
	e.journal.Recordf(ctx, domain.LogInfo, "", "Setting %s = %s", key, value)
	return s, nil
}

// UpdateSettings applies several settings atomically with respect to
// validation: one invalid value rejects the whole batch.
func (e *Engine) UpdateSettings(ctx context.Context, values map[string]string) (domain.Settings, error) {
	s, err := e.settings.UpdateMany(ctx, values)
	if err != nil {
		return domain.Settings{}, err
	}
	e.journal.Recordf(ctx, domain.LogInfo, "", "Settings updated: %d value(s)", len(values))
	return s, nil
}

// Logs returns the most recent journal entries, newest first.
func (e *Engine) Logs(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	return e.journal.Recent(ctx, limit)
}

// Markets lists active markets from the market gateway.
func (e *Engine) Markets(ctx context.Context, limit int) ([]domain.Market, error) {
	if e.markets == nil {
		return nil, fmt.Errorf("engine: markets: %w", domain.ErrGatewayUnavailable)
	}
	return e.markets.ListActiveMarkets(ctx, limit)
}

// ClosePosition closes an open position at its last marked price.
func (e *Engine) ClosePosition(ctx context.Context, id int64) (float64, error) {
	pos, err := e.ledger.Position(id)
	if err != nil {
		return 0, err
	}
	if !pos.IsOpen() {
		return pos.PnL, nil
	}
	price := pos.MarkPrice()
	pnl, err := e.ledger.ClosePosition(ctx, id, price)
	if err != nil {
		if errors.Is(err, domain.ErrStorage) {
			e.fail(err)
		}
		return 0, err
	}
	e.journal.Recordf(ctx, domain.LogTrade, string(pos.Strategy),
		"CLOSE #%d %s | manual at %.3f | P&L $%.2f", id, truncateQuestion(pos.Question), price, pnl)
	return pnl, nil
}

// Reset restores the initial balance and discards all positions. The engine
// must be stopped first.
func (e *Engine) Reset(ctx context.Context) error {
	if e.Running() {
		return fmt.Errorf("engine: reset: %w", ErrRunning)
	}
	if err := e.ledger.Reset(ctx); err != nil {
		return err
	}
	e.journal.Record(ctx, domain.LogWarn, "", "Portfolio reset")
	return nil
}

func truncateQuestion(q string) string {
	r := []rune(q)
	if len(r) <= 60 {
		return q
	}
	return string(r[:60]) + "..."
}
