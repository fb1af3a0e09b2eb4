package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// Job is one periodic unit of work. Implementations must bound their own
// external calls with timeouts; Stop does not cancel a run in flight.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Schedule binds a job to its interval.
type Schedule struct {
	Job      Job
	Interval time.Duration
	// Immediate fires the job once as soon as the engine starts.
	Immediate bool
	// Timeout bounds a single run. Zero means the job relies on the
	// timeouts of its own gateways.
	Timeout time.Duration
}

const (
	stateIdle int32 = iota
	stateRunning
)

// defaultLockTTL bounds a job lock when the schedule has no timeout.
const defaultLockTTL = 10 * time.Minute

// slot tracks the run state of one scheduled job.
type slot struct {
	schedule Schedule
	state    atomic.Int32

	runs    atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64

	mu           sync.Mutex
	lastRunID    string
	lastRunAt    time.Time
	lastDuration time.Duration
	lastErr      string
}

func (s *slot) name() string { return s.schedule.Job.Name() }

func (s *slot) record(runID string, started time.Time, took time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRunID = runID
	s.lastRunAt = started
	s.lastDuration = took
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
	}
}

func (s *slot) status() JobStatus {
	st := JobStatus{
		Name:     s.name(),
		Interval: s.schedule.Interval.String(),
		State:    "idle",
		Runs:     s.runs.Load(),
		Skipped:  s.skipped.Load(),
		Failed:   s.failed.Load(),
	}
	if s.state.Load() == stateRunning {
		st.State = "running"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st.LastRunID = s.lastRunID
	if !s.lastRunAt.IsZero() {
		at := s.lastRunAt
		st.LastRunAt = &at
		st.LastDuration = s.lastDuration.Round(time.Millisecond).String()
	}
	st.LastError = s.lastErr
	return st
}

// loop ticks until ctx is cancelled. Runs receive runCtx, which outlives
// the loop so that a stop never interrupts a run in progress.
func (e *Engine) loop(ctx, runCtx context.Context, s *slot, wg *sync.WaitGroup) {
	defer wg.Done()
	defer e.recoverAndLog("loop " + s.name())

	ticker := time.NewTicker(s.schedule.Interval)
	defer ticker.Stop()

	if s.schedule.Immediate {
		e.dispatch(ctx, runCtx, s)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.dispatch(ctx, runCtx, s)
		}
	}
}

// dispatch starts a run of s unless one is already in progress, in which
// case the tick is coalesced. It reports whether a run was started. A run
// still waiting for a worker when queueCtx ends is dropped; once it holds a
// worker it runs to completion under runCtx.
func (e *Engine) dispatch(queueCtx, runCtx context.Context, s *slot) bool {
	if !s.state.CompareAndSwap(stateIdle, stateRunning) {
		s.skipped.Add(1)
		e.logger.Debug("engine: run coalesced", slog.String("job", s.name()))
		return false
	}
	go func() {
		defer s.state.Store(stateIdle)
		select {
		case e.workers <- struct{}{}:
		case <-queueCtx.Done():
			e.dropQueued(s)
			return
		}
		defer func() { <-e.workers }()
		if queueCtx.Err() != nil {
			e.dropQueued(s)
			return
		}
		e.execute(runCtx, s)
	}()
	return true
}

func (e *Engine) dropQueued(s *slot) {
	s.skipped.Add(1)
	e.logger.Debug("engine: queued run dropped on stop", slog.String("job", s.name()))
}

func (e *Engine) execute(ctx context.Context, s *slot) {
	runID := uuid.NewString()
	logger := e.logger.With(slog.String("job", s.name()), slog.String("run_id", runID))
	started := e.now()

	if e.locker != nil {
		ttl := s.schedule.Timeout
		if ttl <= 0 {
			ttl = defaultLockTTL
		}
		release, err := e.locker.Acquire(ctx, "job:"+s.name(), ttl)
		if errors.Is(err, domain.ErrLockHeld) {
			s.skipped.Add(1)
			logger.Debug("engine: job locked elsewhere, skipping")
			return
		}
		if err != nil {
			s.failed.Add(1)
			s.record(runID, started, 0, err)
			logger.Warn("engine: job lock unavailable, skipping", slog.String("error", err.Error()))
			return
		}
		defer release()

		if err := e.ledger.Sync(ctx); err != nil {
			s.failed.Add(1)
			s.record(runID, started, 0, err)
			logger.Error("engine: ledger sync failed", slog.String("error", err.Error()))
			if errors.Is(err, domain.ErrStorage) {
				e.fail(err)
			}
			return
		}
	}

	if s.schedule.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.schedule.Timeout)
		defer cancel()
	}

	err := e.runGuarded(ctx, s.schedule.Job, logger)
	took := e.now().Sub(started)
	s.record(runID, started, took, err)

	// Counters move last so a reader that observes them also observes the
	// recorded outcome and its journal entry.
	if err == nil {
		logger.Debug("engine: run finished", slog.Duration("duration", took))
		s.runs.Add(1)
		return
	}
	logger.Error("engine: run failed", slog.String("error", err.Error()), slog.Duration("duration", took))
	e.journal.Recordf(context.WithoutCancel(ctx), domain.LogError, "", "Job %s failed: %v", s.name(), err)
	s.runs.Add(1)
	s.failed.Add(1)
	if errors.Is(err, domain.ErrStorage) {
		e.fail(err)
	}
}

// runGuarded converts a panic in the job into an error.
func (e *Engine) runGuarded(ctx context.Context, job Job, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("engine: job panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("engine: %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}

func (e *Engine) recoverAndLog(where string) {
	if r := recover(); r != nil {
		e.logger.Error("engine: recovered panic", slog.String("where", where), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
	}
}
