package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/pollypilot/internal/domain"
	"github.com/alanyoungcy/pollypilot/internal/notify"
)

// alertTimeout bounds a single alert delivery.
const alertTimeout = 15 * time.Second

// Alerter delivers operator alerts. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Journal records engine events. Each entry is mirrored to the process
// logger, appended to the event store, published on the signal bus and, for
// trades and errors, forwarded to the alerter. Only the store append is
// synchronous; failures downstream of it are logged and swallowed.
type Journal struct {
	store  domain.EventStore
	bus    domain.SignalBus
	alerts Alerter
	logger *slog.Logger
	now    func() time.Time
}

// NewJournal creates a Journal. bus and alerts may be nil.
func NewJournal(store domain.EventStore, bus domain.SignalBus, alerts Alerter, logger *slog.Logger) *Journal {
	return &Journal{
		store:  store,
		bus:    bus,
		alerts: alerts,
		logger: logger.With(slog.String("component", "journal")),
		now:    time.Now,
	}
}

// Record appends an entry.
func (j *Journal) Record(ctx context.Context, level domain.LogLevel, strategy, message string) {
	entry := domain.LogEntry{
		Timestamp: j.now().UTC(),
		Level:     level,
		Message:   message,
		Strategy:  strategy,
	}

	j.logger.Log(ctx, slogLevel(level), message,
		slog.String("level_tag", string(level)),
		slog.String("strategy", strategy),
	)

	stored, err := j.store.Append(ctx, entry)
	if err != nil {
		j.logger.WarnContext(ctx, "journal: append failed", slog.String("error", err.Error()))
	} else {
		entry = stored
	}

	j.publish(ctx, entry)
	j.alert(ctx, entry)
}

// Recordf is Record with a format string.
func (j *Journal) Recordf(ctx context.Context, level domain.LogLevel, strategy, format string, args ...any) {
	j.Record(ctx, level, strategy, fmt.Sprintf(format, args...))
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	entries, err := j.store.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return entries, nil
}

func (j *Journal) publish(ctx context.Context, entry domain.LogEntry) {
	if j.bus == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	channels := []string{domain.ChannelEvents}
	if entry.Level == domain.LogTrade {
		channels = append(channels, domain.ChannelTrades)
	}
	for _, ch := range channels {
		if err := j.bus.Publish(ctx, ch, payload); err != nil {
			j.logger.WarnContext(ctx, "journal: publish failed",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (j *Journal) alert(ctx context.Context, entry domain.LogEntry) {
	if j.alerts == nil {
		return
	}
	var event string
	switch entry.Level {
	case domain.LogTrade:
		event = notify.EventTrade
	case domain.LogError:
		event = notify.EventError
	default:
		return
	}

	title := "PollyPilot " + string(entry.Level)
	if entry.Strategy != "" {
		title += " [" + entry.Strategy + "]"
	}
	go func() {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
		defer cancel()
		if err := j.alerts.Notify(actx, event, title, entry.Message); err != nil {
			j.logger.WarnContext(actx, "journal: alert failed", slog.String("error", err.Error()))
		}
	}()
}

func slogLevel(level domain.LogLevel) slog.Level {
	switch level {
	case domain.LogWarn:
		return slog.LevelWarn
	case domain.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
