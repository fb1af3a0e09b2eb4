package postgres

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// pruneEvery is how many appends pass between retention sweeps.
const pruneEvery = 100

// EventStore implements domain.EventStore on the event_log table. When keep
// is positive the table is trimmed to the newest keep rows every pruneEvery
// appends.
type EventStore struct {
	pool    *pgxpool.Pool
	keep    int
	appends atomic.Int64
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool, keep int) *EventStore {
	return &EventStore{pool: pool, keep: keep}
}

// Append inserts the entry and returns it with its assigned ID. A zero
// timestamp is filled in by the database.
func (s *EventStore) Append(ctx context.Context, e domain.LogEntry) (domain.LogEntry, error) {
	const query = `
		INSERT INTO event_log (timestamp, level, message, strategy)
		VALUES (COALESCE($1, NOW()), $2, $3, $4)
		RETURNING id, timestamp`
	var ts any
	if !e.Timestamp.IsZero() {
		ts = e.Timestamp
	}
	if err := s.pool.QueryRow(ctx, query, ts, string(e.Level), e.Message, e.Strategy).Scan(&e.ID, &e.Timestamp); err != nil {
		return domain.LogEntry{}, fmt.Errorf("postgres: append event: %w", err)
	}
	if s.keep > 0 && s.appends.Add(1)%pruneEvery == 0 {
		if _, err := s.Prune(ctx, s.keep); err != nil {
			return e, err
		}
	}
	return e, nil
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (s *EventStore) Recent(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	query := `SELECT id, timestamp, level, message, strategy FROM event_log ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent events: %w", err)
	}
	defer rows.Close()

	var out []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		var level string
		if err := rows.Scan(&e.ID, &e.Timestamp, &level, &e.Message, &e.Strategy); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.Level = domain.LogLevel(level)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep entries.
func (s *EventStore) Prune(ctx context.Context, keep int) (int64, error) {
	const query = `
		DELETE FROM event_log
		WHERE id <= (SELECT id FROM event_log ORDER BY id DESC OFFSET $1 LIMIT 1)`
	tag, err := s.pool.Exec(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune events: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.EventStore = (*EventStore)(nil)
