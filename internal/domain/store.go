package domain

import (
	"context"
	"io"
)

// LedgerRepository persists the portfolio record and its positions. Every
// method is a single atomic unit: a position insert and its balance debit
// either both land or neither does. Cash moves as deltas applied by the
// store and position IDs are assigned by the store, so several ledgers may
// share one repository.
type LedgerRepository interface {
	// Load returns the stored portfolio and every position, creating the
	// portfolio with initialBalance when none exists yet.
	Load(ctx context.Context, initialBalance float64) (Portfolio, []Position, error)
	// InsertPosition debits cost from the stored balance and stores pos under
	// a new ID. It returns the stored position and the resulting portfolio,
	// or ErrInsufficientFunds, storing nothing, when the balance is short.
	InsertPosition(ctx context.Context, pos Position, cost float64) (Position, Portfolio, error)
	// UpdatePosition stores a new mark on an open position. ErrNotFound when
	// the position is missing or no longer open.
	UpdatePosition(ctx context.Context, pos Position) error
	// ClosePosition stores pos as closed, credits proceeds to the balance and
	// pos.PnL to realized P&L. ErrPositionClosed when another writer closed it
	// first; ErrNotFound when it no longer exists.
	ClosePosition(ctx context.Context, pos Position, proceeds float64) (Portfolio, error)
	// Reset deletes all positions, restarts IDs and rewrites the portfolio.
	Reset(ctx context.Context, portfolio Portfolio) error
}

// SettingsStore persists operator settings as string key/value pairs.
type SettingsStore interface {
	All(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
	// SeedDefaults writes each pair only if the key is not stored yet.
	SeedDefaults(ctx context.Context, values map[string]string) error
}

// EventStore is the append-only journal.
type EventStore interface {
	Append(ctx context.Context, entry LogEntry) (LogEntry, error)
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]LogEntry, error)
}

// BlobWriter stores an object under key in the archive bucket.
type BlobWriter interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}
