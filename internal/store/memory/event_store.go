package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// defaultEventCapacity bounds the in-memory journal.
const defaultEventCapacity = 1000

// EventStore is a bounded ring of journal entries.
type EventStore struct {
	mu      sync.RWMutex
	entries []domain.LogEntry
	limit   int
	nextID  int64
}

// NewEventStore creates an EventStore keeping at most capacity entries. A
// non-positive capacity selects the default.
func NewEventStore(capacity int) *EventStore {
	if capacity <= 0 {
		capacity = defaultEventCapacity
	}
	return &EventStore{limit: capacity, nextID: 1}
}

// Append assigns an ID and stores the entry, evicting the oldest when full.
func (s *EventStore) Append(_ context.Context, e domain.LogEntry) (domain.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.nextID
	s.nextID++
	s.entries = append(s.entries, e)
	if len(s.entries) > s.limit {
		s.entries = s.entries[len(s.entries)-s.limit:]
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (s *EventStore) Recent(_ context.Context, limit int) ([]domain.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.LogEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

var _ domain.EventStore = (*EventStore)(nil)
