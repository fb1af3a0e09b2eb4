package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// HeadlineDedup implements domain.HeadlineDedup in memory. Hashes are
// grouped into fixed window buckets; when the clock crosses into a new
// bucket the previous set is discarded. It is safe for concurrent use.
type HeadlineDedup struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	bucket time.Time
	window time.Duration
	now    func() time.Time
}

// NewHeadlineDedup creates a HeadlineDedup with the given window.
func NewHeadlineDedup(window time.Duration) *HeadlineDedup {
	if window <= 0 {
		window = time.Hour
	}
	return &HeadlineDedup{seen: make(map[string]struct{}), window: window, now: time.Now}
}

// roll resets the set when the current bucket has moved on. Callers hold mu.
func (d *HeadlineDedup) roll() {
	b := d.now().UTC().Truncate(d.window)
	if !b.Equal(d.bucket) {
		d.bucket = b
		clear(d.seen)
	}
}

// Seen reports whether hash was marked in the current window.
func (d *HeadlineDedup) Seen(_ context.Context, hash string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roll()
	_, ok := d.seen[hash]
	return ok, nil
}

// Mark records hash for the rest of the current window.
func (d *HeadlineDedup) Mark(_ context.Context, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roll()
	d.seen[hash] = struct{}{}
	return nil
}

// Len returns the number of hashes in the current window.
func (d *HeadlineDedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roll()
	return len(d.seen)
}

var _ domain.HeadlineDedup = (*HeadlineDedup)(nil)
