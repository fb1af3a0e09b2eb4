package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

func TestMarketCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMarketCache()
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	markets := []domain.Market{{ID: "m1", YesPrice: 0.3, NoPrice: 0.7}}
	require.NoError(t, c.Set(ctx, "active", markets, time.Minute))

	got, ok, err := c.Get(ctx, "active")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, markets, got)

	got[0].ID = "mutated"
	again, _, _ := c.Get(ctx, "active")
	assert.Equal(t, "m1", again[0].ID, "callers receive a copy")

	now = now.Add(time.Minute)
	_, ok, err = c.Get(ctx, "active")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHeadlineDedupBuckets(t *testing.T) {
	ctx := context.Background()
	d := NewHeadlineDedup(time.Hour)
	now := time.Date(2025, 3, 4, 9, 59, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	seen, err := d.Seen(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, "h1"))
	seen, _ = d.Seen(ctx, "h1")
	assert.True(t, seen)
	assert.Equal(t, 1, d.Len())

	// crossing the hour boundary empties the window even though only a
	// minute passed since the mark
	now = now.Add(time.Minute)
	seen, _ = d.Seen(ctx, "h1")
	assert.False(t, seen)
	assert.Equal(t, 0, d.Len())
}

func TestBusFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBus(nil)

	a, err := b.Subscribe(ctx, domain.ChannelEvents)
	require.NoError(t, err)
	c, err := b.Subscribe(ctx, domain.ChannelEvents)
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, domain.ChannelTrades)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, domain.ChannelEvents, []byte("hello")))
	assert.Equal(t, "hello", string(<-a))
	assert.Equal(t, "hello", string(<-c))
	assert.Len(t, other, 0)

	cancel()
	require.Eventually(t, func() bool { return b.Subscribers(domain.ChannelEvents) == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-a
	assert.False(t, open)
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewBus(nil)
	ch, err := b.Subscribe(ctx, "x")
	require.NoError(t, err)

	for range subscriberBuffer + 10 {
		require.NoError(t, b.Publish(ctx, "x", []byte("m")))
	}
	assert.Len(t, ch, subscriberBuffer)
}
