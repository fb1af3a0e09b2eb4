package local

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// subscriberBuffer is the per-subscriber queue length. Publishes to a full
// subscriber are dropped for that subscriber only.
const subscriberBuffer = 128

// Bus implements domain.SignalBus in process. Channel names match exactly;
// patterns are not supported.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[chan []byte]struct{}
	logger *slog.Logger
}

// NewBus returns an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string]map[chan []byte]struct{}),
		logger: logger.With(slog.String("component", "local_bus")),
	}
}

// Publish delivers payload to every current subscriber of channel without
// blocking.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case ch <- msg:
		default:
			b.logger.Warn("local bus: subscriber full, dropping message", slog.String("channel", channel))
		}
	}
	return nil
}

// Subscribe registers a subscriber on channel. The returned channel is
// closed once ctx is done.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Subscribers returns the number of live subscribers on channel.
func (b *Bus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

var _ domain.SignalBus = (*Bus)(nil)
