package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// subscriberBuffer matches the in-process bus so slow dashboards behave the
// same whichever bus is wired.
const subscriberBuffer = 128

// SignalBus fans journal events out over Redis Pub/Sub. Channel names are
// not prefixed, so other processes can subscribe to "events" directly.
// Messages published while nobody listens are lost; the event store is the
// durable copy.
type SignalBus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewSignalBus returns a SignalBus sharing c's connection pool.
func NewSignalBus(c *Client, logger *slog.Logger) *SignalBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalBus{rdb: c.rdb, logger: logger.With(slog.String("component", "redis_bus"))}
}

func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe waits for Redis to confirm the subscription, then forwards
// payloads until ctx ends. A subscriber that falls subscriberBuffer
// messages behind loses the overflow rather than stalling the connection.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ps := sb.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go sb.forward(ctx, ps, channel, out)
	return out, nil
}

func (sb *SignalBus) forward(ctx context.Context, ps *redis.PubSub, channel string, out chan<- []byte) {
	defer close(out)
	defer ps.Close()

	in := ps.Channel()
	dropped := 0
	for {
		select {
		case <-ctx.Done():
			if dropped > 0 {
				sb.logger.Warn("redis bus: subscriber dropped messages",
					slog.String("channel", channel), slog.Int("dropped", dropped))
			}
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			default:
				dropped++
			}
		}
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
