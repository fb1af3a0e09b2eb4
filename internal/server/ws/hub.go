// Package ws streams journal events to dashboard clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// Client-facing channel names. New clients start subscribed to events only,
// which already carries trades.
const (
	channelEvents = "events"
	channelTrades = "trades"
)

// hubChannels maps the names clients use to the bus channels relayed.
var hubChannels = map[string]string{
	channelEvents: domain.ChannelEvents,
	channelTrades: domain.ChannelTrades,
}

// StatusFunc produces the status snapshot sent to each client on connect.
type StatusFunc func(ctx context.Context) any

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed channels
	mu   sync.RWMutex
}

// Client actions.
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionStatus      = "status"
)

// clientMsg is a request from the dashboard, e.g.
//
//	{"action":"subscribe","channels":["trades"]}
//	{"action":"status"}
type clientMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels,omitempty"`
}

// envelope wraps every frame sent to clients.
type envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Hub manages a set of connected WebSocket clients and relays messages from
// the signal bus to the clients subscribed to each channel.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	status     StatusFunc
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
}

// broadcastMsg carries a message along with its source channel so the hub
// can route it only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// NewHub creates a hub relaying bus messages to WebSocket clients. status
// may be nil. allowedOrigins restricts the upgrade; empty or "*" allows all.
func NewHub(bus domain.SignalBus, status StatusFunc, allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		status:     status,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run starts the hub's main event loop and blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for name, busChannel := range hubChannels {
		go h.subscribeToChannel(ctx, name, busChannel)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", total))

		case msg := <-h.broadcast:
			out, err := json.Marshal(envelope{Type: "event", Channel: msg.channel, Payload: msg.data})
			if err != nil {
				h.logger.Warn("ws: dropping malformed payload", slog.String("channel", msg.channel))
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- out:
				default:
					// A full buffer means the client stopped reading.
					delete(h.clients, c)
					close(c.send)
					h.logger.Warn("ws: disconnecting slow client", slog.String("channel", msg.channel))
				}
			}
			h.mu.Unlock()
		}
	}
}

// subscribeToChannel subscribes to busChannel and forwards received
// messages to the broadcast loop tagged with the client-facing name.
func (h *Hub) subscribeToChannel(ctx context.Context, name, busChannel string) {
	msgCh, err := h.bus.Subscribe(ctx, busChannel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", busChannel),
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				return
			}
			if !json.Valid(data) {
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{channel: name, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{channelEvents: true},
	}

	// Queued before registration so the hub cannot have closed send yet.
	if f := c.statusFrame(r.Context()); f != nil {
		c.send <- f
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection. It handles
// subscription management requests (JSON text frames) from the client.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg clientMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case actionSubscribe, actionUnsubscribe:
			c.reply(frame("subscriptions", c.updateSubscriptions(msg)))
		case actionStatus:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			c.reply(c.statusFrame(ctx))
			cancel()
		}
	}
}

// updateSubscriptions applies msg and returns the resulting channel set,
// sorted. Unknown channels are ignored.
func (c *client) updateSubscriptions(msg clientMsg) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range msg.Channels {
		if _, ok := hubChannels[ch]; !ok {
			continue
		}
		if msg.Action == actionSubscribe {
			c.subs[ch] = true
		} else {
			delete(c.subs, ch)
		}
	}
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

// statusFrame builds the bot_status frame. It is sent on connect so
// clients can render before any event flows, and again on request.
func (c *client) statusFrame(ctx context.Context) []byte {
	if c.hub.status == nil {
		return nil
	}
	return frame("bot_status", c.hub.status(ctx))
}

// reply queues f for this client only. It is dropped when the buffer is
// full or the hub has already released the client. The hub closes send
// only while holding its lock, so the membership check makes the send safe.
func (c *client) reply(f []byte) {
	if f == nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- f:
	default:
	}
}

// frame wraps v in an envelope of the given type, or returns nil when v
// does not marshal.
func frame(typ string, v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	f, err := json.Marshal(envelope{Type: typ, Payload: payload})
	if err != nil {
		return nil
	}
	return f
}

// isSubscribed checks whether the client is subscribed to the given channel.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// writePump pumps messages from the hub to the WebSocket connection as text
// frames and sends periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
