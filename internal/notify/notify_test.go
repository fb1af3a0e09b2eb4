package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name  string
	err   error
	calls []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.calls = append(r.calls, title+"|"+message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{" Trade ", EventError}, nil)
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, EventTrade, "t", "opened"))
	require.NoError(t, n.Notify(ctx, "info", "t", "ignored"))
	require.NoError(t, n.NotifyAll(ctx, "t", "forced"))

	assert.Equal(t, []string{"t|opened", "t|forced"}, s.calls)
}

func TestNotifierAllowsAllWhenUnfiltered(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, nil)
	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, s.calls, 1)
}

func TestNotifierContinuesPastFailures(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, nil)

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, good.calls, 1)
}

func TestNewSkipsUnconfiguredChannels(t *testing.T) {
	assert.False(t, New(Config{TelegramToken: "only-token"}, nil).Enabled())
	n := New(Config{TelegramToken: "t", TelegramChatID: "c", DiscordWebhookURL: "https://d"}, nil)
	assert.Equal(t, []string{"telegram", "discord"}, n.Senders())
}

func TestTelegramSender(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "PollyPilot TRADE", "BUY YES"))
	assert.Equal(t, "42", payload["chat_id"])
	assert.Equal(t, "*PollyPilot TRADE*\nBUY YES", payload["text"])
}

func TestTelegramEscapesMarkdown(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "PollyPilot TRADE [sniper]", "Will *BTC* hit 100_000?"))
	assert.Equal(t, "*PollyPilot TRADE \\[sniper]*\nWill \\*BTC\\* hit 100\\_000?", payload["text"])
}

func TestDiscordSenderEmbedsAndReportsStatus(t *testing.T) {
	var payload discordMessage
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "PollyPilot ERROR", strings.Repeat("x", 5000)))
	require.Len(t, payload.Embeds, 1)
	embed := payload.Embeds[0]
	assert.Equal(t, "PollyPilot ERROR", embed.Title)
	assert.Equal(t, colorError, embed.Color)
	assert.Len(t, []rune(embed.Description), discordMaxDescription)
	assert.Empty(t, payload.AllowedMentions["parse"])

	require.NoError(t, s.Send(context.Background(), "PollyPilot TRADE", "BUY YES"))
	assert.Equal(t, colorTrade, payload.Embeds[0].Color)

	status = http.StatusBadRequest
	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: status 400")
}
