package notify

import (
	"context"
	"net/http"
	"strings"
)

const (
	// Discord embed limits.
	discordMaxTitle       = 256
	discordMaxDescription = 4096

	colorError = 0xE74C3C
	colorTrade = 0x2ECC71
	colorInfo  = 0x3498DB
)

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordMessage struct {
	Embeds          []discordEmbed      `json:"embeds"`
	AllowedMentions map[string][]string `json:"allowed_mentions"`
}

// DiscordSender posts alerts to a channel webhook as a single embed,
// coloured by alert kind. Mentions are disabled so journal text cannot ping
// anyone.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	msg := discordMessage{
		Embeds: []discordEmbed{{
			Title:       truncate(title, discordMaxTitle),
			Description: truncate(message, discordMaxDescription),
			Color:       embedColor(title),
		}},
		AllowedMentions: map[string][]string{"parse": {}},
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, msg)
}

func (d *DiscordSender) Name() string { return "discord" }

// embedColor picks the sidebar colour from the level in the alert title.
func embedColor(title string) int {
	switch {
	case strings.Contains(title, "ERROR"):
		return colorError
	case strings.Contains(title, "TRADE"):
		return colorTrade
	default:
		return colorInfo
	}
}
