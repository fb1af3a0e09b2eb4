package notify

import (
	"context"
	"net/http"
	"strings"
)

const (
	telegramAPIBase = "https://api.telegram.org"
	// telegramMaxText is the sendMessage text limit.
	telegramMaxText = 4096
)

// markdownEscaper escapes the characters legacy Telegram Markdown treats
// as markup. Market questions routinely contain underscores and asterisks.
var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// TelegramSender posts alerts to one chat through the Bot API.
type TelegramSender struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{token: token, chatID: chatID, apiBase: telegramAPIBase, client: newHTTPClient()}
}

// Send renders the title in bold above the escaped message. Link previews
// are off since journal lines often carry article URLs.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	text := "*" + markdownEscaper.Replace(title) + "*\n" + markdownEscaper.Replace(message)
	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     truncate(text, telegramMaxText),
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}
	return postJSON(ctx, t.client, "telegram", t.apiBase+"/bot"+t.token+"/sendMessage", payload)
}

func (t *TelegramSender) Name() string { return "telegram" }
