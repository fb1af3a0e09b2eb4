package config

import (
	"net/url"
	"slices"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log. Keys and tokens
// become "***". Connection URLs keep their host so the log still shows
// where the process connects, with only the password masked.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, s := range []*string{
		&out.News.CryptoPanicKey,
		&out.Anthropic.APIKey,
		&out.Tavily.APIKey,
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Server.APIKey,
		&out.Notify.TelegramToken,
		// The webhook URL path is itself the credential.
		&out.Notify.DiscordWebhookURL,
	} {
		redact(s)
	}
	out.Postgres.DSN = redactURL(out.Postgres.DSN)
	out.Redis.Addr = redactURL(out.Redis.Addr)

	out.News.Feeds = slices.Clone(cfg.News.Feeds)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL masks the password in a URL-shaped connection string. Plain
// host:port values pass through; anything unparsable is masked entirely.
func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	if u.User == nil {
		return raw
	}
	return u.Redacted()
}
