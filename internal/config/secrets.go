package config

import (
	"maps"
	"slices"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg safe to log: secrets are replaced by
// "***" and slices and maps are cloned.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Buyer = redactVenue(cfg.Buyer)
	out.Seller = redactVenue(cfg.Seller)

	redact(&out.Database.DSN)
	redact(&out.Database.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Notify.SlackWebhookURL)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Notify.Alerts = slices.Clone(cfg.Notify.Alerts)

	redact(&out.Server.APIKey)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	return out
}

func redactVenue(v VenueConfig) VenueConfig {
	redact(&v.APIKey)
	redact(&v.APISecret)
	redact(&v.APIPassphrase)
	redact(&v.SealedSecretPassword)
	v.Paper.Balances = maps.Clone(v.Paper.Balances)
	v.Paper.Asks = slices.Clone(v.Paper.Asks)
	v.Paper.Bids = slices.Clone(v.Paper.Bids)
	return v
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
