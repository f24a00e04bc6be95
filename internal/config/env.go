package config

import "strings"

// Environment variables that override secrets from the file.
const (
	EnvTelegramToken       = "GIGWATCH_TELEGRAM_TOKEN"
	EnvTicketmasterAPIKey  = "GIGWATCH_TICKETMASTER_API_KEY"
	EnvSpotifyClientID     = "GIGWATCH_SPOTIFY_CLIENT_ID"
	EnvSpotifyClientSecret = "GIGWATCH_SPOTIFY_CLIENT_SECRET"
	EnvRedisPassword       = "GIGWATCH_REDIS_PASSWORD"
	EnvObservabilityToken  = "GIGWATCH_OBSERVABILITY_TOKEN"
)

// ApplyEnv overwrites secret fields with non-empty values from lookup (usually os.LookupEnv).
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil || lookup == nil {
		return
	}
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.Catalog.APIKey, EnvTicketmasterAPIKey)
	set(&cfg.Spotify.ClientID, EnvSpotifyClientID)
	set(&cfg.Spotify.ClientSecret, EnvSpotifyClientSecret)
	set(&cfg.Ledger.RedisPassword, EnvRedisPassword)
	set(&cfg.Observability.Token, EnvObservabilityToken)
}
