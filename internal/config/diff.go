package config

import (
	"sort"
	"strings"

	"gigwatch/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and log fields describing the
// new values. Secrets (tokens, keys, passwords) are reported only as *_set booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	o, n := *oldCfg, *newCfg

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	if o.Telegram != n.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", set(n.Telegram.Token)),
			logx.Bool("telegram.log_chat_set", n.Telegram.LogChatID != 0),
		)
	}

	if o.Logging != n.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", n.Logging.Level),
			logx.Bool("logging.console", n.Logging.Console),
			logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", n.Logging.Telegram.Enabled),
		)
	}

	if o.Catalog != n.Catalog {
		changed = append(changed, "catalog")
		attrs = append(attrs,
			logx.Int("catalog.daily_quota", n.Catalog.DailyQuota),
			logx.Int("catalog.per_second", n.Catalog.PerSecond),
			logx.Bool("catalog.api_key_set", set(n.Catalog.APIKey)),
		)
	}

	if o.Dispatcher != n.Dispatcher {
		changed = append(changed, "dispatcher")
		attrs = append(attrs,
			logx.Int("dispatcher.global_per_sec", n.Dispatcher.GlobalPerSec),
			logx.String("dispatcher.send_interval", n.Dispatcher.SendInterval),
		)
	}

	if o.Ledger != n.Ledger {
		changed = append(changed, "ledger")
		attrs = append(attrs,
			logx.String("ledger.driver", n.Ledger.Driver),
			logx.String("ledger.path", n.Ledger.Path),
			logx.Bool("ledger.redis_password_set", set(n.Ledger.RedisPassword)),
		)
	}

	if o.Subscribers != n.Subscribers {
		changed = append(changed, "subscribers")
		attrs = append(attrs, logx.String("subscribers.path", n.Subscribers.Path))
	}

	if o.Spotify != n.Spotify {
		changed = append(changed, "spotify")
		attrs = append(attrs, logx.Bool("spotify.client_secret_set", set(n.Spotify.ClientSecret)))
	}

	if o.Geocoder.IsEnabled() != n.Geocoder.IsEnabled() || o.Geocoder.BaseURL != n.Geocoder.BaseURL ||
		o.Geocoder.UserAgent != n.Geocoder.UserAgent || o.Geocoder.RatePerSec != n.Geocoder.RatePerSec ||
		o.Geocoder.Timeout != n.Geocoder.Timeout {
		changed = append(changed, "geocoder")
		attrs = append(attrs, logx.Bool("geocoder.enabled", n.Geocoder.IsEnabled()))
	}

	if o.Check.Schedule != n.Check.Schedule || o.Check.Cooldown != n.Check.Cooldown ||
		o.Check.ShouldRunOnStart() != n.Check.ShouldRunOnStart() {
		changed = append(changed, "check")
		attrs = append(attrs,
			logx.String("check.schedule", n.Check.Schedule),
			logx.String("check.cooldown", n.Check.Cooldown),
		)
	}

	if o.Observability != n.Observability {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", n.Observability.Enabled),
			logx.String("observability.addr", n.Observability.Addr),
			logx.Bool("observability.token_set", set(n.Observability.Token)),
			logx.Bool("observability.pprof", n.Observability.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a restart.
// Logging and observability are applied live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if s != "logging" && s != "observability" {
			out = append(out, s)
		}
	}
	return out
}
