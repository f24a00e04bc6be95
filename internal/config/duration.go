package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses raw as a non-negative Go duration. Empty means zero.
// path names the field in error messages (e.g. "catalog.timeout").
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault returns def when raw is empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// durationFields lists every duration in cfg with its config path.
func durationFields(cfg *Config) map[string]string {
	return map[string]string{
		"telegram.timeout":           cfg.Telegram.Timeout,
		"catalog.quota_period":       cfg.Catalog.QuotaPeriod,
		"catalog.timeout":            cfg.Catalog.Timeout,
		"dispatcher.send_interval":   cfg.Dispatcher.SendInterval,
		"dispatcher.error_pause":     cfg.Dispatcher.ErrorPause,
		"ledger.busy_timeout":        cfg.Ledger.BusyTimeout,
		"spotify.timeout":            cfg.Spotify.Timeout,
		"geocoder.timeout":           cfg.Geocoder.Timeout,
		"check.cooldown":             cfg.Check.Cooldown,
		"observability.read_timeout": cfg.Observability.ReadTimeout,
		"observability.idle_timeout": cfg.Observability.IdleTimeout,
	}
}
