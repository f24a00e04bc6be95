package app

import (
	"fmt"
	"strings"
	"time"

	"gigwatch/internal/catalog"
	"gigwatch/internal/config"
	"gigwatch/internal/dispatcher"
	"gigwatch/internal/geo"
	"gigwatch/internal/observability"
	"gigwatch/internal/spotify"
	"gigwatch/internal/storage"
	"gigwatch/internal/trigger"
	telegram "gigwatch/internal/transport/telegram/adapter"
	"gigwatch/pkg/logx"

	"github.com/robfig/cron/v3"
)

const (
	DefaultLedgerFile      = "./data/notified.json"
	DefaultLedgerDB        = "./data/notified.db"
	DefaultSubscribersFile = "./data/subscribers.json"
)

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:   cfg.Telegram.Token,
		URL:     strings.TrimSpace(cfg.Telegram.APIURL),
		Timeout: timeout,
	}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     cfg.Telegram.LogChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	lc := cfg.Ledger
	driver := strings.ToLower(strings.TrimSpace(lc.Driver))
	path := strings.TrimSpace(lc.Path)

	switch driver {
	case "", "file", "json":
		if path == "" {
			path = DefaultLedgerFile
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			path = DefaultLedgerDB
		}
		busy, err := config.ParseDurationOrDefault("ledger.busy_timeout", lc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "redis":
		if strings.TrimSpace(lc.RedisAddr) == "" {
			return storage.Config{}, fmt.Errorf("ledger.redis_addr is required when ledger.driver=redis")
		}
		return storage.Config{
			Driver:        "redis",
			RedisAddr:     strings.TrimSpace(lc.RedisAddr),
			RedisPassword: lc.RedisPassword,
			RedisDB:       lc.RedisDB,
			KeyPrefix:     lc.KeyPrefix,
		}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown ledger.driver: %s", lc.Driver)
	}
}

func mapCatalogConfig(cfg *config.Config) (catalog.Config, error) {
	c := cfg.Catalog
	period, err := config.ParseDurationField("catalog.quota_period", c.QuotaPeriod)
	if err != nil {
		return catalog.Config{}, err
	}
	timeout, err := config.ParseDurationField("catalog.timeout", c.Timeout)
	if err != nil {
		return catalog.Config{}, err
	}
	return catalog.Config{
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		DailyQuota:  c.DailyQuota,
		PerSecond:   c.PerSecond,
		QuotaPeriod: period,
		Timeout:     timeout,
	}, nil
}

func mapDispatcherConfig(cfg *config.Config) (dispatcher.Config, error) {
	d := cfg.Dispatcher
	out := dispatcher.Config{GlobalPerSec: d.GlobalPerSec}
	var err error
	if out.SendInterval, err = config.ParseDurationField("dispatcher.send_interval", d.SendInterval); err != nil {
		return dispatcher.Config{}, err
	}
	if out.ErrorPause, err = config.ParseDurationField("dispatcher.error_pause", d.ErrorPause); err != nil {
		return dispatcher.Config{}, err
	}
	return out, nil
}

func mapSpotifyConfig(cfg *config.Config) (spotify.Config, error) {
	s := cfg.Spotify
	timeout, err := config.ParseDurationOrDefault("spotify.timeout", s.Timeout, 15*time.Second)
	if err != nil {
		return spotify.Config{}, err
	}
	return spotify.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		APIBase:      s.APIBase,
		AccountsBase: s.AccountsBase,
		Timeout:      timeout,
	}, nil
}

// mapGeocoderConfig reports false when the geocoder is disabled.
func mapGeocoderConfig(cfg *config.Config) (geo.Config, bool, error) {
	g := cfg.Geocoder
	if !g.IsEnabled() {
		return geo.Config{}, false, nil
	}
	timeout, err := config.ParseDurationField("geocoder.timeout", g.Timeout)
	if err != nil {
		return geo.Config{}, false, err
	}
	return geo.Config{
		BaseURL:    g.BaseURL,
		UserAgent:  g.UserAgent,
		RatePerSec: g.RatePerSec,
		Timeout:    timeout,
	}, true, nil
}

func mapObservabilityConfig(cfg *config.Config) (observability.Config, error) {
	o := cfg.Observability
	addr := strings.TrimSpace(o.Addr)
	if addr == "" {
		addr = observability.DefaultAddr
	}
	read, err := config.ParseDurationOrDefault("observability.read_timeout", o.ReadTimeout, 10*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("observability.idle_timeout", o.IdleTimeout, 60*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	return observability.Config{
		Enabled:       o.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(o.Token),
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   read,
		IdleTimeout:   idle,
	}, nil
}

type triggerSettings struct {
	schedule   cron.Schedule
	spec       trigger.ParsedSpec
	cooldown   time.Duration
	runOnStart bool
}

func mapTriggerConfig(cfg *config.Config) (triggerSettings, error) {
	spec, err := trigger.ParseSchedule(cfg.Check.Schedule)
	if err != nil {
		return triggerSettings{}, fmt.Errorf("check.schedule: %w", err)
	}
	sched, err := spec.Schedule()
	if err != nil {
		return triggerSettings{}, fmt.Errorf("check.schedule: %w", err)
	}
	cooldown, err := config.ParseDurationOrDefault("check.cooldown", cfg.Check.Cooldown, trigger.DefaultCooldown)
	if err != nil {
		return triggerSettings{}, err
	}
	return triggerSettings{
		schedule:   sched,
		spec:       spec,
		cooldown:   cooldown,
		runOnStart: cfg.Check.ShouldRunOnStart(),
	}, nil
}

func subscribersPath(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Subscribers.Path); p != "" {
		return p
	}
	return DefaultSubscribersFile
}
