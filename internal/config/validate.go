package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gigwatch/internal/trigger"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is required (or set %s)", EnvTelegramToken))
	}
	if strings.TrimSpace(cfg.Catalog.APIKey) == "" {
		errs = append(errs, fmt.Errorf("catalog.api_key is required (or set %s)", EnvTicketmasterAPIKey))
	}
	if cfg.Catalog.DailyQuota < 0 || cfg.Catalog.PerSecond < 0 {
		errs = append(errs, errors.New("catalog.daily_quota and catalog.per_second must be >= 0"))
	}
	if cfg.Dispatcher.GlobalPerSec < 0 {
		errs = append(errs, errors.New("dispatcher.global_per_sec must be >= 0"))
	}
	if cfg.Logging.Telegram.Enabled && cfg.Telegram.LogChatID == 0 {
		errs = append(errs, errors.New("logging.telegram.enabled requires telegram.log_chat_id"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Ledger.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
	case "redis":
		if strings.TrimSpace(cfg.Ledger.RedisAddr) == "" {
			errs = append(errs, errors.New("ledger.redis_addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.driver: unknown driver %q", cfg.Ledger.Driver))
	}

	fields := durationFields(cfg)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := ParseDurationField(k, fields[k]); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := trigger.ParseSchedule(cfg.Check.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("check.schedule: %w", err))
	}
	return errors.Join(errs...)
}
