package storage

import (
	"context"
	"errors"
	"strings"

	"gigwatch/pkg/logx"
)

// Open initializes the configured ledger.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Ledger, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "redis":
		return openRedis(ctx, cfg, log)
	default:
		return nil, errors.New("unknown ledger driver: " + driver)
	}
}
