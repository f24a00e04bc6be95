package storage

import (
	"context"
	"errors"
	"strings"

	"gigwatch/pkg/logx"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "gigwatch:"

// redisLedger stores one set of event ids per subscriber under <prefix>notified:<subscriber>.
type redisLedger struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Ledger, error) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, errors.New("ledger.redis_addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, storageErr("open", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &redisLedger{client: client, prefix: prefix, log: log}, nil
}

func (r *redisLedger) key(subscriber string) string {
	return r.prefix + "notified:" + subscriber
}

func (r *redisLedger) IsNotified(ctx context.Context, subscriber, eventID string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key(subscriber), eventID).Result()
	if err != nil {
		return false, storageErr("read", err)
	}
	return ok, nil
}

func (r *redisLedger) MarkNotified(ctx context.Context, subscriber, eventID string) error {
	return storageErr("write", r.client.SAdd(ctx, r.key(subscriber), eventID).Err())
}

func (r *redisLedger) Close() error { return r.client.Close() }
