package storage

import (
	"context"
	"fmt"
	"time"
)

// Config configures the ledger.
//
// Driver values: "file" (default), "sqlite", "redis".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string // redis only; default "gigwatch:"
}

// Ledger is the durable "already notified" record.
type Ledger interface {
	IsNotified(ctx context.Context, subscriber, eventID string) (bool, error)
	// MarkNotified is idempotent.
	MarkNotified(ctx context.Context, subscriber, eventID string) error
	Close() error
}

// StorageError means the ledger could not be read or written.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
