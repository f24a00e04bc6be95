package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gigwatch/pkg/logx"
)

// fileLedger keeps the ledger as a single JSON object:
//
//	{"<subscriber>": ["<event id>", ...]}
//
// The file is the source of truth; nothing is cached between calls.
type fileLedger struct {
	path string
	log  logx.Logger

	mu sync.Mutex
}

type ledgerDoc map[string][]string

func openFile(cfg Config, log logx.Logger) (Ledger, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("ledger.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storageErr("open", err)
	}

	l := &fileLedger{path: path, log: log}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := l.writeLocked(ledgerDoc{}); err != nil {
			return nil, err
		}
		log.Info("ledger initialized", logx.String("path", path))
	} else if err != nil {
		return nil, storageErr("open", err)
	}
	return l, nil
}

func (l *fileLedger) Close() error { return nil }

func (l *fileLedger) IsNotified(ctx context.Context, subscriber, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.readLocked()
	if err != nil {
		return false, err
	}
	return slices.Contains(doc[subscriber], eventID), nil
}

func (l *fileLedger) MarkNotified(ctx context.Context, subscriber, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.readLocked()
	if err != nil {
		return err
	}
	if slices.Contains(doc[subscriber], eventID) {
		return nil
	}
	doc[subscriber] = append(doc[subscriber], eventID)
	return l.writeLocked(doc)
}

func (l *fileLedger) readLocked() (ledgerDoc, error) {
	b, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return ledgerDoc{}, nil
	}
	if err != nil {
		return nil, storageErr("read", err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, storageErr("read", fmt.Errorf("%s: empty ledger document", l.path))
	}
	doc := ledgerDoc{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, storageErr("read", fmt.Errorf("decode %s: %w", l.path, err))
	}
	if doc == nil {
		doc = ledgerDoc{}
	}
	return doc, nil
}

// writeLocked replaces the file via temp file + rename so readers never see a partial document.
func (l *fileLedger) writeLocked(doc ledgerDoc) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return storageErr("write", err)
	}
	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return storageErr("write", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return storageErr("write", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return storageErr("write", err)
	}
	if err := f.Close(); err != nil {
		return storageErr("write", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return storageErr("write", err)
	}
	return nil
}
