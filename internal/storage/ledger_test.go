package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"gigwatch/pkg/logx"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

type opener func(t *testing.T, dir string) Ledger

func drivers() map[string]opener {
	return map[string]opener{
		"file": func(t *testing.T, dir string) Ledger {
			l, err := Open(context.Background(), Config{Driver: "file", Path: filepath.Join(dir, "notified.json")}, logx.Nop())
			require.NoError(t, err)
			return l
		},
		"sqlite": func(t *testing.T, dir string) Ledger {
			l, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(dir, "ledger.db")}, logx.Nop())
			require.NoError(t, err)
			return l
		},
		"redis": func(t *testing.T, dir string) Ledger {
			mr := miniredisFor(t, dir)
			l, err := Open(context.Background(), Config{Driver: "redis", RedisAddr: mr.Addr()}, logx.Nop())
			require.NoError(t, err)
			return l
		},
	}
}

// One miniredis per test dir so reopening a ledger sees the same data.
var (
	mrMu   sync.Mutex
	mrByID = map[string]*miniredis.Miniredis{}
)

func miniredisFor(t *testing.T, dir string) *miniredis.Miniredis {
	mrMu.Lock()
	defer mrMu.Unlock()
	if mr, ok := mrByID[dir]; ok {
		return mr
	}
	mr := miniredis.RunT(t)
	mrByID[dir] = mr
	return mr
}

func TestLedgerRoundTripAndIdempotence(t *testing.T) {
	for name, open := range drivers() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			l := open(t, dir)

			ok, err := l.IsNotified(ctx, "alice", "E1")
			require.NoError(t, err)
			require.False(t, ok, "unknown subscriber")

			require.NoError(t, l.MarkNotified(ctx, "alice", "E1"))
			require.NoError(t, l.MarkNotified(ctx, "alice", "E1"))

			ok, err = l.IsNotified(ctx, "alice", "E1")
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = l.IsNotified(ctx, "bob", "E1")
			require.NoError(t, err)
			require.False(t, ok, "pairs are per subscriber")

			require.NoError(t, l.Close())

			reopened := open(t, dir)
			defer reopened.Close()
			ok, err = reopened.IsNotified(ctx, "alice", "E1")
			require.NoError(t, err)
			require.True(t, ok, "record survives reopen")
		})
	}
}

func TestFileLedgerDocumentShape(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "notified.json")

	l, err := Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(b), "missing file is initialized empty")

	require.NoError(t, l.MarkNotified(ctx, "42", "E1"))
	require.NoError(t, l.MarkNotified(ctx, "42", "E2"))
	require.NoError(t, l.MarkNotified(ctx, "7", "E1"))

	b, err = os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string][]string
	require.NoError(t, json.Unmarshal(b, &doc))
	require.Equal(t, map[string][]string{"42": {"E1", "E2"}, "7": {"E1"}}, doc)
}

func TestFileLedgerMarkExistingDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "notified.json")
	l, err := Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, l.MarkNotified(ctx, "42", "E1"))

	before, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Chmod(filepath.Dir(path), 0o500))
	t.Cleanup(func() { _ = os.Chmod(filepath.Dir(path), 0o755) })

	require.NoError(t, l.MarkNotified(ctx, "42", "E1"))
	after, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, before.ModTime(), after.ModTime())
}

func TestFileLedgerSeesExternalEdits(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "notified.json")
	l, err := Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"42":["E9"]}`), 0o600))
	ok, err := l.IsNotified(ctx, "42", "E9")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFileLedgerCorruptDocument(t *testing.T) {
	cases := map[string]string{
		"truncated":  `{"42": "not-a-list"`,
		"empty":      "",
		"whitespace": " \n\t\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "notified.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			l, err := Open(ctx, Config{Path: path}, logx.Nop())
			require.NoError(t, err)

			_, err = l.IsNotified(ctx, "42", "E1")
			var se *StorageError
			require.True(t, errors.As(err, &se), "got %v", err)
			require.Equal(t, "read", se.Op)

			err = l.MarkNotified(ctx, "42", "E1")
			require.True(t, errors.As(err, &se))

			b, rerr := os.ReadFile(path)
			require.NoError(t, rerr)
			require.Equal(t, body, string(b), "corrupt document is left untouched")
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}

func TestRedisLedgerKeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	l, err := Open(context.Background(), Config{Driver: "redis", RedisAddr: mr.Addr(), KeyPrefix: "test:"}, logx.Nop())
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.MarkNotified(context.Background(), "42", "E1"))
	members, err := mr.Members("test:notified:42")
	require.NoError(t, err)
	require.Equal(t, []string{"E1"}, members)
}
