// Package subscribers reads the registered users and their music-service tokens.
package subscribers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Subscriber is one registered user. ID is the Telegram chat id in decimal.
type Subscriber struct {
	ID           string
	AccessToken  string
	RefreshToken string
}

type credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// FileStore reads {"<id>": {"access_token": "...", "refresh_token": "..."}} from Path.
// It never writes the file.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore { return &FileStore{Path: path} }

// Load returns subscribers sorted by ID. A missing file yields no subscribers.
func (s *FileStore) Load(ctx context.Context) ([]Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscribers: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return nil, nil
	}

	var raw map[string]credentials
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode subscribers %s: %w", s.Path, err)
	}
	out := make([]Subscriber, 0, len(raw))
	for id, c := range raw {
		out = append(out, Subscriber{ID: id, AccessToken: c.AccessToken, RefreshToken: c.RefreshToken})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
