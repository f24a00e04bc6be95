package transport

import (
	"context"
	"fmt"
)

// Parse modes understood by the Telegram adapter.
const (
	ParseMarkdown = "Markdown"
	ParseHTML     = "HTML"
)

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers text messages to a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// SendError is a status-coded delivery failure reported by the messaging platform.
type SendError struct {
	Code        int
	Description string
	RetryAfter  int // seconds; set on flood control (429)
	Err         error
}

func (e *SendError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("send failed: %s (code=%d)", e.Description, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("send failed: %v (code=%d)", e.Err, e.Code)
	}
	return fmt.Sprintf("send failed (code=%d)", e.Code)
}

func (e *SendError) Unwrap() error { return e.Err }
