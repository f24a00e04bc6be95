package dispatcher

import (
	"errors"
	"fmt"
	"time"

	kit "gigwatch/internal/transport"
)

var (
	ErrStopped      = errors.New("dispatcher stopped")
	ErrEmptyMessage = errors.New("dispatcher: empty message text")
)

const (
	DefaultGlobalPerSec = 30
	DefaultSendInterval = 1100 * time.Millisecond
	DefaultErrorPause   = time.Second
)

// Config controls throughput of the outbound queue.
type Config struct {
	// GlobalPerSec caps sends across all recipients.
	GlobalPerSec int
	// SendInterval is slept after every send attempt. It keeps any single recipient
	// well under one message per second without per-recipient bookkeeping.
	SendInterval time.Duration
	ErrorPause   time.Duration
}

func (c Config) withDefaults() Config {
	if c.GlobalPerSec <= 0 {
		c.GlobalPerSec = DefaultGlobalPerSec
	}
	if c.SendInterval < 0 {
		c.SendInterval = 0
	} else if c.SendInterval == 0 {
		c.SendInterval = DefaultSendInterval
	}
	if c.ErrorPause <= 0 {
		c.ErrorPause = DefaultErrorPause
	}
	return c
}

// Message is one outbound text. Options default to Markdown with link previews on.
type Message struct {
	Recipient kit.ChatTarget
	Text      string
	Options   *kit.SendOptions
}

// DeliveryError records a send that was dropped.
type DeliveryError struct {
	Recipient kit.ChatTarget
	Code      int
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("deliver to %d: status %d: %v", e.Recipient.ChatID, e.Code, e.Err)
	}
	return fmt.Sprintf("deliver to %d: %v", e.Recipient.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
