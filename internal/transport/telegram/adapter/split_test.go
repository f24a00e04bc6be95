package adapter

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "gigwatch/internal/transport"
)

func TestSplitTelegramTextShortMessage(t *testing.T) {
	got := splitTelegramText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("unexpected chunks: %q", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	text := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitTelegramText(text, 12, "")
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2 (%q)", len(got), got)
	}
	if got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("unexpected chunks: %q", got)
	}
}

func TestSplitTelegramTextKeepsMarkdownLinkWhole(t *testing.T) {
	text := "0123456789 [Get Tickets](http://x)"
	got := splitTelegramText(text, 30, "Markdown")
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2 (%q)", len(got), got)
	}
	if got[1] != "[Get Tickets](http://x)" {
		t.Fatalf("link split across chunks: %q", got)
	}
	if strings.Join(got, "") != text {
		t.Fatalf("chunks lost content: %q", got)
	}
}

func TestMapSendError(t *testing.T) {
	err := mapSendError(&tele.Error{Code: http.StatusForbidden, Description: "bot was blocked by the user"})
	var se *kit.SendError
	if !errors.As(err, &se) {
		t.Fatalf("expected SendError, got %T", err)
	}
	if se.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want %d", se.Code, http.StatusForbidden)
	}

	plain := errors.New("dial tcp: timeout")
	if got := mapSendError(plain); got != plain {
		t.Fatalf("non-telegram error should pass through, got %v", got)
	}
}
