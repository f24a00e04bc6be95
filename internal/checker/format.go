package checker

import (
	"strings"

	"gigwatch/internal/catalog"
)

var markdownEscaper = strings.NewReplacer(
	`_`, `\_`,
	`*`, `\*`,
	"`", "\\`",
	`[`, `\[`,
)

// escapeMarkdown escapes text for Telegram's legacy Markdown parse mode.
func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }

func formatLocation(city, country string) string {
	switch {
	case city != "" && country != "":
		return city + ", " + country
	case city != "":
		return city
	default:
		return country
	}
}

// formatAlert renders the notification text. location may be empty.
func formatAlert(artist string, ev catalog.Event, location string) string {
	var b strings.Builder
	b.WriteString("🎤 *Concert Alert!*\n\n")
	b.WriteString("🎶 Artist: " + escapeMarkdown(artist) + "\n")
	if location != "" {
		b.WriteString("🌍 Location: " + escapeMarkdown(location) + "\n")
	}
	if d := ev.StartDate(); d != "" {
		b.WriteString("📅 Date: " + escapeMarkdown(d) + "\n")
	}
	if v, ok := ev.Venue(); ok && strings.TrimSpace(v.Name) != "" {
		b.WriteString("🏟️ Venue: " + escapeMarkdown(v.Name) + "\n")
	}
	if u := strings.TrimSpace(ev.URL); u != "" {
		b.WriteString("\n🎟️ [Get Tickets](" + u + ")")
	}
	return strings.TrimRight(b.String(), "\n")
}
