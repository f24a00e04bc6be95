package adapter

import "strings"

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries and, for Markdown, avoids cutting inside a [label](url) link.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, "Markdown") && end < len(rs) {
			if open := lastUnclosedLink(rs[start:end]); open > 0 {
				end = start + open
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// lastUnclosedLink returns the index of a '[' whose link is not terminated by ')'
// inside rs, or -1.
func lastUnclosedLink(rs []rune) int {
	open := -1
	for i, r := range rs {
		switch r {
		case '[':
			open = i
		case ')':
			open = -1
		}
	}
	return open
}
