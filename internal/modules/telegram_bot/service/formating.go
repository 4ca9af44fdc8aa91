package service

import "strings"

// лимит Telegram на текст сообщения
const maxMessageLen = 4096

// splitMessage режет по строкам так, чтобы каждая часть влезала в limit рун.
func splitMessage(text string, limit int) []string {
	if len([]rune(text)) <= limit {
		return []string{text}
	}

	var (
		parts []string
		cur   strings.Builder
		n     int
	)
	flush := func() {
		if n > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
			n = 0
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		rs := []rune(line)
		for len(rs) > limit {
			flush()
			parts = append(parts, string(rs[:limit]))
			rs = rs[limit:]
		}
		if n+len(rs) > limit {
			flush()
		}
		cur.WriteString(string(rs))
		n += len(rs)
	}
	flush()
	return parts
}
