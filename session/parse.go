package session

import (
	"regexp"
	"strings"
)

// Chat line shapes seen in the wild: "[tag] <Name> text" and "Name: text".
var (
	bracketChatPattern = regexp.MustCompile(`^(?:\[[^\]]+\]\s*)*<([^>]{1,64})>\s*(.+)$`)
	colonChatPattern   = regexp.MustCompile(`^(?:\[[^\]]+\]\s*)*([A-Za-z0-9_]{3,16})\s*:\s+(.+)$`)
	formattingPattern  = regexp.MustCompile("§.")
)

// SystemAuthor is reported when a rendered line carries no player name.
const SystemAuthor = "System"

// ParseChatLine recovers (author, content) from a rendered chat line.
// Formatting codes are stripped first. Lines that match neither pattern
// are attributed to SystemAuthor with the whole line as content.
func ParseChatLine(raw string) (author, content string) {
	text := strings.TrimSpace(formattingPattern.ReplaceAllString(raw, ""))
	if text == "" {
		return SystemAuthor, ""
	}

	if m := bracketChatPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	if m := colonChatPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	return SystemAuthor, text
}
