package relay

import (
	"strings"
	"unicode"
)

// ChatEvent is a structured chat event received from the remote side,
// via either the local broker or the HTTP bridge. A negative TargetTick
// means no deferral was requested.
type ChatEvent struct {
	Author     string `json:"author"`
	Content    string `json:"content"`
	MessageID  string `json:"messageId,omitempty"`
	TickSync   bool   `json:"tickSync,omitempty"`
	SyncGroup  string `json:"syncGroup,omitempty"`
	TargetTick int64  `json:"targetTick"`
}

// RelayTag prefixes every line the bridge itself displays. Lines
// carrying it are never relayed back outward.
const RelayTag = "[DCI Relay]"

const sendChatPrefix = "/send"

// outbound is a remote content string classified for dispatch: either a
// chat message or a command, plus the key under which its session echo
// will be recognized.
type outbound struct {
	content string
	command bool
	echoKey string
}

func parseOutbound(raw string) (outbound, bool) {
	norm := strings.TrimSpace(raw)
	if norm == "" {
		return outbound{}, false
	}

	if isSendChatCommand(norm) {
		msg := strings.TrimSpace(norm[len(sendChatPrefix):])
		if msg == "" {
			return outbound{}, false
		}
		return outbound{content: msg, echoKey: msg}, true
	}

	if strings.HasPrefix(norm, "/") {
		cmd := strings.TrimSpace(norm[1:])
		if cmd == "" {
			return outbound{}, false
		}
		return outbound{content: cmd, command: true, echoKey: norm}, true
	}

	return outbound{content: norm, echoKey: norm}, true
}

// isSendChatCommand matches "/send <text>" case-insensitively. "/sendx"
// does not count.
func isSendChatCommand(norm string) bool {
	if len(norm) < len(sendChatPrefix) {
		return false
	}
	if !strings.EqualFold(norm[:len(sendChatPrefix)], sendChatPrefix) {
		return false
	}
	if len(norm) == len(sendChatPrefix) {
		return true
	}
	return unicode.IsSpace(rune(norm[len(sendChatPrefix)]))
}
