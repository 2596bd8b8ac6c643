package ws

import "strings"

// Handshake gate: companion processes send no Origin header or an opaque
// one, and the remote platform's desktop app sends its own origins.
// Browser-style http(s) origins not on the allow-list are rejected so a
// random web page cannot drive the bridge.
func originAllowed(origin string) bool {
	if origin == "" || origin == "null" {
		return true
	}

	lower := strings.ToLower(origin)
	if isPlatformOrigin(lower) {
		return true
	}
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return false
	}
	if strings.Contains(lower, "://") {
		return false
	}
	return true
}

func isPlatformOrigin(lower string) bool {
	switch lower {
	case "https://discord.com",
		"https://discordapp.com",
		"https://ptb.discord.com",
		"https://canary.discord.com",
		"https://ptb.discordapp.com",
		"https://canary.discordapp.com":
		return true
	}
	return strings.HasPrefix(lower, "https://localhost") ||
		strings.HasPrefix(lower, "http://localhost") ||
		strings.HasPrefix(lower, "http://127.0.0.1") ||
		strings.HasPrefix(lower, "https://127.0.0.1")
}
