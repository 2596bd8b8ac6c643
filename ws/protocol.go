package ws

// envelope is the type-peek for incoming frames
type envelope struct {
	Type string `json:"type"`
}

// chatFrame is an incoming discord_message
type chatFrame struct {
	Author     string `json:"author"`
	Content    string `json:"content"`
	MessageID  string `json:"messageId"`
	TickSync   bool   `json:"tickSync"`
	SyncGroup  string `json:"syncGroup"`
	TargetTick *int64 `json:"targetTick"`
}

type syncGroupFrame struct {
	SyncGroup string `json:"syncGroup"`
}

type automationsListFrame struct {
	Automations []string `json:"automations"`
}

type automationResultFrame struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Outgoing frames

type connectionStatus struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	PlayerName string `json:"playerName,omitempty"`
}

type tickUpdate struct {
	Type string `json:"type"`
	Tick int64  `json:"tick"`
}

type pongFrame struct {
	Type string `json:"type"`
}

type playerInfo struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	InWorld       bool   `json:"inWorld"`
	InMultiplayer bool   `json:"inMultiplayer"`
	ServerTick    *int64 `json:"serverTick,omitempty"`
}

type chatBroadcast struct {
	Type    string `json:"type"`
	Author  string `json:"author"`
	Content string `json:"content"`
}

type getAutomationsFrame struct {
	Type string `json:"type"`
}

type runAutomationFrame struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// AutomationResult is the outcome reported by the companion process for
// the last automation run.
type AutomationResult struct {
	Success bool
	Message string
}
