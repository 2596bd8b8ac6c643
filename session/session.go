// Package session defines the narrow view of the host chat surface that
// the relay core depends on. The core never reaches into the host's
// internals; everything it needs arrives through these interfaces.
package session

// Identity describes the local player as far as the relay cares.
type Identity struct {
	Name    string
	UUID    string
	SkinURL string
}

// Session is implemented by the host. All methods must be safe to call
// from any goroutine; implementations are responsible for marshaling
// SendChat, SendCommand and ShowMessage onto their own main thread.
type Session interface {
	// Active reports whether a player exists and can send chat.
	Active() bool

	// Identity returns the local player identity, if resolvable yet.
	Identity() (Identity, bool)

	// CurrentTick returns the monotonic logical clock, or -1 when no
	// world is loaded.
	CurrentTick() int64

	// InMultiplayer reports whether the session is on a remote server.
	InMultiplayer() bool

	// SendChat dispatches text into the session as a chat message.
	SendChat(text string)

	// SendCommand dispatches a command (without leading slash).
	SendCommand(command string)

	// ShowMessage displays a line to the user without sending it anywhere.
	ShowMessage(text string)
}
