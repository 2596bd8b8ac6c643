package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lachameleon/dcmod-reborn/relay"
	"github.com/lachameleon/dcmod-reborn/session"
)

// consoleSession is a stand-in chat surface for running the relay core
// from a terminal: stdin lines are typed chat, stdout is the screen,
// and a 20Hz counter plays the logical clock. Sending chat echoes a
// rendered line back through the chat observer, the same way a real
// server does — which is exactly the reflection the router has to
// recognize.
type consoleSession struct {
	name string
	tick atomic.Int64

	mu  sync.Mutex
	out io.Writer

	// onLocal is the chat-observer callback, wired to the router.
	onLocal func(author, content string)

	// onOutgoing is the outgoing-chat interceptor, wired to the router.
	// Every chat send passes through it; returning false cancels the
	// send. Router-issued permits are consumed here by the very send
	// that created them.
	onOutgoing func(text string) bool
}

func newConsoleSession(name string) *consoleSession {
	return &consoleSession{name: name, out: os.Stdout}
}

func (s *consoleSession) Active() bool { return true }

func (s *consoleSession) Identity() (session.Identity, bool) {
	return session.Identity{Name: s.name}, s.name != ""
}

func (s *consoleSession) CurrentTick() int64 { return s.tick.Load() }

func (s *consoleSession) InMultiplayer() bool { return false }

func (s *consoleSession) SendChat(text string) {
	if s.onOutgoing != nil && !s.onOutgoing(text) {
		return
	}
	line := fmt.Sprintf("<%s> %s", s.name, text)
	s.ShowMessage(line)
	s.observe(line)
}

func (s *consoleSession) SendCommand(command string) {
	s.ShowMessage("> /" + command)
}

func (s *consoleSession) ShowMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, text)
}

func (s *consoleSession) advanceTick() int64 { return s.tick.Add(1) }

// observe plays the rendered-chat-line observer: parse at the boundary,
// skip bridge-authored and system lines, hand structured pairs to the
// router.
func (s *consoleSession) observe(line string) {
	if strings.HasPrefix(strings.TrimSpace(line), relay.RelayTag) {
		return
	}
	author, content := session.ParseChatLine(line)
	if author == session.SystemAuthor {
		return
	}
	if s.onLocal != nil {
		s.onLocal(author, content)
	}
}
