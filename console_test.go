package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/lachameleon/dcmod-reborn/dedup"
	"github.com/lachameleon/dcmod-reborn/ratelimit"
	"github.com/lachameleon/dcmod-reborn/relay"
)

func newWiredConsole(t *testing.T) (*consoleSession, *relay.Router, *bytes.Buffer) {
	t.Helper()
	sess := newConsoleSession("Steve")
	buf := &bytes.Buffer{}
	sess.out = buf

	router := relay.New(sess, dedup.New(), ratelimit.New(45))
	sess.onLocal = router.HandleLocalChat
	sess.onOutgoing = router.FilterOutgoing
	t.Cleanup(router.Close)

	return sess, router, buf
}

func outputLines(sess *consoleSession, buf *bytes.Buffer) []string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return strings.Split(strings.TrimSpace(buf.String()), "\n")
}

func waitForLine(t *testing.T, sess *consoleSession, buf *bytes.Buffer, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, line := range outputLines(sess, buf) {
			if line == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("line %q never rendered; output:\n%s", want, buf.String())
}

// A permit issued for a router dispatch must be consumed by that very
// send, so the next typed line in local-chat mode is still diverted to
// the remote side instead of slipping through to the server path.
func TestRouterDispatchConsumesOwnPermit(t *testing.T) {
	sess, router, buf := newWiredConsole(t)
	router.SetLocalChatMode(true)

	router.HandleRemote(relay.ChatEvent{Content: "from remote", TargetTick: -1})
	waitForLine(t, sess, buf, "<Steve> from remote")

	sess.SendChat("typed by hand")

	for _, line := range outputLines(sess, buf) {
		if line == "<Steve> typed by hand" {
			t.Fatal("typed line reached the server path on a stale permit")
		}
	}
	waitForLine(t, sess, buf, relay.RelayTag+" [Discord] <Steve> typed by hand")
}

func TestTypedChatReachesServerWhenModeOff(t *testing.T) {
	sess, router, buf := newWiredConsole(t)
	router.SetLocalChatMode(false)

	sess.SendChat("hello server")
	waitForLine(t, sess, buf, "<Steve> hello server")
}
