// Package dedup holds the time-windowed tables that keep relayed chat
// from looping: messages this client just sent outward must not be
// re-relayed when the session echoes them back, and messages that only
// went to the game server must not be treated as fresh local chat.
package dedup

import (
	"strings"
	"sync"
	"time"
)

const (
	echoWindow       = 3 * time.Second
	serverOnlyWindow = 8 * time.Second
	suppressWindow   = 5 * time.Second

	maxEchoEntries       = 100
	maxServerOnlyEntries = 200
	maxSuppressedEntries = 200
	maxProcessedIDs      = 2000
)

// Store is safe for concurrent use. A lost race between a lookup and a
// concurrent removal only costs a missed suppression, never a crash.
type Store struct {
	mu         sync.Mutex
	echo       map[string]time.Time
	serverOnly map[string]time.Time
	suppressed map[string]time.Time
	seenIDs    map[string]struct{}

	now func() time.Time
}

func New() *Store {
	return &Store{
		echo:       make(map[string]time.Time),
		serverOnly: make(map[string]time.Time),
		suppressed: make(map[string]time.Time),
		seenIDs:    make(map[string]struct{}),
		now:        time.Now,
	}
}

func normalizeKey(s string) string {
	return strings.TrimSpace(s)
}

// RegisterOutbound records content about to be dispatched into the
// session so its echo can be recognized. Each key is stored both bare
// and as "<author> key", matching how servers render chat.
func (s *Store) RegisterOutbound(author string, keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, key := range keys {
		key = normalizeKey(key)
		if key == "" {
			continue
		}
		s.echo[key] = now
		if author != "" {
			s.echo["<"+author+"> "+key] = now
		}
	}

	if len(s.echo) > maxEchoEntries {
		cutoff := now.Add(-echoWindow)
		for k, t := range s.echo {
			if t.Before(cutoff) {
				delete(s.echo, k)
			}
		}
	}
}

// IsEcho reports whether content is the session's rendering of a message
// this client just sent outward. A match is consumed: it returns true at
// most once per registered key. Besides the exact lookup, a containment
// scan handles renderings that wrap the text with extra prefixes.
func (s *Store) IsEcho(content string) bool {
	content = normalizeKey(content)
	if content == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sent, ok := s.echo[content]; ok && now.Sub(sent) < echoWindow {
		delete(s.echo, content)
		return true
	}

	cutoff := now.Add(-echoWindow)
	for key, sent := range s.echo {
		if sent.Before(cutoff) {
			delete(s.echo, key)
			continue
		}
		if key == content || strings.Contains(content, key) {
			delete(s.echo, key)
			return true
		}
	}
	return false
}

func serverOnlyKey(author, content string) string {
	return strings.ToLower(normalizeKey(author)) + "|" + normalizeKey(content)
}

// MarkServerOnly records a message that is being sent to the game server
// only and must not be relayed outward when it echoes back.
func (s *Store) MarkServerOnly(author, content string) {
	if normalizeKey(content) == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.serverOnly[serverOnlyKey(author, content)] = now

	if len(s.serverOnly) > maxServerOnlyEntries {
		cutoff := now.Add(-serverOnlyWindow)
		for k, t := range s.serverOnly {
			if t.Before(cutoff) {
				delete(s.serverOnly, k)
			}
		}
	}
}

// IsServerOnly reports and consumes a server-only mark for this author
// and content. Stale marks are evicted.
func (s *Store) IsServerOnly(author, content string) bool {
	key := serverOnlyKey(author, content)

	s.mu.Lock()
	defer s.mu.Unlock()

	marked, ok := s.serverOnly[key]
	if !ok {
		return false
	}
	delete(s.serverOnly, key)
	return s.now().Sub(marked) < serverOnlyWindow
}

// Suppress records content that arrived via the HTTP bridge and is about
// to be displayed locally, so the chat observer does not re-relay it.
func (s *Store) Suppress(content string) {
	content = normalizeKey(content)
	if content == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.suppressed[content] = now

	if len(s.suppressed) > maxSuppressedEntries {
		cutoff := now.Add(-suppressWindow)
		for k, t := range s.suppressed {
			if t.Before(cutoff) {
				delete(s.suppressed, k)
			}
		}
	}
}

// IsSuppressed reports whether content is within its suppression window.
// Unlike echo matches it is not consumed on a hit; expired entries are
// evicted on lookup.
func (s *Store) IsSuppressed(content string) bool {
	content = normalizeKey(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	marked, ok := s.suppressed[content]
	if !ok {
		return false
	}
	if s.now().Sub(marked) < suppressWindow {
		return true
	}
	delete(s.suppressed, content)
	return false
}

// SeenID records id and reports whether it was already seen. The set is
// capped at 2000 entries and cleared wholesale on overflow, so very old
// ids can become acceptable again. That tradeoff is deliberate.
func (s *Store) SeenID(id string) bool {
	if id == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seenIDs[id]; ok {
		return true
	}
	s.seenIDs[id] = struct{}{}
	if len(s.seenIDs) > maxProcessedIDs {
		s.seenIDs = make(map[string]struct{})
	}
	return false
}
