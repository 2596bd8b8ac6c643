// Package bridge is the HTTP fallback path to the remote platform: a
// fire-and-forget push for outbound messages and a cursor-based poll
// for inbound events. Both directions are best-effort; failures are
// logged and the next attempt proceeds with the same cursor.
package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lachameleon/dcmod-reborn/metrics"
)

const (
	pollDelay = 1500 * time.Millisecond

	maxPlayerNameLen    = 64
	maxMessageLen       = 1600
	maxServerAddressLen = 200
	maxSkinURLLen       = 1024
)

// Bridge talks to one configured relay endpoint. The cursor starts at
// zero on every construction; there is deliberately no persistence.
type Bridge struct {
	url      string
	token    string
	clientID string
	client   *http.Client

	// OnRemoteMessage receives each polled event that did not originate
	// from this client: kind is the event type on the wire.
	OnRemoteMessage func(kind, author, content string)

	cursor  atomic.Int64
	done    chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	closed  sync.Once
}

// New validates the relay URL and builds an idle bridge; Start begins
// polling.
func New(rawURL, token, clientID string, timeout time.Duration) (*Bridge, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("relay url must be http or https, got %q", u.Scheme)
	}

	return &Bridge{
		url:      u.String(),
		token:    token,
		clientID: clientID,
		client:   &http.Client{Timeout: timeout},
		done:     make(chan struct{}),
	}, nil
}

// PushChat relays a local chat line. Fire-and-forget: failures are
// logged and never retried.
func (b *Bridge) PushChat(playerName, message, playerUUID, skinURL string) {
	msg := sanitize(message, "", maxMessageLen)
	if msg == "" {
		return
	}
	b.post(pushEnvelope{
		Type:           "minecraft_message",
		PlayerName:     sanitize(playerName, "System", maxPlayerNameLen),
		Message:        msg,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		SourceClientID: b.clientID,
		PlayerUUID:     strings.TrimSpace(playerUUID),
		SkinURL:        sanitizeURL(skinURL),
	})
}

// PushSessionJoin announces that the session entered a world.
func (b *Bridge) PushSessionJoin(playerName string, multiplayer bool, serverAddress, playerUUID, skinURL string) {
	mode := "singleplayer"
	if multiplayer {
		mode = "multiplayer"
	}
	b.post(pushEnvelope{
		Type:           "session_event",
		Event:          "join",
		PlayerName:     sanitize(playerName, "Player", maxPlayerNameLen),
		Mode:           mode,
		ServerAddress:  sanitize(serverAddress, "", maxServerAddressLen),
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		SourceClientID: b.clientID,
		PlayerUUID:     strings.TrimSpace(playerUUID),
		SkinURL:        sanitizeURL(skinURL),
	})
}

type pushEnvelope struct {
	Type           string `json:"type"`
	Event          string `json:"event,omitempty"`
	PlayerName     string `json:"playerName,omitempty"`
	Message        string `json:"message,omitempty"`
	Mode           string `json:"mode,omitempty"`
	ServerAddress  string `json:"serverAddress,omitempty"`
	Timestamp      string `json:"timestamp"`
	SourceClientID string `json:"sourceClientId"`
	PlayerUUID     string `json:"playerUuid,omitempty"`
	SkinURL        string `json:"skinUrl,omitempty"`
}

func (b *Bridge) post(env pushEnvelope) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		body, err := json.Marshal(env)
		if err != nil {
			slog.Error("marshal relay payload", "err", err)
			return
		}

		req, err := http.NewRequest(http.MethodPost, b.url, bytes.NewReader(body))
		if err != nil {
			slog.Warn("build relay request", "err", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if b.token != "" {
			req.Header.Set("Authorization", "Bearer "+b.token)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			slog.Debug("relay push failed", "err", err)
			metrics.RelayPushes.WithLabelValues("error").Inc()
			return
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			slog.Warn("relay push rejected", "status", resp.StatusCode)
			metrics.RelayPushes.WithLabelValues("error").Inc()
			return
		}
		metrics.RelayPushes.WithLabelValues("ok").Inc()
	}()
}

// Start begins the inbound poll loop. Fixed delay between cycles so a
// slow poll never overlaps the next one.
func (b *Bridge) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.done:
				return
			case <-time.After(pollDelay):
				b.pollOnce()
			}
		}
	}()
	slog.Info("relay inbound poller started")
}

// Cursor reports the last-seen event id. It only moves forward.
func (b *Bridge) Cursor() int64 { return b.cursor.Load() }

type pollResponse struct {
	LatestEventID int64       `json:"latestEventId"`
	Events        []pollEvent `json:"events"`
}

type pollEvent struct {
	ID             int64  `json:"id"`
	Type           string `json:"type"`
	SourceClientID string `json:"sourceClientId"`
	Author         string `json:"author"`
	PlayerName     string `json:"playerName"`
	Message        string `json:"message"`
}

func (b *Bridge) pollOnce() {
	req, err := http.NewRequest(http.MethodGet, b.eventsURL(), nil)
	if err != nil {
		slog.Debug("build relay poll request", "err", err)
		metrics.RelayPollFailures.Inc()
		return
	}
	req.Header.Set("Accept", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		slog.Debug("relay poll failed", "err", err)
		metrics.RelayPollFailures.Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Debug("relay poll returned non-200", "status", resp.StatusCode)
		metrics.RelayPollFailures.Inc()
		io.Copy(io.Discard, resp.Body)
		return
	}

	var body pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		slog.Debug("relay poll body malformed", "err", err)
		metrics.RelayPollFailures.Inc()
		return
	}

	b.advanceCursor(body.LatestEventID)

	for _, ev := range body.Events {
		if ev.ID <= 0 {
			continue
		}
		b.advanceCursor(ev.ID)

		if ev.SourceClientID == b.clientID {
			// Our own push reflected back; never render it.
			continue
		}

		author := ev.Author
		if author == "" {
			author = ev.PlayerName
		}
		if b.OnRemoteMessage != nil {
			b.OnRemoteMessage(ev.Type, author, ev.Message)
		}
	}
}

func (b *Bridge) advanceCursor(id int64) {
	for {
		current := b.cursor.Load()
		if id <= current {
			return
		}
		if b.cursor.CompareAndSwap(current, id) {
			return
		}
	}
}

func (b *Bridge) eventsURL() string {
	separator := "?"
	if strings.Contains(b.url, "?") {
		separator = "&"
	}
	cursor := b.cursor.Load()
	if cursor < 0 {
		cursor = 0
	}
	return fmt.Sprintf("%s%sevents=1&since=%d&clientId=%s",
		b.url, separator, cursor, url.QueryEscape(b.clientID))
}

// Close stops the poller and waits briefly for in-flight pushes.
func (b *Bridge) Close() {
	b.closed.Do(func() {
		close(b.done)

		waited := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(2 * time.Second):
			slog.Warn("relay bridge tasks did not stop in time")
		}

		slog.Info("relay inbound poller stopped")
	})
}

func sanitize(value, fallback string, maxLen int) string {
	safe := strings.TrimSpace(value)
	if safe == "" {
		safe = fallback
	}
	if len(safe) > maxLen {
		safe = safe[:maxLen]
	}
	return safe
}

func sanitizeURL(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || len(trimmed) > maxSkinURLLen {
		return ""
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return trimmed
}
