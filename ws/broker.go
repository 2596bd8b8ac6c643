// Package ws hosts the loopback WebSocket broker that companion
// processes connect to. Frames are JSON text; decoded chat events are
// handed to the relay router through a callback registered at startup.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lachameleon/dcmod-reborn/relay"
	"github.com/lachameleon/dcmod-reborn/session"
)

const (
	tickBroadcastDelay    = 500 * time.Millisecond
	identityRetryInterval = time.Second
	identityRetryAttempts = 15
	frameWorkers          = 2
	shutdownTimeout       = 2 * time.Second
)

// ErrPortInUse reports that the configured port is already held by
// another process. Fatal to broker start, not to the host.
var ErrPortInUse = errors.New("port already in use")

// Broker accepts companion-process connections on a loopback socket.
type Broker struct {
	port int
	sess session.Session

	// Handler receives decoded chat events. OnSyncGroup receives
	// set_sync_group announcements. Both are registered once before
	// Start and never changed.
	Handler     func(relay.ChatEvent)
	OnSyncGroup func(group string)

	upgrader websocket.Upgrader
	ln       net.Listener
	server   *http.Server

	mu    sync.Mutex
	conns map[*Conn]bool

	autoMu     sync.Mutex
	autoNames  []string
	autoResult *AutomationResult

	tasks   chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
	closed  sync.Once
}

func New(port int, sess session.Session) *Broker {
	b := &Broker{
		port:  port,
		sess:  sess,
		conns: make(map[*Conn]bool),
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
	b.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if !originAllowed(origin) {
				slog.Warn("rejected connection from disallowed origin", "origin", origin)
				return false
			}
			return true
		},
	}
	return b
}

// Start binds the loopback listener and begins serving. Returns a
// wrapped ErrPortInUse when the port is taken.
func (b *Broker) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", b.port))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: port %d", ErrPortInUse, b.port)
		}
		return fmt.Errorf("bind chat bridge listener: %w", err)
	}
	b.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", b.handleUpgrade)
	mux.Handle("/metrics", promhttp.Handler())
	b.server = &http.Server{Handler: mux}

	for i := 0; i < frameWorkers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	b.wg.Add(1)
	go b.tickBroadcastLoop()

	go func() {
		if err := b.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("chat bridge server failed", "err", err)
		}
	}()

	b.running.Store(true)
	slog.Info("chat bridge server started", "addr", ln.Addr())
	return nil
}

// Addr returns the bound listen address, for tests that use port 0.
func (b *Broker) Addr() string {
	if b.ln == nil {
		return ""
	}
	return b.ln.Addr().String()
}

func (b *Broker) Running() bool { return b.running.Load() }

func (b *Broker) ConnectionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func (b *Broker) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("upgrade failed", "err", err)
		return
	}

	c := newConn(b, ws)
	b.register(c)
	go c.writePump()
	go c.readPump()

	status := connectionStatus{
		Type:    "connection_status",
		Status:  "connected",
		Message: "Connected to Minecraft Discord Chat Integration",
	}
	if id, ok := b.sess.Identity(); ok {
		status.PlayerName = id.Name
	} else {
		b.resolveIdentityLater(c)
	}
	c.sendJSON(status)
}

func (b *Broker) register(c *Conn) {
	b.mu.Lock()
	b.conns[c] = true
	first := len(b.conns) == 1
	b.mu.Unlock()

	slog.Info("companion connected", "remote", c.ws.RemoteAddr())
	if first {
		b.sess.ShowMessage("[Discord] Connected to Discord chat bridge")
	}
}

func (b *Broker) unregister(c *Conn) {
	b.mu.Lock()
	_, known := b.conns[c]
	delete(b.conns, c)
	last := known && len(b.conns) == 0
	b.mu.Unlock()

	if !known {
		return
	}
	slog.Info("companion disconnected")
	// Debounced by connection-count transition, not per close.
	if last {
		b.sess.ShowMessage("[Discord] Disconnected from Discord chat bridge")
	}
}

// resolveIdentityLater retries identity resolution once per second, up
// to a bounded number of attempts, and pushes an update when it lands.
func (b *Broker) resolveIdentityLater(c *Conn) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(identityRetryInterval)
		defer ticker.Stop()

		for i := 0; i < identityRetryAttempts; i++ {
			select {
			case <-b.done:
				return
			case <-c.done:
				return
			case <-ticker.C:
				if id, ok := b.sess.Identity(); ok {
					c.sendJSON(connectionStatus{
						Type:       "connection_status",
						Status:     "connected",
						Message:    "Player name update",
						PlayerName: id.Name,
					})
					return
				}
			}
		}
	}()
}

func (b *Broker) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case task := <-b.tasks:
			runFrameTask(task)
		}
	}
}

func runFrameTask(task func()) {
	defer func() {
		if v := recover(); v != nil {
			slog.Error("frame handler panicked", "panic", v)
		}
	}()
	task()
}

func (b *Broker) handleFrame(c *Conn, data []byte) {
	select {
	case b.tasks <- func() { b.dispatch(c, data) }:
	case <-b.done:
	default:
		slog.Warn("frame queue full, dropping frame")
	}
}

func (b *Broker) dispatch(c *Conn, data []byte) {
	var peek envelope
	if err := json.Unmarshal(data, &peek); err != nil {
		slog.Warn("invalid frame", "err", err)
		return
	}

	switch peek.Type {
	case "discord_message":
		var frame chatFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("invalid discord_message frame", "err", err)
			return
		}
		if frame.Content == "" || b.Handler == nil {
			return
		}
		b.Handler(eventFromFrame(frame))

	case "set_sync_group":
		var frame syncGroupFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		if frame.SyncGroup == "" {
			frame.SyncGroup = "none"
		}
		if b.OnSyncGroup != nil {
			b.OnSyncGroup(frame.SyncGroup)
		}

	case "get_tick":
		c.sendJSON(tickUpdate{Type: "tick_update", Tick: b.sess.CurrentTick()})

	case "ping":
		c.sendJSON(pongFrame{Type: "pong"})

	case "request_player_info":
		c.sendJSON(b.playerInfo())

	case "automations_list":
		var frame automationsListFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		b.autoMu.Lock()
		b.autoNames = append([]string(nil), frame.Automations...)
		b.autoMu.Unlock()

	case "automation_result":
		var frame automationResultFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		b.autoMu.Lock()
		b.autoResult = &AutomationResult{Success: frame.Success, Message: frame.Message}
		b.autoMu.Unlock()

	default:
		slog.Warn("unknown frame type", "type", peek.Type)
	}
}

func eventFromFrame(frame chatFrame) relay.ChatEvent {
	ev := relay.ChatEvent{
		Author:     frame.Author,
		Content:    frame.Content,
		MessageID:  frame.MessageID,
		TickSync:   frame.TickSync,
		SyncGroup:  frame.SyncGroup,
		TargetTick: -1,
	}
	if ev.Author == "" {
		ev.Author = "Unknown"
	}
	if ev.SyncGroup == "" {
		ev.SyncGroup = "none"
	}
	if frame.TargetTick != nil {
		ev.TargetTick = *frame.TargetTick
	}
	return ev
}

func (b *Broker) playerInfo() playerInfo {
	info := playerInfo{
		Type:          "player_info",
		Name:          "Unknown",
		InWorld:       b.sess.Active(),
		InMultiplayer: b.sess.InMultiplayer(),
	}
	if id, ok := b.sess.Identity(); ok {
		info.Name = id.Name
	}
	if info.InWorld {
		tick := b.sess.CurrentTick()
		info.ServerTick = &tick
	}
	return info
}

// tickBroadcastLoop pushes the logical clock to all open connections at
// roughly 2Hz. Fixed delay, not fixed rate, so a slow pass never
// overlaps the next one.
func (b *Broker) tickBroadcastLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case <-time.After(tickBroadcastDelay):
			if b.ConnectionCount() == 0 {
				continue
			}
			tick := b.sess.CurrentTick()
			if tick < 0 {
				continue
			}
			b.broadcast(tickUpdate{Type: "tick_update", Tick: tick})
		}
	}
}

// BroadcastChat fans a local chat line out to every companion process.
func (b *Broker) BroadcastChat(author, content string) {
	b.broadcast(chatBroadcast{Type: "minecraft_message", Author: author, Content: content})
}

// RequestAutomations asks companion processes for their automation
// lists; replies land in the cached names.
func (b *Broker) RequestAutomations() {
	b.broadcast(getAutomationsFrame{Type: "get_automations"})
}

// RunAutomation triggers a named automation on the companion processes.
func (b *Broker) RunAutomation(name string) {
	b.broadcast(runAutomationFrame{Type: "run_automation", Name: name})
}

// AutomationNames returns the most recently reported automation list.
func (b *Broker) AutomationNames() []string {
	b.autoMu.Lock()
	defer b.autoMu.Unlock()
	return append([]string(nil), b.autoNames...)
}

// TakeAutomationResult returns and clears the last automation outcome.
func (b *Broker) TakeAutomationResult() (AutomationResult, bool) {
	b.autoMu.Lock()
	defer b.autoMu.Unlock()
	if b.autoResult == nil {
		return AutomationResult{}, false
	}
	result := *b.autoResult
	b.autoResult = nil
	return result, true
}

func (b *Broker) broadcast(v interface{}) {
	b.mu.Lock()
	conns := make([]*Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.sendJSON(v)
	}
}

// Close shuts the broker down: all connections closed, scheduled work
// cancelled, workers joined with a bounded timeout. Safe to call more
// than once and with no active connections.
func (b *Broker) Close() {
	b.closed.Do(func() {
		b.running.Store(false)
		close(b.done)

		if b.server != nil {
			b.server.Close()
		}

		b.mu.Lock()
		conns := make([]*Conn, 0, len(b.conns))
		for c := range b.conns {
			conns = append(conns, c)
		}
		b.conns = make(map[*Conn]bool)
		b.mu.Unlock()
		for _, c := range conns {
			c.close()
		}

		waited := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(shutdownTimeout):
			slog.Warn("broker workers did not stop in time")
		}

		slog.Info("chat bridge server stopped")
	})
}
