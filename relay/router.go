// Package relay contains the router that sits between the local session
// and the remote side: it deduplicates, rate-limits and tick-defers
// remote messages before dispatching them into the session, and filters
// locally observed chat lines before forwarding them outward.
package relay

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lachameleon/dcmod-reborn/dedup"
	"github.com/lachameleon/dcmod-reborn/metrics"
	"github.com/lachameleon/dcmod-reborn/ratelimit"
	"github.com/lachameleon/dcmod-reborn/session"
	"github.com/lachameleon/dcmod-reborn/tickqueue"
)

const (
	// Absorbs the session's own asynchronous echo of a just-sent message
	// before the relaying flag is cleared.
	sendGuardDelay = 100 * time.Millisecond

	echoSkipWindow  = 8 * time.Second
	taskQueueSize   = 256
	inboundWorkers  = 2
	shutdownTimeout = 2 * time.Second
)

// Broadcaster is the local broker as seen by the router.
type Broadcaster interface {
	Running() bool
	ConnectionCount() int
	BroadcastChat(author, content string)
}

// Pusher is the HTTP bridge's outbound direction as seen by the router.
type Pusher interface {
	PushChat(playerName, message, playerUUID, skinURL string)
}

// Router orchestrates dedup, rate limiting and tick-synchronized
// delivery around both directions of relayed traffic.
type Router struct {
	sess    session.Session
	store   *dedup.Store
	limiter *ratelimit.Limiter
	queue   *tickqueue.Queue[ChatEvent]

	// Optional collaborators, wired once at startup.
	Broker Broadcaster
	Bridge Pusher

	// RelayActive reports whether outward relaying is configured at all.
	// Nil means always active.
	RelayActive func() bool

	localChatMode atomic.Bool
	sending       atomic.Bool

	// One-shot permits consumed by the host's outgoing-chat interceptor
	// so text the router itself dispatched is not re-captured.
	chatPermits      atomic.Int32
	echoSkips        atomic.Int32
	echoSkipDeadline atomic.Int64 // unix milli

	syncMu    sync.Mutex
	syncGroup string

	inbound chan func()
	forward chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	closed  sync.Once
}

// New wires a router around its shared state. Callers set Broker, Bridge
// and RelayActive before traffic starts.
func New(sess session.Session, store *dedup.Store, limiter *ratelimit.Limiter) *Router {
	r := &Router{
		sess:      sess,
		store:     store,
		limiter:   limiter,
		queue:     tickqueue.New[ChatEvent](),
		syncGroup: "none",
		inbound:   make(chan func(), taskQueueSize),
		forward:   make(chan func(), taskQueueSize),
		done:      make(chan struct{}),
	}
	r.localChatMode.Store(true)

	for i := 0; i < inboundWorkers; i++ {
		r.wg.Add(1)
		go r.worker(r.inbound)
	}
	// A single worker keeps outbound forwarding ordered.
	r.wg.Add(1)
	go r.worker(r.forward)

	return r
}

func (r *Router) worker(ch <-chan func()) {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case task := <-ch:
			runTask(task)
		}
	}
}

// A bad message must never take a worker down with it.
func runTask(task func()) {
	defer func() {
		if v := recover(); v != nil {
			slog.Error("relay task panicked", "panic", v)
		}
	}()
	task()
}

func (r *Router) submit(ch chan func(), task func()) {
	select {
	case <-r.done:
	case ch <- task:
	default:
		slog.Warn("relay task queue full, dropping work")
		metrics.RemoteDropped.WithLabelValues("queue_full").Inc()
	}
}

// HandleRemote processes a chat event received from the remote side:
// drop duplicates, route tick-synchronized messages into the queue,
// execute the rest immediately.
func (r *Router) HandleRemote(ev ChatEvent) {
	if !r.sess.Active() {
		return
	}

	r.submit(r.inbound, func() {
		if ev.MessageID != "" && r.store.SeenID(ev.MessageID) {
			metrics.RemoteDropped.WithLabelValues("duplicate_id").Inc()
			return
		}

		if ev.SyncGroup != "" {
			r.SetSyncGroup(ev.SyncGroup)
		}

		if ev.TargetTick >= 0 {
			r.queue.Push(ev, ev.TargetTick)
			return
		}
		if ev.TickSync {
			// No explicit target: release on the very next tick.
			r.queue.Push(ev, -1)
			return
		}

		r.execute(ev)
	})
}

// OnTick is the session's per-tick callback. It is the only place the
// tick queue is drained.
func (r *Router) OnTick(tick int64) {
	for _, ev := range r.queue.Drain(tick) {
		r.execute(ev)
	}
}

func (r *Router) execute(ev ChatEvent) {
	if !r.sess.Active() {
		return
	}

	if !r.sending.CompareAndSwap(false, true) {
		slog.Debug("concurrent message execution")
	}

	out, ok := parseOutbound(ev.Content)
	if !ok {
		r.sending.Store(false)
		metrics.RemoteDropped.WithLabelValues("empty").Inc()
		return
	}

	if !r.limiter.TryAcquire() {
		r.sending.Store(false)
		metrics.RemoteDropped.WithLabelValues("rate_limited").Inc()
		r.notifyRateLimit()
		slog.Debug("dropped remote message due to rate limit",
			"limit", r.limiter.Limit(), "content", out.content)
		return
	}

	// Register echo keys before dispatch: the session's chat observer
	// may fire synchronously.
	keys := []string{out.echoKey}
	if norm := strings.TrimSpace(ev.Content); norm != "" && norm != out.echoKey {
		keys = append(keys, norm)
	}
	r.store.RegisterOutbound(r.localName(), keys...)

	if out.command {
		r.sess.SendCommand(out.content)
	} else {
		r.chatPermits.Add(1)
		r.sess.SendChat(out.content)
	}
	metrics.RemoteExecuted.Inc()

	time.AfterFunc(sendGuardDelay, func() { r.sending.Store(false) })
}

func (r *Router) notifyRateLimit() {
	if !r.limiter.NoticeDue() {
		return
	}
	r.sess.ShowMessage(fmt.Sprintf(
		"[Discord Chat] Rate limit reached (%d/min). Message dropped.", r.limiter.Limit()))
}

// HandleLocalChat processes a chat line observed in the session, already
// parsed into author and content by the boundary adapter. Reflections of
// the router's own traffic are dropped; genuine local chat is forwarded
// outward.
func (r *Router) HandleLocalChat(author, content string) {
	norm := strings.TrimSpace(content)
	if norm == "" {
		return
	}

	if r.consumeEchoSkip(author) {
		metrics.LocalSuppressed.WithLabelValues("permit").Inc()
		return
	}
	if r.store.IsServerOnly(author, norm) {
		metrics.LocalSuppressed.WithLabelValues("server_only").Inc()
		return
	}
	if strings.HasPrefix(norm, RelayTag) {
		metrics.LocalSuppressed.WithLabelValues("relay_tag").Inc()
		return
	}
	if r.store.IsSuppressed(norm) {
		metrics.LocalSuppressed.WithLabelValues("suppressed").Inc()
		return
	}
	if r.store.IsEcho(norm) {
		metrics.LocalSuppressed.WithLabelValues("echo").Inc()
		return
	}

	uuid, skin := "", ""
	if id, ok := r.sess.Identity(); ok && strings.EqualFold(strings.TrimSpace(author), id.Name) {
		uuid, skin = id.UUID, id.SkinURL
	}
	r.forwardRemote(author, norm, uuid, skin)
}

func (r *Router) forwardRemote(author, content, uuid, skin string) {
	r.submit(r.forward, func() {
		if b := r.Broker; b != nil && b.Running() && b.ConnectionCount() > 0 {
			b.BroadcastChat(author, content)
		}
		if p := r.Bridge; p != nil {
			p.PushChat(author, content, uuid, skin)
		}
		metrics.LocalForwarded.Inc()
	})
}

// FilterOutgoing is the outgoing-chat interceptor hook. It returns false
// when the host must cancel the send: in local-chat mode typed chat goes
// to the remote side only, never to the game server.
func (r *Router) FilterOutgoing(text string) bool {
	if r.ConsumeChatPermit() {
		return true
	}
	if r.RelayActive != nil && !r.RelayActive() {
		return true
	}

	norm := strings.TrimSpace(text)
	if norm == "" {
		return true
	}

	if r.LocalChatMode() {
		r.RelayLocalOnly(norm)
		return false
	}

	// Mode off: the message goes to the server normally, and its echo
	// must not be forwarded outward.
	r.MarkServerOnlyOutgoing(norm)
	return true
}

// RelayLocalOnly forwards text to the remote side without sending it to
// the game server, and renders a tagged copy locally.
func (r *Router) RelayLocalOnly(text string) {
	norm := strings.TrimSpace(text)
	if norm == "" || !r.sess.Active() {
		return
	}
	id, ok := r.sess.Identity()
	if !ok {
		return
	}

	r.forwardRemote(id.Name, norm, id.UUID, id.SkinURL)
	r.sess.ShowMessage(fmt.Sprintf("%s [Discord] <%s> %s", RelayTag, id.Name, norm))
}

// MarkServerOnlyOutgoing marks text the local player is sending to the
// game server only, so its echo is not relayed.
func (r *Router) MarkServerOnlyOutgoing(text string) {
	norm := strings.TrimSpace(text)
	if norm == "" {
		return
	}
	r.store.MarkServerOnly(r.localName(), norm)
}

// SendServerOnly dispatches text into the session bound for the game
// server while keeping it off the remote side entirely.
func (r *Router) SendServerOnly(text string) bool {
	norm := strings.TrimSpace(text)
	if norm == "" || !r.sess.Active() {
		return false
	}

	r.store.MarkServerOnly(r.localName(), norm)
	r.markEchoSkip()
	r.chatPermits.Add(1)
	r.sess.SendChat(norm)
	return true
}

// DisplayRemote renders an event that arrived via the HTTP bridge,
// registering its plain form so the chat observer does not re-relay it.
func (r *Router) DisplayRemote(kind, author, content string) {
	content = strings.TrimSpace(content)
	if content == "" || !r.sess.Active() {
		return
	}

	var line string
	switch kind {
	case "discord_message":
		if author == "" {
			author = "Discord"
		}
		line = fmt.Sprintf("%s [Discord] <%s> %s", RelayTag, author, content)
	case "minecraft_message":
		if author == "" {
			author = "Minecraft"
		}
		line = fmt.Sprintf("%s [Chat] <%s> %s", RelayTag, author, content)
	default:
		return
	}

	// Only the full rendered line is suppressed. Suppressing the bare
	// content would swallow genuine local chat that happens to match a
	// just-displayed bridge message.
	r.store.Suppress(line)
	r.sess.ShowMessage(line)
}

// ConsumeChatPermit claims one "allow next outgoing chat" permit, if any
// is outstanding.
func (r *Router) ConsumeChatPermit() bool {
	for {
		current := r.chatPermits.Load()
		if current <= 0 {
			return false
		}
		if r.chatPermits.CompareAndSwap(current, current-1) {
			return true
		}
	}
}

func (r *Router) markEchoSkip() {
	r.echoSkips.Add(1)
	r.echoSkipDeadline.Store(time.Now().Add(echoSkipWindow).UnixMilli())
}

func (r *Router) consumeEchoSkip(author string) bool {
	if !r.isLocalName(author) {
		return false
	}
	if time.Now().UnixMilli() > r.echoSkipDeadline.Load() {
		r.echoSkips.Store(0)
		return false
	}
	for {
		current := r.echoSkips.Load()
		if current <= 0 {
			return false
		}
		if r.echoSkips.CompareAndSwap(current, current-1) {
			return true
		}
	}
}

func (r *Router) localName() string {
	if id, ok := r.sess.Identity(); ok {
		return id.Name
	}
	return ""
}

func (r *Router) isLocalName(name string) bool {
	name = strings.TrimSpace(name)
	local := r.localName()
	return name != "" && local != "" && strings.EqualFold(name, local)
}

// SetSyncGroup records the sync group announced by the remote side.
func (r *Router) SetSyncGroup(group string) {
	if group == "" {
		return
	}
	r.syncMu.Lock()
	r.syncGroup = group
	r.syncMu.Unlock()
}

func (r *Router) SyncGroup() string {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()
	return r.syncGroup
}

// LocalChatMode reports whether typed chat is diverted to the remote
// side instead of the game server.
func (r *Router) LocalChatMode() bool { return r.localChatMode.Load() }

func (r *Router) SetLocalChatMode(on bool) { r.localChatMode.Store(on) }

// ToggleLocalChatMode flips the mode and returns the new value.
func (r *Router) ToggleLocalChatMode() bool {
	next := !r.localChatMode.Load()
	r.localChatMode.Store(next)
	return next
}

// QueueLen reports how many tick-synchronized messages are waiting.
func (r *Router) QueueLen() int { return r.queue.Len() }

// LastExecution exposes the tick queue's execution diagnostics.
func (r *Router) LastExecution() (tickqueue.ExecutionInfo, bool) {
	return r.queue.LastExecution()
}

// RateLimitUsage reports consumed send slots in the current window.
func (r *Router) RateLimitUsage() int { return r.limiter.InUse() }

// Close stops the worker pools. Idempotent; waits up to two seconds for
// in-flight tasks before giving up.
func (r *Router) Close() {
	r.closed.Do(func() {
		close(r.done)

		waited := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(shutdownTimeout):
			slog.Warn("relay workers did not stop in time")
		}
	})
}
