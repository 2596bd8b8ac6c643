package ws

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lachameleon/dcmod-reborn/relay"
	"github.com/lachameleon/dcmod-reborn/session"
)

type stubSession struct {
	name   string
	active bool
	tick   int64
}

func (s *stubSession) Active() bool { return s.active }

func (s *stubSession) Identity() (session.Identity, bool) {
	return session.Identity{Name: s.name, UUID: "uuid-" + s.name}, s.name != ""
}

func (s *stubSession) CurrentTick() int64  { return s.tick }
func (s *stubSession) InMultiplayer() bool { return false }
func (s *stubSession) SendChat(string)     {}
func (s *stubSession) SendCommand(string)  {}
func (s *stubSession) ShowMessage(string)  {}

func startBroker(t *testing.T) (*Broker, chan relay.ChatEvent) {
	t.Helper()
	events := make(chan relay.ChatEvent, 16)
	b := New(0, &stubSession{name: "Steve", active: true, tick: 42})
	b.Handler = func(ev relay.ChatEvent) { events <- ev }
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(b.Close)
	return b, events
}

func dial(t *testing.T, b *Broker) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+b.Addr()+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readFrame decodes the next frame of the wanted type, skipping the
// periodic tick_update broadcasts.
func readFrame(t *testing.T, ws *websocket.Conn, wantType string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	ws.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("decode %q: %v", data, err)
		}
		if frame["type"] == wantType {
			return frame
		}
		if frame["type"] == "tick_update" && wantType != "tick_update" {
			continue
		}
		t.Fatalf("got frame type %v, want %s", frame["type"], wantType)
	}
	t.Fatalf("no %s frame before deadline", wantType)
	return nil
}

func TestConnectReceivesStatus(t *testing.T) {
	b, _ := startBroker(t)
	ws := dial(t, b)

	frame := readFrame(t, ws, "connection_status")
	if frame["status"] != "connected" {
		t.Errorf("status = %v", frame["status"])
	}
	if frame["playerName"] != "Steve" {
		t.Errorf("playerName = %v", frame["playerName"])
	}

	if got := b.ConnectionCount(); got != 1 {
		t.Errorf("ConnectionCount() = %d", got)
	}
}

func TestDiscordMessageReachesHandler(t *testing.T) {
	b, events := startBroker(t)
	ws := dial(t, b)
	readFrame(t, ws, "connection_status")

	msg := `{"type":"discord_message","author":"Bob","content":"hi","messageId":"m7"}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Author != "Bob" || ev.Content != "hi" || ev.MessageID != "m7" {
			t.Errorf("event = %+v", ev)
		}
		if ev.TargetTick != -1 {
			t.Errorf("TargetTick = %d, want -1 when absent", ev.TargetTick)
		}
		if ev.SyncGroup != "none" {
			t.Errorf("SyncGroup = %q, want default none", ev.SyncGroup)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("handler never received the event")
	}
}

func TestDiscordMessageDefaults(t *testing.T) {
	b, events := startBroker(t)
	ws := dial(t, b)
	readFrame(t, ws, "connection_status")

	msg := `{"type":"discord_message","content":"anon","targetTick":77}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Author != "Unknown" {
			t.Errorf("Author = %q, want Unknown", ev.Author)
		}
		if ev.TargetTick != 77 {
			t.Errorf("TargetTick = %d", ev.TargetTick)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("handler never received the event")
	}
}

func TestEmptyContentIgnored(t *testing.T) {
	b, events := startBroker(t)
	ws := dial(t, b)
	readFrame(t, ws, "connection_status")

	msg := `{"type":"discord_message","author":"Bob","content":""}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-events:
		t.Fatalf("empty content produced event %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestPingPong(t *testing.T) {
	b, _ := startBroker(t)
	ws := dial(t, b)
	readFrame(t, ws, "connection_status")

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readFrame(t, ws, "pong")
}

func TestGetTick(t *testing.T) {
	b, _ := startBroker(t)
	ws := dial(t, b)
	readFrame(t, ws, "connection_status")

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"get_tick"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrame(t, ws, "tick_update")
	if frame["tick"] != float64(42) {
		t.Errorf("tick = %v, want 42", frame["tick"])
	}
}

func TestRequestPlayerInfo(t *testing.T) {
	b, _ := startBroker(t)
	ws := dial(t, b)
	readFrame(t, ws, "connection_status")

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"request_player_info"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrame(t, ws, "player_info")
	if frame["name"] != "Steve" || frame["inWorld"] != true {
		t.Errorf("player_info = %v", frame)
	}
	if frame["serverTick"] != float64(42) {
		t.Errorf("serverTick = %v", frame["serverTick"])
	}
}

func TestSyncGroupFrame(t *testing.T) {
	b, _ := startBroker(t)
	groups := make(chan string, 1)
	b.OnSyncGroup = func(g string) { groups <- g }

	ws := dial(t, b)
	readFrame(t, ws, "connection_status")

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"set_sync_group","syncGroup":"alpha"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case g := <-groups:
		if g != "alpha" {
			t.Errorf("sync group = %q", g)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("OnSyncGroup never fired")
	}
}

func TestBroadcastChatReachesClient(t *testing.T) {
	b, _ := startBroker(t)
	ws := dial(t, b)
	readFrame(t, ws, "connection_status")

	b.BroadcastChat("Alex", "hello out there")

	frame := readFrame(t, ws, "minecraft_message")
	if frame["author"] != "Alex" || frame["content"] != "hello out there" {
		t.Errorf("broadcast = %v", frame)
	}
}

func TestAutomationRoundtrip(t *testing.T) {
	b, _ := startBroker(t)
	ws := dial(t, b)
	readFrame(t, ws, "connection_status")

	msg := `{"type":"automations_list","automations":["farm","sort"]}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(b.AutomationNames()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("automation list never cached")
		}
		time.Sleep(10 * time.Millisecond)
	}
	names := b.AutomationNames()
	if len(names) != 2 || names[0] != "farm" || names[1] != "sort" {
		t.Fatalf("AutomationNames() = %v", names)
	}

	result := `{"type":"automation_result","success":true,"message":"done"}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(result)); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		if time.Now().After(deadline) {
			t.Fatal("automation result never cached")
		}
		if got, ok := b.TakeAutomationResult(); ok {
			if !got.Success || got.Message != "done" {
				t.Errorf("result = %+v", got)
			}
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Taking clears it.
	if _, ok := b.TakeAutomationResult(); ok {
		t.Error("result should be cleared after take")
	}
}

func TestDisallowedOriginRejected(t *testing.T) {
	b, _ := startBroker(t)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+b.Addr()+"/", header)
	if err == nil {
		ws.Close()
		t.Fatal("dial from disallowed origin succeeded")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}
