package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"codebox-relay/internal/bridge"
	"codebox-relay/internal/chat"
	"codebox-relay/internal/types"
)

type fakeRelay struct {
	mu        sync.Mutex
	sent      []*types.Message
	connected bool
	err       error
}

func (r *fakeRelay) Send(msg *types.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *fakeRelay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *fakeRelay) messages() []*types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.Message(nil), r.sent...)
}

type fakeAsker struct {
	got string
}

func (a *fakeAsker) Ask(_ context.Context, text string) []chat.Event {
	a.got = text
	return []chat.Event{{Kind: chat.EventText, Text: "echo: " + text}}
}

type fakeConn struct {
	mu       sync.Mutex
	msgs     [][]byte
	err      error
	deadline time.Time
	// stall makes writes hang until the write deadline passes.
	stall bool
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	deadline, stall := c.deadline, c.stall
	c.mu.Unlock()
	if stall {
		if deadline.IsZero() {
			select {}
		}
		time.Sleep(time.Until(deadline))
		return errors.New("i/o timeout")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func do(t *testing.T, h http.Handler, method string, path string, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestHealthzAndCORS(t *testing.T) {
	s := NewServer(&fakeRelay{connected: true}, "GUI", nil)
	h := s.Router()

	rec, body := do(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || body["ok"] != true || body["bridge_connected"] != true {
		t.Fatalf("unexpected healthz: %d %v", rec.Code, body)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	rec, _ = do(t, h, http.MethodOptions, "/api/capture", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
}

func TestLaunchAgent(t *testing.T) {
	relay := &fakeRelay{connected: true}
	h := NewServer(relay, "GUI", nil).Router()

	rec, body := do(t, h, http.MethodPost, "/api/agents", `{"agent_id":"shop","url":"https://shop.example.com"}`)
	if rec.Code != http.StatusAccepted || body["status"] != "sent" {
		t.Fatalf("unexpected response: %d %v", rec.Code, body)
	}
	msgs := relay.messages()
	if len(msgs) != 1 || msgs[0].Type() != types.TypeLaunchAgent || msgs[0].AgentID != "GUI" {
		t.Fatalf("unexpected relay messages: %#v", msgs)
	}
	var req types.LaunchAgent
	if err := msgs[0].DecodeContent(&req); err != nil || req.AgentID != "shop" || req.URL != "https://shop.example.com" {
		t.Fatalf("unexpected content: %#v %v", req, err)
	}

	rec, _ = do(t, h, http.MethodPost, "/api/agents", `{"agent_id":"shop"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing url, got %d", rec.Code)
	}
	rec, _ = do(t, h, http.MethodPost, "/api/agents", `{`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}
}

func TestForwardWhileOffline(t *testing.T) {
	relay := &fakeRelay{err: bridge.ErrNotConnected}
	h := NewServer(relay, "GUI", nil).Router()

	rec, body := do(t, h, http.MethodPost, "/api/shutdown", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d %v", rec.Code, body)
	}

	relay.err = errors.New("broken pipe")
	rec, _ = do(t, h, http.MethodPost, "/api/agents/shop/activate", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestActivateAndShutdown(t *testing.T) {
	relay := &fakeRelay{connected: true}
	h := NewServer(relay, "GUI", nil).Router()

	do(t, h, http.MethodPost, "/api/agents/shop/activate", "")
	do(t, h, http.MethodPost, "/api/shutdown", "")

	msgs := relay.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected two messages, got %d", len(msgs))
	}
	var act types.ActivateRelay
	if msgs[0].Type() != types.TypeActivateRelay || msgs[0].DecodeContent(&act) != nil || act.AgentID != "shop" {
		t.Fatalf("unexpected activate message: %#v", msgs[0])
	}
	if cmd, _ := msgs[1].ContentString(); msgs[1].Type() != types.TypeSystemCommand || cmd != types.CommandShutdown {
		t.Fatalf("unexpected shutdown message: %#v", msgs[1])
	}
}

func TestStatusFromBridge(t *testing.T) {
	s := NewServer(&fakeRelay{connected: true}, "GUI", nil)
	h := s.Router()

	_, body := do(t, h, http.MethodGet, "/api/status", "")
	if body["updated_at"] != nil {
		t.Fatalf("expected no status yet, got %v", body)
	}

	s.HandleBridgeMessage(types.NewStatusMessage(types.StatusMap{"manager": {"Online", "green"}}))
	_, body = do(t, h, http.MethodGet, "/api/status", "")
	statuses, _ := body["statuses"].(map[string]any)
	pair, _ := statuses["manager"].([]any)
	if len(pair) != 2 || pair[0] != "Online" || pair[1] != "green" || body["updated_at"] == nil {
		t.Fatalf("unexpected status body: %v", body)
	}
}

func TestChat(t *testing.T) {
	h := NewServer(&fakeRelay{}, "GUI", nil).Router()
	if rec, _ := do(t, h, http.MethodPost, "/api/chat", `{"text":"hi"}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a model, got %d", rec.Code)
	}

	asker := &fakeAsker{}
	h = NewServer(&fakeRelay{}, "GUI", asker).Router()
	rec, body := do(t, h, http.MethodPost, "/api/chat", `{"text":"hello"}`)
	if rec.Code != http.StatusOK || asker.got != "hello" {
		t.Fatalf("unexpected chat response: %d %v", rec.Code, body)
	}
	events, _ := body["events"].([]any)
	first, _ := events[0].(map[string]any)
	if len(events) != 1 || first["kind"] != "text" || first["text"] != "echo: hello" {
		t.Fatalf("unexpected events: %v", events)
	}

	if rec, _ := do(t, h, http.MethodPost, "/api/chat", `{"text":"  "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty text, got %d", rec.Code)
	}
}

func TestCapture(t *testing.T) {
	h := NewServer(&fakeRelay{}, "GUI", nil).Router()
	rec, body := do(t, h, http.MethodPost, "/api/capture", `{"event":"click","target":"#buy"}`)
	if rec.Code != http.StatusOK || body["status"] != "success" {
		t.Fatalf("unexpected capture response: %d %v", rec.Code, body)
	}
	if rec, _ := do(t, h, http.MethodPost, "/api/capture", `not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHub_DropsFailedPeers(t *testing.T) {
	hub := NewHub()
	good := &fakeConn{}
	bad := &fakeConn{err: errors.New("closed")}
	hub.add(good)
	hub.add(bad)

	hub.Broadcast(types.NewMessage("a1", "hello", types.DirectionIncoming, types.TypeJSLog))
	if good.count() != 1 {
		t.Fatalf("expected good peer to receive one message, got %d", good.count())
	}
	if hub.Len() != 1 {
		t.Fatalf("expected failed peer dropped, got %d peers", hub.Len())
	}

	var msg types.Message
	if err := json.Unmarshal(good.msgs[0], &msg); err != nil || msg.AgentID != "a1" {
		t.Fatalf("unexpected frame: %s (%v)", good.msgs[0], err)
	}
}

func TestHub_StalledPeerTimesOut(t *testing.T) {
	hub := NewHub()
	hub.writeTimeout = 50 * time.Millisecond
	stalled := &fakeConn{stall: true}
	good := &fakeConn{}
	hub.add(stalled)
	hub.add(good)

	done := make(chan struct{})
	go func() {
		hub.Broadcast(types.NewMessage("a1", "hello", types.DirectionIncoming, types.TypeJSLog))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("broadcast blocked on a stalled peer")
	}
	if good.count() != 1 || hub.Len() != 1 {
		t.Fatalf("expected stalled peer dropped and good peer served, got count=%d peers=%d", good.count(), hub.Len())
	}
}

func TestWebSocket_RoundTrip(t *testing.T) {
	relay := &fakeRelay{connected: true}
	s := NewServer(relay, "GUI", nil)
	s.HandleBridgeMessage(types.NewStatusMessage(types.StatusMap{"manager": {"Online", "green"}}))
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	snap, err := types.DecodeLine(data)
	if err != nil || snap.Type() != types.TypeStatusUpdate || snap.Statuses()["manager"][0] != "Online" {
		t.Fatalf("unexpected snapshot: %s (%v)", data, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.Hub().Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	s.HandleBridgeMessage(types.NewMessage("a1", "clicked", types.DirectionIncoming, types.TypeJSLog))
	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	got, err := types.DecodeLine(data)
	if err != nil || got.Type() != types.TypeJSLog || got.Content != "clicked" {
		t.Fatalf("unexpected broadcast: %s (%v)", data, err)
	}

	frame, _ := json.Marshal(types.NewMessage("", "hello", types.DirectionOutgoing, types.TypeChat))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	for len(relay.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	msgs := relay.messages()
	if len(msgs) != 1 || msgs[0].AgentID != "GUI" || msgs[0].Content != "hello" {
		t.Fatalf("unexpected forwarded messages: %#v", msgs)
	}
}
