package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

type recordingWriter struct {
	mu        sync.Mutex
	decisions []*models.Decision
}

func (w *recordingWriter) Write(d *models.Decision) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.decisions = append(w.decisions, d)
	return true
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.decisions)
}

func dial(t *testing.T, srv *httptest.Server, path, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) models.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg models.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return msg
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType models.MessageType, payload interface{}) {
	t.Helper()
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
}

func TestHandler_Unauthorized(t *testing.T) {
	h := NewHandler("secret", NewMemoryStore(10), zerolog.Nop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", resp)
	}
}

func TestHandler_Ingest(t *testing.T) {
	store := NewMemoryStore(10)
	registry := NewRemoteRegistry()
	writer := &recordingWriter{}

	h := NewHandler("secret", store, zerolog.Nop())
	h.SetRegistry(registry)
	h.SetDBWriter(writer)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "", "secret")
	defer conn.Close()

	now := time.Now().UTC()
	sendMessage(t, conn, models.MessageTypeHeartbeat, models.HeartbeatMessage{NodeID: "node-a", Units: 1})
	if msg := readMessage(t, conn); msg.Type != models.MessageTypeAck {
		t.Fatalf("heartbeat reply = %s, want ack", msg.Type)
	}

	sendMessage(t, conn, models.MessageTypeBatch, models.BatchMessage{
		NodeID: "node-a",
		Decisions: []models.Decision{
			*decisionAt("cellar", now.Add(-time.Minute), models.LevelLow),
			*decisionAt("cellar", now, models.LevelHigh),
			{UnitID: "", Timestamp: now},
		},
		Count: 3,
	})
	if msg := readMessage(t, conn); msg.Type != models.MessageTypeAck {
		t.Fatalf("batch reply = %s, want ack", msg.Type)
	}

	sendMessage(t, conn, models.MessageTypeStatus, models.StatusMessage{
		NodeID: "node-a",
		Units:  []models.Status{{UnitID: "cellar", Level: models.LevelHigh}},
	})
	readMessage(t, conn)

	if got := len(store.GetLatest("cellar", 10)); got != 2 {
		t.Errorf("stored %d decisions, want 2", got)
	}
	if writer.count() != 2 {
		t.Errorf("wrote %d decisions, want 2", writer.count())
	}
	if s, err := registry.Status("cellar"); err != nil || s.Level != models.LevelHigh {
		t.Errorf("registry status = %+v, %v", s, err)
	}

	nodes := h.GetActiveNodes()
	if len(nodes) != 1 || nodes[0].NodeID != "node-a" || nodes[0].Units != 1 {
		t.Errorf("active nodes = %+v", nodes)
	}

	sendMessage(t, conn, models.MessageType("config"), map[string]string{})
	msg := readMessage(t, conn)
	if msg.Type != models.MessageTypeError {
		t.Fatalf("unknown type reply = %s, want error", msg.Type)
	}
	var e models.ErrorMessage
	msg.UnmarshalPayload(&e)
	if e.Code != models.ErrorUnknownType || e.MessageID == "" {
		t.Errorf("error = %+v, want unknown_type answering the message", e)
	}
}

func TestHub_Broadcast(t *testing.T) {
	registry := NewRemoteRegistry()
	registry.Update("node-a", []models.Status{{UnitID: "cellar", Level: models.LevelLow}})
	hub := NewHub("", registry, zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "", "")
	defer conn.Close()

	snapshot := readMessage(t, conn)
	if snapshot.Type != models.MessageTypeStatus {
		t.Fatalf("first message = %s, want status", snapshot.Type)
	}
	var status models.StatusMessage
	snapshot.UnmarshalPayload(&status)
	if len(status.Units) != 1 || status.Units[0].UnitID != "cellar" {
		t.Errorf("snapshot = %+v", status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	hub.Observe(*decisionAt("cellar", time.Now(), models.LevelHigh))

	if msg := readMessage(t, conn); msg.Type != models.MessageTypeDecision {
		t.Errorf("second message = %s, want decision", msg.Type)
	}
	if msg := readMessage(t, conn); msg.Type != models.MessageTypeStatus {
		t.Errorf("third message = %s, want status", msg.Type)
	}
}

func TestHub_OriginCheck(t *testing.T) {
	hub := NewHub("", nil, zerolog.Nop(), "http://dashboard.local")
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Error("expected foreign origin to be rejected")
	}

	header.Set("Origin", "http://dashboard.local")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}

func TestValidToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=abc", nil)
	if !validToken(r, "abc") {
		t.Error("query token should be accepted")
	}
	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer nope")
	if validToken(r, "abc") {
		t.Error("wrong bearer token accepted")
	}
	if !validToken(r, "") {
		t.Error("empty token should disable the check")
	}
}
