package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) (*httptest.Server, *SessionManager, *fakeTransport) {
	t.Helper()

	ft := &fakeTransport{}
	rc := newTestController(ft)
	sm := newTestSessionManager()
	handler := NewWebSocketHandler(sm, rc, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, sm, ft
}

func dialTestServer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readJSONMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

func TestConnectedGreeting(t *testing.T) {
	srv, sm, _ := newTestServer(t)
	conn := dialTestServer(t, srv)

	msg := readJSONMessage(t, conn)
	if msg["type"] != "connected" {
		t.Fatalf("type = %v, want connected", msg["type"])
	}
	cfg, ok := msg["config"].(map[string]interface{})
	if !ok || cfg["start_freq_mhz"] != 100.0 {
		t.Errorf("config = %v", msg["config"])
	}
	features, ok := msg["features"].([]interface{})
	if !ok || len(features) != 1 || features[0] != "delta_encoding" {
		t.Errorf("features = %v, want [delta_encoding]", msg["features"])
	}

	if sm.Count() != 1 {
		t.Errorf("session count = %d, want 1", sm.Count())
	}
}

func TestEnableDeltaEncodingAck(t *testing.T) {
	srv, sm, _ := newTestServer(t)
	conn := dialTestServer(t, srv)
	readJSONMessage(t, conn) // connected

	if err := conn.WriteJSON(map[string]interface{}{"type": "enable_delta_encoding"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readJSONMessage(t, conn)
	if msg["type"] != "delta_encoding_status" || msg["enabled"] != true {
		t.Fatalf("ack = %v, want delta_encoding_status enabled", msg)
	}

	// The server-side session reflects the toggle.
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := sm.Snapshot()
		if len(snap) == 1 && snap[0].DeltaEncodingEnabled() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never toggled to delta encoding")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDisableDeltaEncodingAck(t *testing.T) {
	srv, _, _ := newTestServer(t)
	conn := dialTestServer(t, srv)
	readJSONMessage(t, conn)

	enabled := false
	if err := conn.WriteJSON(ClientControlMessage{Type: "enable_delta_encoding", Enabled: &enabled}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readJSONMessage(t, conn)
	if msg["enabled"] != false {
		t.Fatalf("ack = %v, want enabled=false", msg)
	}
}

func TestSetFrequencyForwardsToDevice(t *testing.T) {
	srv, _, ft := newTestServer(t)
	conn := dialTestServer(t, srv)
	readJSONMessage(t, conn)

	if err := conn.WriteJSON(map[string]interface{}{
		"type":      "set_frequency",
		"start_mhz": 1990.0,
		"end_mhz":   2590.0,
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if len(ft.writes) > 0 {
			if ft.writes[0] != "#0C2-F:1990000,0600000\r\n" {
				t.Fatalf("device command = %q", ft.writes[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("device command never written")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestInvalidJSONKeepsConnectionOpen(t *testing.T) {
	srv, _, _ := newTestServer(t)
	conn := dialTestServer(t, srv)
	readJSONMessage(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The connection survives: a follow-up control message is still handled.
	if err := conn.WriteJSON(map[string]interface{}{"type": "enable_delta_encoding"}); err != nil {
		t.Fatalf("write after garbage: %v", err)
	}
	msg := readJSONMessage(t, conn)
	if msg["type"] != "delta_encoding_status" {
		t.Fatalf("got %v, want delta_encoding_status", msg)
	}
}

func TestDisconnectDestroysSession(t *testing.T) {
	srv, sm, _ := newTestServer(t)
	conn := dialTestServer(t, srv)
	readJSONMessage(t, conn)

	if sm.Count() != 1 {
		t.Fatalf("count = %d, want 1", sm.Count())
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for sm.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not destroyed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFrameDeliveryOverWebSocket(t *testing.T) {
	srv, sm, _ := newTestServer(t)
	conn := dialTestServer(t, srv)
	readJSONMessage(t, conn)

	b := newTestBridge(sm)
	b.Broadcast(testSweep(1, -50.0, -60.0))

	msg := readJSONMessage(t, conn)
	if msg["type"] != "sweep" {
		t.Fatalf("type = %v, want sweep", msg["type"])
	}
	if data, ok := msg["data"].([]interface{}); !ok || len(data) != 2 {
		t.Errorf("data = %v, want 2 points", msg["data"])
	}
}
