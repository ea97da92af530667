package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:    8192,
	WriteBufferSize:   65536,
	EnableCompression: false, // zstd is negotiated per-connection instead
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn wraps a websocket connection with a write mutex (gorilla allows only
// one concurrent writer) and an optional per-connection zstd encoder.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	zstdEnc *zstd.Encoder // nil when the client did not request compression
}

func (wc *wsConn) writePayload(payload []byte) error {
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()

	wc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if wc.zstdEnc != nil {
		compressed := wc.zstdEnc.EncodeAll(payload, nil)
		return wc.conn.WriteMessage(websocket.BinaryMessage, compressed)
	}
	return wc.conn.WriteMessage(websocket.TextMessage, payload)
}

func (wc *wsConn) writeJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return wc.writePayload(payload)
}

func (wc *wsConn) close() {
	if wc.zstdEnc != nil {
		wc.zstdEnc.Close()
	}
	wc.conn.Close()
}

// ClientControlMessage is the JSON envelope for everything a client sends.
type ClientControlMessage struct {
	Type     string  `json:"type"`
	Command  string  `json:"command,omitempty"`
	StartMHz float64 `json:"start_mhz,omitempty"`
	EndMHz   float64 `json:"end_mhz,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
}

// ConnectedMessage greets a freshly connected client with the current device
// configuration and the bridge's optional capabilities.
type ConnectedMessage struct {
	Type     string      `json:"type"`
	Config   SweepConfig `json:"config"`
	Features []string    `json:"features"`
}

// DeltaStatusMessage acknowledges a delta encoding toggle.
type DeltaStatusMessage struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// WebSocketHandler serves the /ws endpoint.
type WebSocketHandler struct {
	sessions *SessionManager
	rf       *RFExplorerController
	metrics  *PrometheusMetrics
}

func NewWebSocketHandler(sessions *SessionManager, rf *RFExplorerController, metrics *PrometheusMetrics) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		rf:       rf,
		metrics:  metrics,
	}
}

// HandleWebSocket upgrades the connection, registers a session, and runs the
// read loop until the client disconnects. Frame delivery happens on a
// separate writer goroutine fed by the session's send channel.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ERROR: WebSocket upgrade failed: %v", err)
		return
	}

	wc := &wsConn{conn: conn}
	if r.URL.Query().Get("compression") == "zstd" {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			log.Printf("ERROR: Failed to create zstd encoder: %v", err)
			conn.Close()
			return
		}
		wc.zstdEnc = enc
	}
	defer wc.close()

	cs := h.sessions.CreateSession(r.RemoteAddr)
	log.Printf("Client connected: %s (session %s, compression: %v)", r.RemoteAddr, cs.ID, wc.zstdEnc != nil)

	if err := wc.writeJSON(ConnectedMessage{
		Type:     "connected",
		Config:   h.rf.Config(),
		Features: []string{"delta_encoding"},
	}); err != nil {
		log.Printf("ERROR: Failed to send connected message to %s: %v", cs.ID, err)
		h.sessions.DestroySession(cs.ID)
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-cs.Done:
				return
			case payload := <-cs.SendChan:
				if err := wc.writePayload(payload); err != nil {
					log.Printf("ERROR: Write to client %s failed: %v", cs.ID, err)
					return
				}
			}
		}
	}()

	h.readLoop(wc, cs)

	h.sessions.DestroySession(cs.ID)
	<-writerDone
	log.Printf("Client disconnected: %s (session %s)", r.RemoteAddr, cs.ID)
}

func (h *WebSocketHandler) readLoop(wc *wsConn, cs *ClientSession) {
	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Warning: Client %s closed unexpectedly: %v", cs.ID, err)
			}
			return
		}

		var msg ClientControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed input is the client's problem, not a reason to drop it.
			log.Printf("Warning: invalid JSON from client %s: %v", cs.ID, err)
			continue
		}

		h.handleControlMessage(wc, cs, &msg)
	}
}

func (h *WebSocketHandler) handleControlMessage(wc *wsConn, cs *ClientSession, msg *ClientControlMessage) {
	switch msg.Type {
	case "command":
		if msg.Command == "" {
			log.Printf("Warning: empty command from client %s", cs.ID)
			return
		}
		if err := h.rf.SendCommand(msg.Command); err != nil {
			log.Printf("ERROR: Command from client %s failed: %v", cs.ID, err)
			if h.metrics != nil {
				h.metrics.RecordSerialWriteError()
			}
		}

	case "set_frequency":
		startMHz := msg.StartMHz
		endMHz := msg.EndMHz
		if startMHz == 0 {
			startMHz = 1990.0
		}
		if endMHz == 0 {
			endMHz = 6000.0
		}
		if err := h.rf.SetFrequencyRange(startMHz, endMHz); err != nil {
			log.Printf("ERROR: Frequency change for client %s failed: %v", cs.ID, err)
			if h.metrics != nil {
				h.metrics.RecordSerialWriteError()
			}
		}

	case "start":
		if err := h.rf.StartSweep(); err != nil {
			log.Printf("ERROR: Start sweep for client %s failed: %v", cs.ID, err)
			if h.metrics != nil {
				h.metrics.RecordSerialWriteError()
			}
		}

	case "stop":
		if err := h.rf.StopSweep(); err != nil {
			log.Printf("ERROR: Stop sweep for client %s failed: %v", cs.ID, err)
			if h.metrics != nil {
				h.metrics.RecordSerialWriteError()
			}
		}

	case "enable_delta_encoding":
		enabled := true
		if msg.Enabled != nil {
			enabled = *msg.Enabled
		}
		cs.SetDeltaEncoding(enabled)
		if err := wc.writeJSON(DeltaStatusMessage{Type: "delta_encoding_status", Enabled: enabled}); err != nil {
			log.Printf("ERROR: Failed to ack delta toggle for client %s: %v", cs.ID, err)
		}
		if DebugMode {
			log.Printf("DEBUG: Client %s delta encoding: %v", cs.ID, enabled)
		}

	case "request_baseline":
		cs.ResetBaseline()
		if DebugMode {
			log.Printf("DEBUG: Client %s requested baseline reset", cs.ID)
		}

	default:
		log.Printf("Warning: unknown message type %q from client %s", msg.Type, cs.ID)
	}
}
