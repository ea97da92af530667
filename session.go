package main

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outbound frames queue up here per client; the connection's writer goroutine
// drains it. Sends are non-blocking, so a stalled client drops frames instead
// of holding up the broadcast.
const clientSendBufferSize = 30

// ClientSession tracks one connected WebSocket client: its outbound queue and
// its delta-encoding state. The settings and baseline are mutated only by the
// client's own control handler and the broadcast step addressed to it, both
// under mu.
type ClientSession struct {
	ID         string
	RemoteAddr string
	CreatedAt  time.Time

	SendChan chan []byte
	Done     chan struct{}

	mu                      sync.Mutex
	deltaEnabled            bool
	deltaThresholdDB        float64
	baselineRefreshInterval time.Duration
	lastBaselineTime        time.Time
	baseline                []SweepPoint // nil until the first full sweep is sent
}

// SetDeltaEncoding toggles delta encoding. Takes effect on the next sweep.
func (cs *ClientSession) SetDeltaEncoding(enabled bool) {
	cs.mu.Lock()
	cs.deltaEnabled = enabled
	cs.mu.Unlock()
}

// DeltaEncodingEnabled reports the client's current encoding preference.
func (cs *ClientSession) DeltaEncodingEnabled() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.deltaEnabled
}

// ResetBaseline clears the stored baseline so the next sweep goes out full.
func (cs *ClientSession) ResetBaseline() {
	cs.mu.Lock()
	cs.baseline = nil
	cs.mu.Unlock()
}

// SessionManager owns the client session registry. Creation and removal are
// serialized against broadcast iteration by the registry lock plus each
// session's Done channel.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*ClientSession
	config   *Config
	metrics  *PrometheusMetrics
}

// NewSessionManager creates a session manager.
func NewSessionManager(config *Config, metrics *PrometheusMetrics) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*ClientSession),
		config:   config,
		metrics:  metrics,
	}
}

// CreateSession registers a new client session with default encoding settings.
func (sm *SessionManager) CreateSession(remoteAddr string) *ClientSession {
	cs := &ClientSession{
		ID:                      uuid.New().String(),
		RemoteAddr:              remoteAddr,
		CreatedAt:               time.Now(),
		SendChan:                make(chan []byte, clientSendBufferSize),
		Done:                    make(chan struct{}),
		deltaThresholdDB:        sm.config.Spectrum.DeltaThresholdDB,
		baselineRefreshInterval: time.Duration(sm.config.Spectrum.BaselineRefreshSec) * time.Second,
	}

	sm.mu.Lock()
	sm.sessions[cs.ID] = cs
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordClientConnect()
	}

	log.Printf("Client session created: %s (%s)", cs.ID, remoteAddr)
	return cs
}

// DestroySession removes a session from the registry and closes its Done
// channel, so in-progress broadcast iterations stop addressing it. The
// baseline goes with the session.
func (sm *SessionManager) DestroySession(sessionID string) {
	sm.mu.Lock()
	cs, ok := sm.sessions[sessionID]
	if ok {
		delete(sm.sessions, sessionID)
	}
	sm.mu.Unlock()

	if !ok {
		return
	}

	close(cs.Done)

	if sm.metrics != nil {
		sm.metrics.RecordClientDisconnect()
	}

	log.Printf("Client session destroyed: %s (%s)", cs.ID, cs.RemoteAddr)
}

// GetSession looks up a session by ID.
func (sm *SessionManager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	cs, ok := sm.sessions[sessionID]
	return cs, ok
}

// Snapshot returns the sessions registered at the time of the call. A client
// created after the snapshot is picked up by the next broadcast; a client
// destroyed after it is skipped via its Done channel.
func (sm *SessionManager) Snapshot() []*ClientSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]*ClientSession, 0, len(sm.sessions))
	for _, cs := range sm.sessions {
		sessions = append(sessions, cs)
	}
	return sessions
}

// Count returns the number of registered sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Shutdown destroys every remaining session.
func (sm *SessionManager) Shutdown() {
	for _, cs := range sm.Snapshot() {
		sm.DestroySession(cs.ID)
	}
}
