package main

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// SweepMessage is the full sweep envelope. Encoding/Baseline are set only when
// the sweep doubles as a fresh baseline for a delta-enabled client.
type SweepMessage struct {
	Type      string       `json:"type"`
	Timestamp int64        `json:"timestamp"`
	Config    SweepConfig  `json:"config"`
	Data      []SweepPoint `json:"data"`
	Encoding  string       `json:"encoding,omitempty"`
	Baseline  bool         `json:"baseline,omitempty"`
}

// ConfigMessage reports the device sweep configuration to clients.
type ConfigMessage struct {
	Type   string      `json:"type"`
	Config SweepConfig `json:"config"`
}

// Bridge owns the device poll loop: it drains bytes from the RF Explorer,
// decodes frames, and routes each one to every connected client with that
// client's own encoding. Delivery is fire-and-forget; a slow or failing
// client never affects the others.
type Bridge struct {
	rf       *RFExplorerController
	sessions *SessionManager
	encoder  *DeltaEncoder
	mqtt     *MQTTPublisher // nil when disabled
	metrics  *PrometheusMetrics

	pollInterval time.Duration
	stopChan     chan struct{}
	wg           sync.WaitGroup
	running      bool
}

// NewBridge creates the bridge poll loop.
func NewBridge(rf *RFExplorerController, sessions *SessionManager, mqtt *MQTTPublisher, metrics *PrometheusMetrics, config *Config) *Bridge {
	return &Bridge{
		rf:           rf,
		sessions:     sessions,
		encoder:      NewDeltaEncoder(),
		mqtt:         mqtt,
		metrics:      metrics,
		pollInterval: time.Duration(config.Serial.PollPeriodMs) * time.Millisecond,
		stopChan:     make(chan struct{}),
	}
}

// Start begins polling the device.
func (b *Bridge) Start() {
	b.running = true
	b.wg.Add(1)
	go b.pollLoop()
	log.Printf("Bridge poll loop started (interval: %v)", b.pollInterval)
}

// Stop signals the poll loop and waits for it to exit. No frames are emitted
// after Stop returns.
func (b *Bridge) Stop() {
	if !b.running {
		return
	}
	b.running = false

	close(b.stopChan)
	b.wg.Wait()

	log.Println("Bridge stopped")
}

// pollLoop is the single task owning device I/O and frame production. The
// fixed idle delay bounds CPU usage without starving responsiveness.
func (b *Bridge) pollLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			frames, err := b.rf.ReadFrames()
			if err != nil {
				// Abort this cycle; the next tick retries. Reconnection is
				// an operator concern, not the bridge's.
				log.Printf("ERROR: %v", err)
				if b.metrics != nil {
					b.metrics.RecordSerialReadError()
				}
				continue
			}

			for _, frame := range frames {
				if b.metrics != nil {
					switch frame.(type) {
					case SweepFrame:
						b.metrics.RecordFrameParsed("sweep")
					case ConfigFrame:
						b.metrics.RecordFrameParsed("config")
					}
				}
				b.Broadcast(frame)
			}
		}
	}
}

// Broadcast delivers one decoded frame to every registered client,
// independently encoded per that client's settings as they stand right now.
func (b *Bridge) Broadcast(frame Frame) {
	for _, cs := range b.sessions.Snapshot() {
		b.dispatch(cs, frame)
	}

	if b.mqtt != nil {
		b.mqtt.PublishFrame(frame)
	}
}

// dispatch encodes and queues one frame for one client. Only sweep frames are
// eligible for delta encoding; config frames always go out in full.
func (b *Bridge) dispatch(cs *ClientSession, frame Frame) {
	var msg interface{}
	encoding := "full"

	switch f := frame.(type) {
	case SweepFrame:
		if cs.DeltaEncodingEnabled() {
			msg = b.encoder.EncodeSweep(cs, f)
			if _, ok := msg.(DeltaSweepMessage); ok {
				encoding = "delta"
			}
		} else {
			msg = SweepMessage{
				Type:      "sweep",
				Timestamp: f.Timestamp,
				Config:    f.Config,
				Data:      f.Points,
			}
		}
	case ConfigFrame:
		msg = ConfigMessage{Type: "config", Config: f.Config}
	default:
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("ERROR: Failed to encode frame for client %s: %v", cs.ID, err)
		if b.metrics != nil {
			b.metrics.RecordBroadcastError()
		}
		return
	}

	// A session destroyed mid-iteration must not receive a dispatch.
	select {
	case <-cs.Done:
		return
	default:
	}

	select {
	case cs.SendChan <- payload:
		if b.metrics != nil {
			if _, ok := frame.(SweepFrame); ok {
				b.metrics.RecordSweepSent(encoding)
			}
		}
	default:
		// Writer saturated: drop the frame rather than block the poll loop.
		if b.metrics != nil {
			b.metrics.RecordFrameDropped()
		}
	}
}
