package main

import (
	"math"
	"time"
)

// DeltaPoint is one changed sweep point. Frequency rides along so consumers
// can validate the index mapping.
type DeltaPoint struct {
	Index     int     `json:"index"`
	Frequency float64 `json:"frequency"`
	Amplitude float64 `json:"amplitude"`
}

// DeltaSweepMessage is the sparse sweep envelope sent to delta-enabled clients
// once they hold a baseline.
type DeltaSweepMessage struct {
	Type      string       `json:"type"`
	Timestamp int64        `json:"timestamp"`
	Config    SweepConfig  `json:"config"`
	Encoding  string       `json:"encoding"`
	Deltas    []DeltaPoint `json:"deltas"`
	// BaselineAge is seconds since this client's baseline was last replaced.
	BaselineAge float64 `json:"baseline_age"`
	// CompressionRatio is a diagnostic estimate (fixed assumed byte costs per
	// point), not a measured wire size.
	CompressionRatio float64 `json:"compression_ratio"`
}

// Assumed per-point wire costs for the compression ratio estimate.
const (
	fullPointCostBytes  = 16
	deltaPointCostBytes = 20
)

// DeltaEncoder converts full sweeps into per-client full or delta updates.
// It mutates only the session it is handed, never any other client's state.
type DeltaEncoder struct {
	now func() time.Time
}

// NewDeltaEncoder creates a delta encoder.
func NewDeltaEncoder() *DeltaEncoder {
	return &DeltaEncoder{now: time.Now}
}

// EncodeSweep returns the outbound message for one delta-enabled client and
// updates that client's baseline accordingly. The full sweep goes out (and
// becomes the new baseline) when the client has none stored or the baseline
// refresh interval has elapsed; otherwise only points whose amplitude moved
// by at least the client's threshold are included.
func (de *DeltaEncoder) EncodeSweep(cs *ClientSession, frame SweepFrame) interface{} {
	now := de.now()

	cs.mu.Lock()
	defer cs.mu.Unlock()

	needsBaseline := cs.baseline == nil ||
		now.Sub(cs.lastBaselineTime) > cs.baselineRefreshInterval

	if needsBaseline {
		cs.baseline = make([]SweepPoint, len(frame.Points))
		copy(cs.baseline, frame.Points)
		cs.lastBaselineTime = now

		return SweepMessage{
			Type:      "sweep",
			Timestamp: frame.Timestamp,
			Config:    frame.Config,
			Data:      frame.Points,
			Encoding:  "full",
			Baseline:  true,
		}
	}

	deltas := make([]DeltaPoint, 0, len(frame.Points)/8)
	for i, pt := range frame.Points {
		if i >= len(cs.baseline) {
			// Appended point, no baseline entry: unconditionally changed.
			deltas = append(deltas, DeltaPoint{Index: i, Frequency: pt.Frequency, Amplitude: pt.Amplitude})
			continue
		}
		diff := math.Abs(pt.Amplitude - cs.baseline[i].Amplitude)
		if diff != 0 && diff >= cs.deltaThresholdDB {
			deltas = append(deltas, DeltaPoint{Index: i, Frequency: pt.Frequency, Amplitude: pt.Amplitude})
		}
	}

	// Update only the touched indices. Untouched entries keep their stale
	// values, so sub-threshold jitter cannot accumulate into unreported drift.
	for _, d := range deltas {
		pt := SweepPoint{Frequency: d.Frequency, Amplitude: d.Amplitude}
		if d.Index < len(cs.baseline) {
			cs.baseline[d.Index] = pt
		} else {
			cs.baseline = append(cs.baseline, pt)
		}
	}

	ratio := 0.0
	if total := len(frame.Points); total > 0 {
		ratio = 1.0 - float64(len(deltas)*deltaPointCostBytes)/float64(total*fullPointCostBytes)
	}

	return DeltaSweepMessage{
		Type:             "sweep",
		Timestamp:        frame.Timestamp,
		Config:           frame.Config,
		Encoding:         "delta",
		Deltas:           deltas,
		BaselineAge:      now.Sub(cs.lastBaselineTime).Seconds(),
		CompressionRatio: ratio,
	}
}
