package main

import (
	"bytes"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"
)

// SweepConfig is the frequency sweep configuration reported by the RF Explorer.
// There is one live copy, owned by the device controller; both incoming config
// frames and outgoing frequency-set commands write to it (last writer wins).
type SweepConfig struct {
	StartFreqMHz float64 `json:"start_freq_mhz"`
	EndFreqMHz   float64 `json:"end_freq_mhz"`
	Steps        int     `json:"steps"`
	RBWKHz       float64 `json:"rbw_khz"`
}

// SweepPoint is a single decoded sweep sample.
type SweepPoint struct {
	Frequency float64 `json:"frequency"` // MHz
	Amplitude float64 `json:"amplitude"` // dBm
}

// Frame is one complete protocol-delimited unit extracted from the byte stream.
type Frame interface {
	isFrame()
}

// SweepFrame carries one scan across the configured frequency range.
type SweepFrame struct {
	Timestamp int64 // Unix milliseconds
	Config    SweepConfig
	Points    []SweepPoint
}

// ConfigFrame carries a device configuration report. It is emitted even when
// the payload failed to parse, so consumers always see the current config.
type ConfigFrame struct {
	Config SweepConfig
}

func (SweepFrame) isFrame()  {}
func (ConfigFrame) isFrame() {}

const (
	frameMarker = '$'
	sweepTag    = 'S'
	configTag   = 'C'

	// Config payloads are ASCII lines. If no CR/LF shows up within this many
	// bytes of the frame start, the stream is malformed; split it at a fixed
	// offset so parsing can never stall.
	configLookahead   = 100
	configForcedSplit = 50
)

// FrameParser extracts frames from the RF Explorer byte stream. It keeps any
// trailing partial frame buffered between Feed calls, so splitting the same
// input differently across calls always yields the same frame sequence.
//
// Not safe for concurrent use; the device controller serializes access.
type FrameParser struct {
	config *SweepConfig
	buf    []byte
	cursor int // read offset into buf, compacted after each Feed
	now    func() time.Time
}

// NewFrameParser creates a parser that reads and updates the given config.
func NewFrameParser(config *SweepConfig) *FrameParser {
	return &FrameParser{config: config, now: time.Now}
}

// Feed appends newly received bytes and returns every complete frame that can
// be decoded. Unknown-tag bytes are skipped silently; a buffer with no marker
// byte at all is discarded wholesale.
func (p *FrameParser) Feed(data []byte) []Frame {
	p.buf = append(p.buf, data...)

	var frames []Frame
	for {
		frame, ok := p.next()
		if !ok {
			break
		}
		if frame != nil {
			frames = append(frames, frame)
		}
	}

	// Compact consumed bytes so the buffer only holds the partial tail.
	if p.cursor > 0 {
		p.buf = append(p.buf[:0], p.buf[p.cursor:]...)
		p.cursor = 0
	}

	return frames
}

// next attempts to extract one frame at the cursor. ok is false when no
// further progress is possible without more data. A nil frame with ok=true
// means a byte was skipped (unknown tag) and scanning should continue.
func (p *FrameParser) next() (Frame, bool) {
	rem := p.buf[p.cursor:]

	idx := bytes.IndexByte(rem, frameMarker)
	if idx < 0 {
		// No marker anywhere: nothing in the buffer can be trusted.
		p.cursor = len(p.buf)
		return nil, false
	}
	p.cursor += idx
	rem = p.buf[p.cursor:]

	if len(rem) < 3 {
		return nil, false
	}

	switch rem[1] {
	case sweepTag:
		return p.parseSweep(rem)
	case configTag:
		return p.parseConfig(rem)
	default:
		// Unknown tag: drop exactly one byte and keep scanning. This is
		// ambiguous when a real marker sits one position later, but it
		// guarantees forward progress.
		p.cursor++
		return nil, true
	}
}

// parseSweep decodes a sweep frame: marker, tag, sample count, N amplitude
// codes, one terminator byte. Each raw code maps to -raw/2.0 dBm.
func (p *FrameParser) parseSweep(rem []byte) (Frame, bool) {
	count := int(rem[2])
	total := 3 + count + 1
	if len(rem) < total {
		return nil, false
	}

	cfg := *p.config
	step := 0.0
	if count > 1 {
		step = (cfg.EndFreqMHz - cfg.StartFreqMHz) / float64(count-1)
	}

	points := make([]SweepPoint, count)
	for i := 0; i < count; i++ {
		raw := rem[3+i]
		points[i] = SweepPoint{
			Frequency: round3(cfg.StartFreqMHz + float64(i)*step),
			Amplitude: round1(-float64(raw) / 2.0),
		}
	}

	p.cursor += total
	return SweepFrame{
		Timestamp: p.now().UnixMilli(),
		Config:    cfg,
		Points:    points,
	}, true
}

// parseConfig decodes a config frame: an ASCII line terminated by CR or LF.
// A malformed payload is not an error - the frame is consumed and emitted
// anyway with the config unchanged, favouring forward progress.
func (p *FrameParser) parseConfig(rem []byte) (Frame, bool) {
	eol := -1
	limit := len(rem)
	if limit > configLookahead {
		limit = configLookahead
	}
	for i := 0; i < limit; i++ {
		if rem[i] == '\r' || rem[i] == '\n' {
			eol = i
			break
		}
	}
	if eol < 0 {
		if len(rem) < configLookahead {
			return nil, false
		}
		eol = configForcedSplit
	}

	payload := string(rem[2:eol])
	if startMHz, spanMHz, err := parseConfigPayload(payload); err != nil {
		log.Printf("Warning: config frame parse error: %v", err)
	} else {
		p.config.StartFreqMHz = startMHz
		p.config.EndFreqMHz = startMHz + spanMHz
		log.Printf("Config updated: %.3f - %.3f MHz", p.config.StartFreqMHz, p.config.EndFreqMHz)
	}

	p.cursor += eol + 1
	return ConfigFrame{Config: *p.config}, true
}

// parseConfigPayload decodes the leading fields of a config line: 7 decimal
// digits of start frequency in kHz followed by 7 digits of span in kHz.
// Format varies by firmware; trailing fields are ignored.
func parseConfigPayload(payload string) (startMHz, spanMHz float64, err error) {
	if len(payload) < 14 {
		return 0, 0, fmt.Errorf("payload too short: %d chars", len(payload))
	}
	startKHz, err := strconv.Atoi(payload[0:7])
	if err != nil {
		return 0, 0, fmt.Errorf("bad start frequency field: %w", err)
	}
	spanKHz, err := strconv.Atoi(payload[7:14])
	if err != nil {
		return 0, 0, fmt.Errorf("bad span field: %w", err)
	}
	return float64(startKHz) / 1000.0, float64(spanKHz) / 1000.0, nil
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
