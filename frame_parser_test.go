package main

import (
	"reflect"
	"testing"
	"time"
)

func testParser() *FrameParser {
	cfg := &SweepConfig{StartFreqMHz: 100.0, EndFreqMHz: 103.0, Steps: 4, RBWKHz: 600.0}
	p := NewFrameParser(cfg)
	p.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return p
}

func sweepBytes(samples ...byte) []byte {
	frame := []byte{'$', 'S', byte(len(samples))}
	frame = append(frame, samples...)
	frame = append(frame, '\n') // terminator byte, value irrelevant
	return frame
}

func TestParseSweepFrame(t *testing.T) {
	p := testParser()

	frames := p.Feed(sweepBytes(100, 101, 102, 103))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}

	sweep, ok := frames[0].(SweepFrame)
	if !ok {
		t.Fatalf("expected SweepFrame, got %T", frames[0])
	}
	if sweep.Timestamp != 1700000000000 {
		t.Errorf("timestamp = %d, want 1700000000000", sweep.Timestamp)
	}

	want := []SweepPoint{
		{Frequency: 100.0, Amplitude: -50.0},
		{Frequency: 101.0, Amplitude: -50.5},
		{Frequency: 102.0, Amplitude: -51.0},
		{Frequency: 103.0, Amplitude: -51.5},
	}
	if !reflect.DeepEqual(sweep.Points, want) {
		t.Errorf("points = %+v, want %+v", sweep.Points, want)
	}
}

func TestParseSweepSingleSample(t *testing.T) {
	p := testParser()

	frames := p.Feed(sweepBytes(80))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	sweep := frames[0].(SweepFrame)
	if len(sweep.Points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(sweep.Points))
	}
	// With a single sample the axis degenerates to the start frequency.
	if sweep.Points[0].Frequency != 100.0 {
		t.Errorf("frequency = %v, want 100.0", sweep.Points[0].Frequency)
	}
	if sweep.Points[0].Amplitude != -40.0 {
		t.Errorf("amplitude = %v, want -40.0", sweep.Points[0].Amplitude)
	}
}

func TestParseSweepEmpty(t *testing.T) {
	p := testParser()

	frames := p.Feed(sweepBytes())
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	sweep := frames[0].(SweepFrame)
	if len(sweep.Points) != 0 {
		t.Errorf("expected empty points, got %d", len(sweep.Points))
	}
}

func TestPartialSweepWaitsForMoreData(t *testing.T) {
	p := testParser()

	full := sweepBytes(100, 101, 102, 103)
	if frames := p.Feed(full[:5]); len(frames) != 0 {
		t.Fatalf("partial frame produced %d frames", len(frames))
	}
	frames := p.Feed(full[5:])
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame after completion, got %d", len(frames))
	}
}

func TestChunkSplitInvariance(t *testing.T) {
	stream := append([]byte{}, sweepBytes(100, 110, 120, 130)...)
	stream = append(stream, []byte("$C19900006000000\r")...)
	stream = append(stream, sweepBytes(90, 91, 92, 93)...)

	reference := testParser().Feed(append([]byte{}, stream...))

	for split := 1; split < len(stream); split++ {
		p := testParser()
		var frames []Frame
		frames = append(frames, p.Feed(append([]byte{}, stream[:split]...))...)
		frames = append(frames, p.Feed(append([]byte{}, stream[split:]...))...)

		if !reflect.DeepEqual(frames, reference) {
			t.Fatalf("split at %d: frames differ from unsplit parse", split)
		}
	}
}

func TestParseConfigFrame(t *testing.T) {
	p := testParser()

	// 1990000 kHz start, 600000 kHz span
	frames := p.Feed([]byte("$C19900000600000\r"))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	cfg, ok := frames[0].(ConfigFrame)
	if !ok {
		t.Fatalf("expected ConfigFrame, got %T", frames[0])
	}
	if cfg.Config.StartFreqMHz != 1990.0 {
		t.Errorf("start = %v, want 1990.0", cfg.Config.StartFreqMHz)
	}
	if cfg.Config.EndFreqMHz != 2590.0 {
		t.Errorf("end = %v, want 2590.0", cfg.Config.EndFreqMHz)
	}
}

func TestConfigUpdatesSweepAxis(t *testing.T) {
	p := testParser()

	stream := append([]byte("$C20000000040000\n"), sweepBytes(100, 100, 100, 100, 100)...)
	frames := p.Feed(stream)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	sweep := frames[1].(SweepFrame)
	if sweep.Points[0].Frequency != 2000.0 {
		t.Errorf("first frequency = %v, want 2000.0", sweep.Points[0].Frequency)
	}
	if sweep.Points[4].Frequency != 2040.0 {
		t.Errorf("last frequency = %v, want 2040.0", sweep.Points[4].Frequency)
	}
}

func TestMalformedConfigStillEmitted(t *testing.T) {
	p := testParser()
	before := *p.config

	frames := p.Feed([]byte("$Cgarbage\r"))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	cfg := frames[0].(ConfigFrame)
	if cfg.Config != before {
		t.Errorf("config changed on malformed payload: %+v", cfg.Config)
	}

	// The malformed frame must be consumed; the stream continues.
	frames = p.Feed(sweepBytes(100))
	if len(frames) != 1 {
		t.Fatalf("parser stalled after malformed config: got %d frames", len(frames))
	}
}

func TestConfigWithoutTerminatorWaits(t *testing.T) {
	p := testParser()

	if frames := p.Feed([]byte("$C1990000")); len(frames) != 0 {
		t.Fatalf("incomplete config produced %d frames", len(frames))
	}
	frames := p.Feed([]byte("0600000\r"))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame after terminator, got %d", len(frames))
	}
}

func TestConfigForcedSplitWithoutTerminator(t *testing.T) {
	p := testParser()

	// No CR/LF within the lookahead window: the line is split at a fixed
	// offset rather than buffered forever.
	data := []byte("$C")
	for i := 0; i < 110; i++ {
		data = append(data, '1')
	}
	frames := p.Feed(data)
	if len(frames) != 1 {
		t.Fatalf("expected 1 forced config frame, got %d", len(frames))
	}
	if _, ok := frames[0].(ConfigFrame); !ok {
		t.Fatalf("expected ConfigFrame, got %T", frames[0])
	}
}

func TestUnknownTagSkipped(t *testing.T) {
	p := testParser()

	stream := append([]byte("$Q"), sweepBytes(100, 101)...)
	frames := p.Feed(stream)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame past unknown tag, got %d", len(frames))
	}
	if _, ok := frames[0].(SweepFrame); !ok {
		t.Fatalf("expected SweepFrame, got %T", frames[0])
	}
}

func TestNoMarkerDiscardsBuffer(t *testing.T) {
	p := testParser()

	if frames := p.Feed([]byte("no markers here at all")); len(frames) != 0 {
		t.Fatalf("garbage produced frames")
	}
	if len(p.buf) != 0 {
		t.Errorf("buffer not discarded: %d bytes remain", len(p.buf))
	}
}

func TestUnknownTagStreamTerminates(t *testing.T) {
	p := testParser()

	// A run of markers with unknown tags must be consumed without looping.
	frames := p.Feed([]byte("$X$Y$Z$X$Y$Z"))
	if len(frames) != 0 {
		t.Fatalf("unknown tags produced %d frames", len(frames))
	}
}

func TestConfigStartPlusSpan(t *testing.T) {
	p := testParser()

	// 199000 kHz start + 401000 kHz span ends at 600.000 MHz.
	frames := p.Feed([]byte("$C01990000401000\r"))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	cfg := frames[0].(ConfigFrame).Config
	if cfg.StartFreqMHz != 199.0 || cfg.EndFreqMHz != 600.0 {
		t.Errorf("config = %.3f-%.3f MHz, want 199.000-600.000", cfg.StartFreqMHz, cfg.EndFreqMHz)
	}
}

func TestParseConfigPayload(t *testing.T) {
	start, span, err := parseConfigPayload("19900000600000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 1990.0 || span != 600.0 {
		t.Errorf("got start=%v span=%v, want 1990.0/600.0", start, span)
	}

	if _, _, err := parseConfigPayload("1990000"); err == nil {
		t.Error("expected error for short payload")
	}
	if _, _, err := parseConfigPayload("abcdefg0600000"); err == nil {
		t.Error("expected error for non-numeric start field")
	}
}
