package main

import (
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ByteTransport is the raw device byte stream the bridge reads and writes.
// *serialTransport implements it; tests substitute an in-memory fake.
type ByteTransport interface {
	// ReadAvailable returns whatever bytes the device has produced since the
	// last call. It must not block the poll loop; an empty result is normal.
	ReadAvailable() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// serialTransport adapts a serial port to ByteTransport.
type serialTransport struct {
	port serial.Port
	buf  []byte
}

// openSerialTransport opens the RF Explorer serial port (8N1).
func openSerialTransport(portName string, baudRate int) (*serialTransport, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	// A short read timeout keeps ReadAvailable from stalling the poll loop.
	if err := port.SetReadTimeout(10 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &serialTransport{port: port, buf: make([]byte, 4096)}, nil
}

func (st *serialTransport) ReadAvailable() ([]byte, error) {
	n, err := st.port.Read(st.buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Read timeout, no data pending
		return nil, nil
	}
	data := make([]byte, n)
	copy(data, st.buf[:n])
	return data, nil
}

func (st *serialTransport) Write(data []byte) error {
	_, err := st.port.Write(data)
	return err
}

func (st *serialTransport) Close() error {
	return st.port.Close()
}

// RFExplorerController manages communication with an RF Explorer device.
// It owns the shared sweep configuration and the frame parser; all access to
// both goes through its mutex, so config mutations never interleave with a
// parse in progress.
type RFExplorerController struct {
	transport ByteTransport
	config    SweepConfig
	parser    *FrameParser
	mu        sync.Mutex
	cmdMu     sync.Mutex // serializes outbound command writes
}

// NewRFExplorerController creates a controller with the given initial config.
func NewRFExplorerController(transport ByteTransport, config SweepConfig) *RFExplorerController {
	rc := &RFExplorerController{
		transport: transport,
		config:    config,
	}
	rc.parser = NewFrameParser(&rc.config)
	return rc
}

// SendCommand sends an ASCII command to the device, CRLF terminated.
func (rc *RFExplorerController) SendCommand(cmd string) error {
	rc.cmdMu.Lock()
	defer rc.cmdMu.Unlock()

	if err := rc.transport.Write([]byte(cmd + "\r\n")); err != nil {
		return fmt.Errorf("failed to send command %q: %w", cmd, err)
	}
	if DebugMode {
		log.Printf("DEBUG: Sent command: %s", cmd)
	}
	return nil
}

// RequestConfig asks the device to report its current configuration.
func (rc *RFExplorerController) RequestConfig() error {
	return rc.SendCommand("#0C0")
}

// StartSweep puts the device into continuous sweep mode.
func (rc *RFExplorerController) StartSweep() error {
	return rc.SendCommand("#0C3")
}

// StopSweep holds the device.
func (rc *RFExplorerController) StopSweep() error {
	return rc.SendCommand("#0CH")
}

// SetFrequencyRange commands a new sweep range and optimistically updates the
// shared configuration. The device re-asserts the authoritative values via a
// subsequent config frame, so a rejected command self-corrects.
func (rc *RFExplorerController) SetFrequencyRange(startMHz, endMHz float64) error {
	startKHz := int(startMHz * 1000)
	spanKHz := int((endMHz - startMHz) * 1000)

	cmd := fmt.Sprintf("#0C2-F:%07d,%07d", startKHz, spanKHz)
	if err := rc.SendCommand(cmd); err != nil {
		return err
	}

	rc.mu.Lock()
	rc.config.StartFreqMHz = startMHz
	rc.config.EndFreqMHz = endMHz
	rc.mu.Unlock()

	return nil
}

// ReadFrames drains available bytes from the device and returns the complete
// frames decoded so far. Partial frames stay buffered in the parser.
func (rc *RFExplorerController) ReadFrames() ([]Frame, error) {
	data, err := rc.transport.ReadAvailable()
	if err != nil {
		return nil, fmt.Errorf("serial read error: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	rc.mu.Lock()
	frames := rc.parser.Feed(data)
	rc.mu.Unlock()

	return frames, nil
}

// Config returns a snapshot of the current sweep configuration.
func (rc *RFExplorerController) Config() SweepConfig {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.config
}

// Close releases the underlying transport.
func (rc *RFExplorerController) Close() error {
	return rc.transport.Close()
}
