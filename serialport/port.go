// Package serialport connects the bootloader session to a real UART through
// go.bug.st/serial.
//
// Port implements bootloader.Channel. It opens the line as 8N1 and switches
// to 8E1 when the session asks for even parity. Available is a short timed
// read whose byte is kept for the following ReadByte.
//
// Boards wired the usual way (DTR to nRST, RTS to BOOT0) can be put into the
// bootloader without touching the jumpers:
//
//	port, err := serialport.Open("/dev/ttyUSB0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	if err := port.ResetIntoBootloader(); err != nil {
//	    log.Fatal(err)
//	}
package serialport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// ErrReadTimeout is returned by ReadByte when no byte arrived in time.
var ErrReadTimeout = errors.New("serial read timeout")

// device is the part of serial.Port used by Port.
type device interface {
	io.ReadWriteCloser
	SetMode(mode *serial.Mode) error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
}

// Port is a serial line to an STM32 bootloader.
//
// Port is not safe for concurrent use.
type Port struct {
	dev    device
	name   string
	mode   serial.Mode
	config Config

	buf     [1]byte
	peeked  bool
	pending error
}

// Open opens the named serial port as 8N1 at the configured baud rate.
//
// Example:
//
//	port, err := serialport.Open("COM3", serialport.WithBaudRate(57600))
func Open(name string, opts ...Option) (*Port, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	mode := serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	sp, err := serial.Open(name, &mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", name, err)
	}

	p, err := newPort(sp, name, mode, cfg)
	if err != nil {
		_ = sp.Close()
		return nil, err
	}
	return p, nil
}

func newPort(dev device, name string, mode serial.Mode, cfg Config) (*Port, error) {
	if err := dev.SetReadTimeout(cfg.PollTimeout); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return &Port{dev: dev, name: name, mode: mode, config: cfg}, nil
}

// List returns the names of the serial ports present on the system.
func List() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	return ports, nil
}

// Name returns the port name passed to Open.
func (p *Port) Name() string {
	return p.name
}

// Write sends p to the device.
func (p *Port) Write(b []byte) (int, error) {
	return p.dev.Write(b)
}

// Available waits up to PollTimeout for a byte. A byte received is kept for
// the next ReadByte; a read error is reported by that ReadByte.
func (p *Port) Available() bool {
	if p.peeked || p.pending != nil {
		return true
	}

	n, err := p.dev.Read(p.buf[:])
	if err != nil {
		p.pending = err
		return true
	}
	if n == 1 {
		p.peeked = true
	}
	return p.peeked
}

// ReadByte returns the next byte, waiting up to ReadTimeout.
func (p *Port) ReadByte() (byte, error) {
	if p.peeked {
		p.peeked = false
		return p.buf[0], nil
	}
	if err := p.pending; err != nil {
		p.pending = nil
		return 0, fmt.Errorf("read %s: %w", p.name, err)
	}

	deadline := time.Now().Add(p.config.ReadTimeout)
	for {
		n, err := p.dev.Read(p.buf[:])
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", p.name, err)
		}
		if n == 1 {
			return p.buf[0], nil
		}
		if !time.Now().Before(deadline) {
			return 0, ErrReadTimeout
		}
	}
}

// Flush discards everything received and not yet sent.
func (p *Port) Flush() error {
	p.peeked = false
	p.pending = nil

	if err := p.dev.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input buffer: %w", err)
	}
	if err := p.dev.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("reset output buffer: %w", err)
	}
	return nil
}

// SetEvenParity switches the line to 8E1, the framing the bootloader uses.
func (p *Port) SetEvenParity() error {
	mode := p.mode
	mode.DataBits = 8
	mode.Parity = serial.EvenParity

	if err := p.dev.SetMode(&mode); err != nil {
		return fmt.Errorf("set even parity: %w", err)
	}
	p.mode = mode
	return nil
}

// ResetIntoBootloader drives BOOT0 high through RTS and pulses nRST through
// DTR, so the part starts in system memory.
func (p *Port) ResetIntoBootloader() error {
	return p.reset(true)
}

// ResetToApplication pulses nRST with BOOT0 low, starting the user firmware.
func (p *Port) ResetToApplication() error {
	return p.reset(false)
}

// reset asserts a signal by driving the line true, or false when inverted.
func (p *Port) reset(boot0 bool) error {
	level := func(asserted bool) bool {
		return asserted != p.config.InvertSignals
	}

	if err := p.dev.SetRTS(level(boot0)); err != nil {
		return fmt.Errorf("set BOOT0: %w", err)
	}
	if err := p.dev.SetDTR(level(true)); err != nil {
		return fmt.Errorf("assert reset: %w", err)
	}
	time.Sleep(p.config.ResetHold)

	if err := p.dev.SetDTR(level(false)); err != nil {
		return fmt.Errorf("release reset: %w", err)
	}
	time.Sleep(p.config.BootDelay)

	return p.Flush()
}

// Close releases the port.
func (p *Port) Close() error {
	return p.dev.Close()
}
