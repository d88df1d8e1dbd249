package bootloader

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/moffa90/go-stmisp/protocol"
)

// Channel is the duplex byte stream to the bootloader, usually a UART.
// *serialport.Port implements it.
type Channel interface {
	io.Writer

	// ReadByte returns the next received byte, blocking up to the channel timeout
	ReadByte() (byte, error)

	// Available reports whether a received byte is ready
	Available() bool

	// Flush discards buffered input and output
	Flush() error

	// SetEvenParity switches the line to 8E1 as the bootloader requires
	SetEvenParity() error
}

// Link performs the byte level AN3155 exchange over a Channel:
// command selection, checksummed frames and ACK handling.
//
// Link is not safe for concurrent use.
type Link struct {
	ch     Channel
	config Config
}

// NewLink creates a Link over ch. Only the timing and retry options apply.
//
// Example:
//
//	link := bootloader.NewLink(port, bootloader.WithPollInterval(time.Millisecond))
//	if err := link.Probe(ctx); err != nil {
//	    log.Fatal(err)
//	}
func NewLink(ch Channel, opts ...Option) *Link {
	if ch == nil {
		panic("channel cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return newLink(ch, cfg)
}

func newLink(ch Channel, cfg Config) *Link {
	return &Link{ch: ch, config: cfg}
}

// WaitAck polls the channel up to retries times for a response byte.
// Returns nil on ACK, protocol.ErrNack on NACK, *protocol.UnexpectedResponseError
// on any other byte and protocol.ErrTimeout when nothing arrived.
// It never retries on its own; callers redo the whole exchange.
func (l *Link) WaitAck(ctx context.Context, retries int) error {
	for i := 0; i < retries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if l.ch.Available() {
			b, err := l.ch.ReadByte()
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			return protocol.ParseAck(b)
		}

		if l.config.PollInterval > 0 {
			time.Sleep(l.config.PollInterval)
		}
	}

	return protocol.ErrTimeout
}

// Probe sends the 0x7F synchronisation byte and waits with the short budget.
func (l *Link) Probe(ctx context.Context) error {
	if err := l.write([]byte{protocol.Probe}); err != nil {
		return err
	}
	return l.WaitAck(ctx, l.config.ShortAckRetries)
}

// Command selects opcode once: writes the opcode and its complement and waits
// for the ACK with the long budget.
func (l *Link) Command(ctx context.Context, opcode byte) error {
	if err := l.write(protocol.BuildCommandFrame(opcode)); err != nil {
		return err
	}
	return l.WaitAck(ctx, l.config.LongAckRetries)
}

// SendCommand selects opcode, re-sending the selection until it is ACKed or
// CommandAttempts is exhausted.
func (l *Link) SendCommand(ctx context.Context, opcode byte) error {
	var err error
	for attempt := 1; l.config.CommandAttempts == 0 || attempt <= l.config.CommandAttempts; attempt++ {
		if err = l.Command(ctx, opcode); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}

	return &protocol.ProtocolError{
		Operation: fmt.Sprintf("command 0x%02X", opcode),
		Err:       err,
	}
}

// SendFrame writes payload followed by its checksum and waits for the ACK
// with the long budget.
func (l *Link) SendFrame(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("frame payload cannot be empty")
	}
	if err := l.write(protocol.BuildFrame(payload)); err != nil {
		return err
	}
	return l.WaitAck(ctx, l.config.LongAckRetries)
}

// ReadByte reads one response byte.
func (l *Link) ReadByte() (byte, error) {
	return l.ch.ReadByte()
}

// ReadBytes reads n response bytes.
func (l *Link) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	for i := range buf {
		b, err := l.ch.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read byte %d of %d: %w", i+1, n, err)
		}
		buf[i] = b
	}
	return buf, nil
}

func (l *Link) write(p []byte) error {
	if _, err := l.ch.Write(p); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
