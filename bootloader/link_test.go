package bootloader

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/moffa90/go-stmisp/protocol"
)

// scriptChannel replays canned response bytes and records what is written.
type scriptChannel struct {
	written   bytes.Buffer
	responses []byte
	writeErr  error
	parity    bool
	flushes   int

	// onWrite, if set, produces the response to each write
	onWrite func(p []byte) []byte
}

func (c *scriptChannel) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.written.Write(p)
	if c.onWrite != nil {
		c.responses = append(c.responses, c.onWrite(p)...)
	}
	return len(p), nil
}

func (c *scriptChannel) ReadByte() (byte, error) {
	if len(c.responses) == 0 {
		return 0, errors.New("read timeout")
	}
	b := c.responses[0]
	c.responses = c.responses[1:]
	return b, nil
}

func (c *scriptChannel) Available() bool { return len(c.responses) > 0 }

func (c *scriptChannel) Flush() error {
	c.flushes++
	c.responses = nil
	return nil
}

func (c *scriptChannel) SetEvenParity() error {
	c.parity = true
	return nil
}

// checksumDevice ACKs every write that carries a valid checksum and NACKs the rest.
func checksumDevice(p []byte) []byte {
	if protocol.ValidFrame(p) {
		return []byte{protocol.Ack}
	}
	return []byte{protocol.Nack}
}

func testLink(ch Channel, opts ...Option) *Link {
	return NewLink(ch, append([]Option{WithPollInterval(0), WithAckRetries(3, 5)}, opts...)...)
}

func TestWaitAck(t *testing.T) {
	tests := []struct {
		name      string
		responses []byte
		wantErr   error
		wantLeft  int
	}{
		{name: "ack", responses: []byte{protocol.Ack}, wantErr: nil},
		{name: "nack", responses: []byte{protocol.Nack}, wantErr: protocol.ErrNack},
		{name: "garbage fails fast", responses: []byte{0x55, protocol.Ack}, wantErr: protocol.ErrNack, wantLeft: 1},
		{name: "nothing received", responses: nil, wantErr: protocol.ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &scriptChannel{responses: append([]byte(nil), tt.responses...)}
			err := testLink(ch).WaitAck(context.Background(), 5)

			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			} else if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}

			if len(ch.responses) != tt.wantLeft {
				t.Errorf("%d bytes left unread, want %d", len(ch.responses), tt.wantLeft)
			}
		})
	}
}

func TestWaitAckUnexpectedResponse(t *testing.T) {
	ch := &scriptChannel{responses: []byte{0xA5}}
	err := testLink(ch).WaitAck(context.Background(), 1)

	var unexpected *protocol.UnexpectedResponseError
	if !errors.As(err, &unexpected) {
		t.Fatalf("error = %v, want UnexpectedResponseError", err)
	}
	if unexpected.Response != 0xA5 {
		t.Errorf("Response = 0x%02X, want 0xA5", unexpected.Response)
	}
}

func TestWaitAckPollBudget(t *testing.T) {
	ch := &scriptChannel{}
	link := NewLink(ch, WithPollInterval(time.Millisecond))

	start := time.Now()
	err := link.WaitAck(context.Background(), 10)
	elapsed := time.Since(start)

	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if elapsed < 10*time.Millisecond {
		t.Errorf("WaitAck returned after %v, want at least 10 polls of 1ms", elapsed)
	}
}

func TestWaitAckContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := testLink(&scriptChannel{}).WaitAck(ctx, 1000)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestProbe(t *testing.T) {
	ch := &scriptChannel{responses: []byte{protocol.Ack}}

	if err := testLink(ch).Probe(context.Background()); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if !bytes.Equal(ch.written.Bytes(), []byte{protocol.Probe}) {
		t.Errorf("written = % X, want 7F", ch.written.Bytes())
	}
}

func TestCommand(t *testing.T) {
	tests := []struct {
		opcode byte
		want   []byte
	}{
		{protocol.CmdGet, []byte{0x00, 0xFF}},
		{protocol.CmdGetID, []byte{0x02, 0xFD}},
		{protocol.CmdReadMemory, []byte{0x11, 0xEE}},
		{protocol.CmdGo, []byte{0x21, 0xDE}},
		{protocol.CmdWriteMemory, []byte{0x31, 0xCE}},
		{protocol.CmdExtendedErase, []byte{0x44, 0xBB}},
		{protocol.CmdReadoutUnprotect, []byte{0x92, 0x6D}},
	}

	for _, tt := range tests {
		ch := &scriptChannel{onWrite: checksumDevice}
		if err := testLink(ch).Command(context.Background(), tt.opcode); err != nil {
			t.Errorf("Command(0x%02X) error = %v", tt.opcode, err)
		}
		if !bytes.Equal(ch.written.Bytes(), tt.want) {
			t.Errorf("Command(0x%02X) wrote % X, want % X", tt.opcode, ch.written.Bytes(), tt.want)
		}
	}
}

func TestSendCommandRetries(t *testing.T) {
	nacks := 2
	ch := &scriptChannel{onWrite: func(p []byte) []byte {
		if nacks > 0 {
			nacks--
			return []byte{protocol.Nack}
		}
		return []byte{protocol.Ack}
	}}

	if err := testLink(ch).SendCommand(context.Background(), protocol.CmdGet); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if ch.written.Len() != 6 {
		t.Errorf("wrote %d bytes, want 3 command selections", ch.written.Len())
	}
}

func TestSendCommandExhausted(t *testing.T) {
	ch := &scriptChannel{onWrite: func([]byte) []byte { return []byte{protocol.Nack} }}

	err := testLink(ch, WithCommandAttempts(4)).SendCommand(context.Background(), protocol.CmdErase)

	var perr *protocol.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want ProtocolError", err)
	}
	if perr.Operation != "command 0x43" {
		t.Errorf("Operation = %q, want command 0x43", perr.Operation)
	}
	if !protocol.IsNack(err) {
		t.Errorf("error %v should be a NACK", err)
	}
	if ch.written.Len() != 8 {
		t.Errorf("wrote %d bytes, want 4 attempts", ch.written.Len())
	}
}

func TestSendFrameChecksumAlwaysAccepted(t *testing.T) {
	ch := &scriptChannel{onWrite: checksumDevice}
	link := testLink(ch)

	for n := 1; n <= protocol.MaxTransferSize+1; n++ {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i*37 + n)
		}

		if err := link.SendFrame(context.Background(), payload); err != nil {
			t.Fatalf("SendFrame(len=%d) error = %v", n, err)
		}
	}
}

func TestSendFrameSingleByteRule(t *testing.T) {
	ch := &scriptChannel{onWrite: checksumDevice}

	if err := testLink(ch).SendFrame(context.Background(), []byte{0x01}); err != nil {
		t.Fatalf("SendFrame() error = %v", err)
	}
	if !bytes.Equal(ch.written.Bytes(), []byte{0x01, 0xFE}) {
		t.Errorf("written = % X, want 01 FE", ch.written.Bytes())
	}
}

func TestSendFrameEmpty(t *testing.T) {
	if err := testLink(&scriptChannel{}).SendFrame(context.Background(), nil); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestLinkWriteError(t *testing.T) {
	errWrite := errors.New("write failed")
	ch := &scriptChannel{writeErr: errWrite}

	if err := testLink(ch).Probe(context.Background()); !errors.Is(err, errWrite) {
		t.Errorf("Probe() error = %v, want %v", err, errWrite)
	}
	if err := testLink(ch).SendFrame(context.Background(), []byte{1, 2}); !errors.Is(err, errWrite) {
		t.Errorf("SendFrame() error = %v, want %v", err, errWrite)
	}
}

func TestReadBytes(t *testing.T) {
	ch := &scriptChannel{responses: []byte{0x04, 0x10, 0x79}}
	link := testLink(ch)

	got, err := link.ReadBytes(2)
	if err != nil {
		t.Fatalf("ReadBytes() error = %v", err)
	}
	if !bytes.Equal(got, []byte{0x04, 0x10}) {
		t.Errorf("ReadBytes() = % X", got)
	}

	b, err := link.ReadByte()
	if err != nil || b != 0x79 {
		t.Errorf("ReadByte() = 0x%02X, %v", b, err)
	}

	if _, err := link.ReadBytes(1); err == nil {
		t.Error("expected error reading past the responses")
	}
}

func TestNewLinkNilPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil channel")
		}
	}()
	NewLink(nil)
}
