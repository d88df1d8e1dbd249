package protocol

import (
	"encoding/binary"
	"fmt"
)

// BuildFrame appends the checksum to payload and returns the bytes to send.
//
// Frame structure:
//
//	[PAYLOAD...][CHECKSUM]
func BuildFrame(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, payload...)
	frame = append(frame, Checksum(payload))
	return frame
}

// BuildCommandFrame constructs the two-byte selection of a command.
//
// Frame structure:
//
//	[OPCODE][0xFF ^ OPCODE]
func BuildCommandFrame(opcode byte) []byte {
	return BuildFrame([]byte{opcode})
}

// AddressPayload encodes addr MSB first, as every address frame requires.
//
// Payload structure:
//
//	[A31..24][A23..16][A15..8][A7..0]
func AddressPayload(addr uint32) []byte {
	payload := make([]byte, AddressSize)
	binary.BigEndian.PutUint32(payload, addr)
	return payload
}

// WritePayload constructs the data payload of a WRITE MEMORY command.
// The length byte is N-1, so 0 writes one byte and 0xFF writes 256.
//
// Payload structure:
//
//	[N-1][DATA(N)...]
//
// The checksum added by BuildFrame covers the length byte and the data.
func WritePayload(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty")
	}
	if len(data) > MaxTransferSize {
		return nil, fmt.Errorf("data length %d exceeds maximum %d bytes", len(data), MaxTransferSize)
	}

	payload := make([]byte, 0, len(data)+1)
	payload = append(payload, byte(len(data)-1))
	payload = append(payload, data...)

	return payload, nil
}

// ReadLengthPayload constructs the length payload of a READ MEMORY command.
// Sent as a single byte (N-1) followed by its complement.
func ReadLengthPayload(n int) ([]byte, error) {
	if n < 1 || n > MaxTransferSize {
		return nil, fmt.Errorf("read length %d out of range 1-%d", n, MaxTransferSize)
	}
	return []byte{byte(n - 1)}, nil
}

// ErasePayload returns the mass erase payload matching the erase opcode in use.
func ErasePayload(extended bool) []byte {
	if extended {
		return MassErase
	}
	return GlobalErase
}
