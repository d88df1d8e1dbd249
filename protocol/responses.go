package protocol

import (
	"encoding/binary"
	"fmt"
)

// ParseFlashSize decodes the flash size register contents.
// Returns the flash size in KB.
//
// Data format (2 bytes, little-endian):
//
//	[SIZE_L][SIZE_H]
func ParseFlashSize(data []byte) (uint16, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("invalid data length for flash size: got %d bytes, expected 2", len(data))
	}

	return binary.LittleEndian.Uint16(data), nil
}

// ParseDeviceID decodes the GET ID response body.
// The bootloader sends N followed by N+1 ID bytes; data holds those N+1 bytes.
func ParseDeviceID(data []byte) (DeviceID, error) {
	if len(data) == 0 {
		return DeviceID{}, fmt.Errorf("empty device ID")
	}

	id := DeviceID{Raw: make([]byte, len(data))}
	copy(id.Raw, data)

	return id, nil
}

// ParseAck classifies a single response byte.
// Returns nil for ACK, ErrNack for NACK and an UnexpectedResponseError otherwise.
func ParseAck(b byte) error {
	switch b {
	case Ack:
		return nil
	case Nack:
		return ErrNack
	default:
		return &UnexpectedResponseError{Response: b}
	}
}
