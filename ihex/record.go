package ihex

import "fmt"

// RecordType identifies the meaning of an Intel HEX record.
type RecordType byte

// Record types defined by the Intel HEX-86 format.
const (
	// TypeData carries payload bytes at Offset
	TypeData RecordType = 0x00

	// TypeEndOfFile terminates the stream
	TypeEndOfFile RecordType = 0x01

	// TypeExtendedSegmentAddress sets a 20-bit segment base (value << 4)
	TypeExtendedSegmentAddress RecordType = 0x02

	// TypeStartSegmentAddress holds a CS:IP entry point (ignored)
	TypeStartSegmentAddress RecordType = 0x03

	// TypeExtendedLinearAddress sets the upper 16 bits of subsequent data addresses
	TypeExtendedLinearAddress RecordType = 0x04

	// TypeStartLinearAddress holds the 32-bit entry point
	TypeStartLinearAddress RecordType = 0x05
)

func (t RecordType) String() string {
	switch t {
	case TypeData:
		return "data"
	case TypeEndOfFile:
		return "end of file"
	case TypeExtendedSegmentAddress:
		return "extended segment address"
	case TypeStartSegmentAddress:
		return "start segment address"
	case TypeExtendedLinearAddress:
		return "extended linear address"
	case TypeStartLinearAddress:
		return "start linear address"
	default:
		return fmt.Sprintf("unknown record type 0x%02X", byte(t))
	}
}

// Record represents a single decoded line of an Intel HEX file.
type Record struct {
	// ByteCount is the number of data bytes declared by the record
	ByteCount byte

	// Offset is the 16-bit load offset
	Offset uint16

	// Type is the record type
	Type RecordType

	// Data is the record payload (len(Data) == ByteCount)
	Data []byte

	// Checksum is the trailing checksum as read from the file
	Checksum byte
}

// Valid reports whether the record checksum matches its contents.
// The sum of all record bytes including the checksum must be zero.
func (r *Record) Valid() bool {
	sum := r.ByteCount + byte(r.Offset>>8) + byte(r.Offset) + byte(r.Type) + r.Checksum
	for _, b := range r.Data {
		sum += b
	}
	return sum == 0
}
