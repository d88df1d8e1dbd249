package ihex

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Constants for Intel HEX record parsing.
const (
	// StartCode begins every record
	StartCode = ':'

	// HeaderSize is the size of the byte count, offset and type fields
	HeaderSize = 4

	// ChecksumSize is the size of the trailing checksum field
	ChecksumSize = 1

	// MinimumRecordLength is the minimum record length in hex characters, excluding ':'
	MinimumRecordLength = (HeaderSize + ChecksumSize) * 2
)

// ParseRecord decodes a single Intel HEX line.
//
// Record format:
//
//	:[ByteCount(2)][Offset(4)][Type(2)][Data(2*ByteCount)][Checksum(2)]
//
// Hex digits are accepted in either case. The checksum is decoded but not
// verified; use Record.Valid for that.
//
// Example:
//
//	rec, err := ihex.ParseRecord(":0400000001020304F2")
//	// rec.Type == TypeData, rec.Offset == 0, rec.Data == [1 2 3 4]
func ParseRecord(line string) (*Record, error) {
	line = strings.TrimSpace(line)

	if len(line) == 0 || line[0] != StartCode {
		return nil, malformed("missing start code %q", StartCode)
	}

	body := line[1:]
	if len(body) < MinimumRecordLength {
		return nil, malformed("record too short: got %d characters, minimum is %d", len(body), MinimumRecordLength)
	}
	if len(body)%2 != 0 {
		return nil, malformed("odd number of hex digits (%d)", len(body))
	}

	data, err := hex.DecodeString(body)
	if err != nil {
		return nil, malformed("invalid hex data: %v", err)
	}

	count := data[0]
	expectedLen := HeaderSize + int(count) + ChecksumSize
	if len(data) != expectedLen {
		return nil, malformed("byte count mismatch: declared %d data bytes, found %d",
			count, len(data)-HeaderSize-ChecksumSize)
	}

	rec := &Record{
		ByteCount: count,
		Offset:    binary.BigEndian.Uint16(data[1:3]),
		Type:      RecordType(data[3]),
		Data:      make([]byte, count),
		Checksum:  data[len(data)-1],
	}
	copy(rec.Data, data[HeaderSize:HeaderSize+int(count)])

	return rec, nil
}

// Reader yields records from an Intel HEX stream one line at a time.
// It is forward only; blank lines are skipped.
type Reader struct {
	// Strict makes Next reject records with a bad checksum
	Strict bool

	scanner *bufio.Scanner
	line    int
}

// NewReader returns a Reader consuming r.
func NewReader(r io.Reader) *Reader {
	return &Reader{scanner: bufio.NewScanner(r)}
}

// Line returns the number of the last line read.
func (r *Reader) Line() int {
	return r.line
}

// Next returns the next record, or io.EOF once the input is exhausted.
// Parse errors are *MalformedRecordError values carrying the line number.
func (r *Reader) Next() (*Record, error) {
	for r.scanner.Scan() {
		r.line++
		text := strings.TrimSpace(r.scanner.Text())

		if text == "" {
			continue
		}

		rec, err := ParseRecord(text)
		if err != nil {
			var mre *MalformedRecordError
			if errors.As(err, &mre) {
				mre.Line = r.line
			}
			return nil, err
		}

		if r.Strict && !rec.Valid() {
			return nil, &MalformedRecordError{
				Line:   r.line,
				Reason: fmt.Sprintf("checksum mismatch: got 0x%02X", rec.Checksum),
			}
		}

		return rec, nil
	}

	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hex file: %w", err)
	}

	return nil, io.EOF
}

// decode walks the records of rd, calling place for every data record with its
// absolute address, and flush at the points where buffered data must be
// written out (start address record, end of file, end of input).
func decode(rd *Reader, place func(addr uint32, data []byte) error, flush func() error) (entry uint32, ok bool, err error) {
	var base uint32

	for {
		rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, false, err
		}

		switch rec.Type {
		case TypeData:
			if rec.ByteCount == 0 {
				continue
			}
			if err := place(base+uint32(rec.Offset), rec.Data); err != nil {
				return entry, ok, err
			}

		case TypeEndOfFile:
			if flush != nil {
				if err := flush(); err != nil {
					return entry, ok, err
				}
			}
			return entry, ok, nil

		case TypeExtendedLinearAddress:
			if rec.ByteCount != 2 {
				return 0, false, &MalformedRecordError{Line: rd.Line(), Reason: fmt.Sprintf("invalid length %d for %s", rec.ByteCount, rec.Type)}
			}
			base = uint32(binary.BigEndian.Uint16(rec.Data)) << 16

		case TypeExtendedSegmentAddress:
			if rec.ByteCount != 2 {
				return 0, false, &MalformedRecordError{Line: rd.Line(), Reason: fmt.Sprintf("invalid length %d for %s", rec.ByteCount, rec.Type)}
			}
			base = uint32(binary.BigEndian.Uint16(rec.Data)) << 4

		case TypeStartLinearAddress:
			if rec.ByteCount != 4 {
				return 0, false, &MalformedRecordError{Line: rd.Line(), Reason: fmt.Sprintf("invalid length %d for %s", rec.ByteCount, rec.Type)}
			}
			if flush != nil {
				if err := flush(); err != nil {
					return entry, ok, err
				}
			}
			entry, ok = binary.BigEndian.Uint32(rec.Data), true
		}
	}

	if flush != nil {
		if err := flush(); err != nil {
			return entry, ok, err
		}
	}

	return entry, ok, nil
}

// Stream reads Intel HEX from r and feeds every data record into c.
// The coalescer is flushed at a Start Linear Address record, at the End Of
// File record and when the input ends. Returns the entry point if the file
// declares one.
//
// Example:
//
//	c := ihex.NewCoalescer(func(p *ihex.Page) error {
//	    return writeFlash(p.Address, p.Data())
//	})
//	entry, ok, err := ihex.Stream(f, c)
func Stream(r io.Reader, c *Coalescer) (entry uint32, ok bool, err error) {
	return NewReader(r).Stream(c)
}

// Stream feeds the remaining records of r into c. See the package-level Stream.
func (r *Reader) Stream(c *Coalescer) (entry uint32, ok bool, err error) {
	return decode(r, c.Accept, c.Flush)
}

// CountPages reports how many page writes streaming r would produce.
func CountPages(r io.Reader) (int, error) {
	c := NewCoalescer(func(*Page) error { return nil })
	if _, _, err := Stream(r, c); err != nil {
		return 0, err
	}
	return c.Pages(), nil
}
