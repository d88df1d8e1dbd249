// Package ihex provides parsing for Intel HEX firmware images and the page
// coalescing used to program them.
//
// # Intel HEX Format
//
// Each line is one record, all fields hex-encoded:
//
//	:[ByteCount(2)][Offset(4)][Type(2)][Data(2*ByteCount)][Checksum(2)]
//
// Example record:
//
//	:0400000001020304F2
//	  04 = Byte count
//	  0000 = Load offset
//	  00 = Data record
//	  01020304 = Data
//	  F2 = Checksum
//
// Record types used by STM32 toolchains:
//   - 00 Data
//   - 01 End Of File
//   - 04 Extended Linear Address (upper 16 address bits)
//   - 05 Start Linear Address (entry point)
//
// Types 02 and 03 are understood for completeness; others are ignored.
//
// # Usage
//
// Decode a file into a sparse image:
//
//	img, err := ihex.ReadFile("firmware.hex")
//
// Stream records into page-sized writes:
//
//	c := ihex.NewCoalescer(func(p *ihex.Page) error {
//	    fmt.Printf("page 0x%08X, %d bytes\n", p.Address, p.Length)
//	    return nil
//	})
//	entry, ok, err := ihex.Stream(f, c)
//
// # Error Handling
//
// Structural problems (missing ':', bad hex digits, byte count not matching
// the payload) are reported as *MalformedRecordError, which also matches
// ErrMalformedRecord. Record checksums are only enforced by Reader.Strict.
package ihex
