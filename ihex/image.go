package ihex

import (
	"fmt"
	"io"
	"os"
)

// Segment is a run of contiguous bytes in an Image.
type Segment struct {
	Address uint32
	Data    []byte
}

// End returns the address one past the last byte of the segment.
func (s *Segment) End() uint32 {
	return s.Address + uint32(len(s.Data))
}

// Image is a sparse memory image decoded from an Intel HEX file.
type Image struct {
	// Segments are in file order; contiguous records share a segment
	Segments []*Segment

	// Entry is the start address from a Start Linear Address record
	Entry uint32

	// HasEntry reports whether the file declared an entry point
	HasEntry bool
}

// ReadFile decodes the Intel HEX file at path into an Image.
//
// Example:
//
//	img, err := ihex.ReadFile("firmware.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d bytes in %d segments\n", img.Size(), len(img.Segments))
func ReadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ReadImage(f)
}

// ReadImage decodes Intel HEX from r, placing each data record at its
// absolute address without any page coalescing.
func ReadImage(r io.Reader) (*Image, error) {
	img := &Image{}

	place := func(addr uint32, data []byte) error {
		if n := len(img.Segments); n > 0 && img.Segments[n-1].End() == addr {
			img.Segments[n-1].Data = append(img.Segments[n-1].Data, data...)
			return nil
		}
		seg := &Segment{Address: addr, Data: make([]byte, len(data))}
		copy(seg.Data, data)
		img.Segments = append(img.Segments, seg)
		return nil
	}

	entry, ok, err := decode(NewReader(r), place, nil)
	if err != nil {
		return nil, err
	}
	img.Entry, img.HasEntry = entry, ok

	return img, nil
}

// Size returns the total number of data bytes in the image.
func (img *Image) Size() int {
	n := 0
	for _, seg := range img.Segments {
		n += len(seg.Data)
	}
	return n
}

// At returns the byte at addr. Later records win over earlier ones.
func (img *Image) At(addr uint32) (byte, bool) {
	for i := len(img.Segments) - 1; i >= 0; i-- {
		seg := img.Segments[i]
		if addr >= seg.Address && addr < seg.End() {
			return seg.Data[addr-seg.Address], true
		}
	}
	return 0, false
}

// Bounds returns the lowest address and one past the highest address in the image.
func (img *Image) Bounds() (lo, hi uint32) {
	for i, seg := range img.Segments {
		if i == 0 || seg.Address < lo {
			lo = seg.Address
		}
		if seg.End() > hi {
			hi = seg.End()
		}
	}
	return lo, hi
}
