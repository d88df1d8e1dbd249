package ihex

import (
	"bytes"
	"errors"
	"testing"
)

// pageLog records every page a Coalescer writes.
type pageLog struct {
	pages []Page
	err   error
}

func (l *pageLog) write(p *Page) error {
	if l.err != nil {
		return l.err
	}
	l.pages = append(l.pages, *p)
	return nil
}

func seq(start byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = start + byte(i)
	}
	return b
}

func TestCoalescerContiguous(t *testing.T) {
	log := &pageLog{}
	c := NewCoalescer(log.write)

	for i := 0; i < 4; i++ {
		if err := c.Accept(0x08000000+uint32(i*16), seq(byte(i*16), 16)); err != nil {
			t.Fatalf("Accept() error = %v", err)
		}
	}
	if len(log.pages) != 0 {
		t.Fatalf("contiguous records flushed early: %d pages", len(log.pages))
	}

	addr, length, ok := c.Pending()
	if !ok || addr != 0x08000000 || length != 64 {
		t.Errorf("Pending() = 0x%08X, %d, %v", addr, length, ok)
	}

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(log.pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(log.pages))
	}

	p := log.pages[0]
	if p.Address != 0x08000000 || p.Length != 64 {
		t.Errorf("page = 0x%08X/%d, want 0x08000000/64", p.Address, p.Length)
	}
	if !bytes.Equal(p.Data(), seq(0, 64)) {
		t.Errorf("Data() = % X", p.Data())
	}
}

func TestCoalescerDiscontinuity(t *testing.T) {
	log := &pageLog{}
	c := NewCoalescer(log.write)

	// The gap after the second record must flush before the third is placed.
	records := []struct {
		addr uint32
		data []byte
	}{
		{0x1000, seq(0x10, 8)},
		{0x1008, seq(0x18, 8)},
		{0x2000, seq(0x80, 4)},
	}
	for _, r := range records {
		if err := c.Accept(r.addr, r.data); err != nil {
			t.Fatalf("Accept(0x%X) error = %v", r.addr, err)
		}
	}

	if len(log.pages) != 1 {
		t.Fatalf("got %d pages after gap, want 1", len(log.pages))
	}
	if log.pages[0].Address != 0x1000 || log.pages[0].Length != 16 {
		t.Errorf("first page = 0x%X/%d, want 0x1000/16", log.pages[0].Address, log.pages[0].Length)
	}

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(log.pages) != 2 || log.pages[1].Address != 0x2000 || log.pages[1].Length != 4 {
		last := log.pages[len(log.pages)-1]
		t.Errorf("second page = 0x%X/%d, want 0x2000/4", last.Address, last.Length)
	}
}

func TestCoalescerBackwardsRecord(t *testing.T) {
	log := &pageLog{}
	c := NewCoalescer(log.write)

	_ = c.Accept(0x100, seq(0, 4))
	_ = c.Accept(0x0F0, seq(0, 4))
	_ = c.Flush()

	if len(log.pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(log.pages))
	}
	if log.pages[1].Address != 0x0F0 {
		t.Errorf("second page address = 0x%X, want 0xF0", log.pages[1].Address)
	}
}

func TestCoalescerOverflow(t *testing.T) {
	log := &pageLog{}
	c := NewCoalescer(log.write)

	// 15 x 16 bytes fill 240; the 16-byte record still fits exactly.
	for i := 0; i < 16; i++ {
		if err := c.Accept(uint32(i*16), seq(byte(i), 16)); err != nil {
			t.Fatalf("Accept() error = %v", err)
		}
	}
	if len(log.pages) != 0 {
		t.Fatalf("exactly full page flushed early")
	}

	// The next contiguous record would exceed PageSize.
	if err := c.Accept(256, seq(0, 16)); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if len(log.pages) != 1 || log.pages[0].Length != PageSize {
		t.Fatalf("overflow did not flush a full page: %d pages", len(log.pages))
	}

	_ = c.Flush()
	if log.pages[1].Address != 256 {
		t.Errorf("second page address = %d, want 256", log.pages[1].Address)
	}
}

func TestCoalescerUnalignedOverflow(t *testing.T) {
	log := &pageLog{}
	c := NewCoalescer(log.write)

	_ = c.Accept(0x10, seq(0, 200))
	_ = c.Accept(0x10+200, seq(0, 100))
	_ = c.Flush()

	if len(log.pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(log.pages))
	}
	for _, p := range log.pages {
		if p.Length > PageSize {
			t.Errorf("page at 0x%X has length %d", p.Address, p.Length)
		}
	}
	if log.pages[0].Address != 0x10 || log.pages[1].Address != 0x10+200 {
		t.Errorf("page bases must be record addresses, got 0x%X and 0x%X", log.pages[0].Address, log.pages[1].Address)
	}
}

func TestCoalescerRecordTooLarge(t *testing.T) {
	c := NewCoalescer((&pageLog{}).write)
	if err := c.Accept(0, make([]byte, PageSize+1)); err == nil {
		t.Error("expected error for oversized record")
	}
}

func TestCoalescerFlushIdempotent(t *testing.T) {
	calls := 0
	c := NewCoalescer(func(*Page) error {
		calls++
		return nil
	})

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() on empty coalescer error = %v", err)
	}
	_ = c.Accept(0, seq(1, 4))
	_ = c.Flush()
	_ = c.Flush()
	_ = c.Flush()

	if calls != 1 {
		t.Errorf("write called %d times, want 1", calls)
	}
	if c.Pages() != 1 {
		t.Errorf("Pages() = %d, want 1", c.Pages())
	}
}

func TestCoalescerPadding(t *testing.T) {
	log := &pageLog{}
	c := NewCoalescer(log.write)

	_ = c.Accept(0, []byte{1, 2, 3, 4})
	_ = c.Flush()
	_ = c.Accept(0x400, []byte{9})
	_ = c.Flush()

	// A reused buffer must not leak bytes from the previous page.
	p := log.pages[1]
	if p.Bytes[0] != 9 {
		t.Errorf("Bytes[0] = 0x%02X, want 0x09", p.Bytes[0])
	}
	for i := 1; i < PageSize; i++ {
		if p.Bytes[i] != ErasedByte {
			t.Fatalf("Bytes[%d] = 0x%02X, want 0xFF", i, p.Bytes[i])
		}
	}
}

func TestCoalescerWriteErrorKeepsPage(t *testing.T) {
	errBusy := errors.New("busy")
	log := &pageLog{err: errBusy}
	c := NewCoalescer(log.write)

	_ = c.Accept(0x100, seq(0, 8))

	if err := c.Accept(0x900, seq(0, 8)); !errors.Is(err, errBusy) {
		t.Fatalf("Accept() error = %v, want %v", err, errBusy)
	}
	if addr, length, ok := c.Pending(); !ok || addr != 0x100 || length != 8 {
		t.Fatalf("page lost after failed flush: 0x%X/%d/%v", addr, length, ok)
	}

	log.err = nil
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(log.pages) != 1 || log.pages[0].Address != 0x100 {
		t.Errorf("retried flush wrote %+v", log.pages)
	}
}

func TestNewCoalescerNilPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil write func")
		}
	}()
	NewCoalescer(nil)
}
