package ihex

import "fmt"

// PageSize is the largest block a single WRITE MEMORY command accepts.
const PageSize = 256

// ErasedByte is the value of erased flash; unused page bytes are filled with it.
const ErasedByte = 0xFF

// Page is a write buffer handed out by a Coalescer.
type Page struct {
	// Address is the absolute address of Bytes[0]
	Address uint32

	// Length is the number of bytes filled, counted from Address
	Length int

	// Bytes holds the page contents; bytes past Length are ErasedByte
	Bytes [PageSize]byte
}

// Data returns the filled part of the page.
func (p *Page) Data() []byte {
	return p.Bytes[:p.Length]
}

// WriteFunc receives a coalesced page. The page is reused after the call returns.
type WriteFunc func(p *Page) error

// Coalescer merges contiguous data records into page-sized writes.
//
// A page starts at the address of the first record placed into it and grows
// while records follow on without a gap. A record that is not contiguous or
// would overflow PageSize bytes flushes the page and starts a new one.
//
// Coalescer is not safe for concurrent use.
type Coalescer struct {
	write  WriteFunc
	page   Page
	active bool
	pages  int
}

// NewCoalescer creates a Coalescer that hands full pages to write.
func NewCoalescer(write WriteFunc) *Coalescer {
	if write == nil {
		panic("write func cannot be nil")
	}
	return &Coalescer{write: write}
}

// Accept places data at addr, flushing the current page first if needed.
// If the flush fails the page is kept, nothing is placed, and the error is returned.
func (c *Coalescer) Accept(addr uint32, data []byte) error {
	if len(data) > PageSize {
		return fmt.Errorf("record of %d bytes exceeds page size %d", len(data), PageSize)
	}

	p := &c.page
	if c.active && (addr != p.Address+uint32(p.Length) || uint64(addr)+uint64(len(data)) > uint64(p.Address)+PageSize) {
		if err := c.Flush(); err != nil {
			return err
		}
	}

	if !c.active {
		c.reset(addr)
	}

	offset := int(addr - p.Address)
	copy(p.Bytes[offset:], data)
	if end := offset + len(data); end > p.Length {
		p.Length = end
	}

	return nil
}

// Flush writes out the current page, if any. Calling Flush without an
// intervening Accept is a no-op.
func (c *Coalescer) Flush() error {
	if !c.active || c.page.Length == 0 {
		c.active = false
		return nil
	}

	if err := c.write(&c.page); err != nil {
		return err
	}

	c.pages++
	c.active = false
	return nil
}

// Pending returns the address and length of the page being filled.
func (c *Coalescer) Pending() (addr uint32, length int, ok bool) {
	return c.page.Address, c.page.Length, c.active
}

// Pages returns the number of pages written so far.
func (c *Coalescer) Pages() int {
	return c.pages
}

func (c *Coalescer) reset(addr uint32) {
	for i := range c.page.Bytes {
		c.page.Bytes[i] = ErasedByte
	}
	c.page.Address = addr
	c.page.Length = 0
	c.active = true
}
