package navmsg

import "fmt"

// BitRangeError reports an extraction that would read past the end of the
// buffer.
type BitRangeError struct {
	BufferLenBits   int
	RequestedEndBit int
}

func (e *BitRangeError) Error() string {
	return fmt.Sprintf("navmsg: bit extraction out of bound: buffer has %d bits, requested up to bit %d", e.BufferLenBits, e.RequestedEndBit)
}

// Extract returns nBits of buf starting at bitOffset, right-aligned in
// ceil(nBits/8) bytes. Bit 0 is the least significant bit of buf[0].
func Extract(buf []byte, bitOffset, nBits int) ([]byte, error) {
	end := bitOffset + nBits
	if bitOffset < 0 || nBits < 0 || end > 8*len(buf) {
		return nil, &BitRangeError{BufferLenBits: 8 * len(buf), RequestedEndBit: end}
	}
	out := make([]byte, (nBits+7)/8)
	for i := 0; i < nBits; i++ {
		src := bitOffset + i
		if (buf[src/8]>>(src%8))&1 == 1 {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out, nil
}

// leUint interprets b as a little-endian unsigned integer. Only the first 8
// bytes are significant.
func leUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		if i >= 8 {
			continue
		}
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Cursor consumes consecutive bit fields from a buffer.
type Cursor struct {
	buf []byte
	pos int
}

func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Consume extracts the next nBits and advances the cursor. On error the
// position is left unchanged.
func (c *Cursor) Consume(nBits int) ([]byte, error) {
	b, err := Extract(c.buf, c.pos, nBits)
	if err != nil {
		return nil, err
	}
	c.pos += nBits
	return b, nil
}

// Uint consumes nBits (at most 64) as a little-endian unsigned value.
func (c *Cursor) Uint(nBits int) (uint64, error) {
	if nBits > 64 {
		return 0, fmt.Errorf("navmsg: field of %d bits does not fit in 64 bits", nBits)
	}
	b, err := c.Consume(nBits)
	if err != nil {
		return 0, err
	}
	return leUint(b), nil
}

// Flag consumes a single bit.
func (c *Cursor) Flag() (bool, error) {
	v, err := c.Uint(1)
	return v == 1, err
}

func (c *Cursor) Position() int { return c.pos }

// RemainingBits reports how many bits are left after the cursor.
func (c *Cursor) RemainingBits() int {
	return 8*len(c.buf) - c.pos
}
