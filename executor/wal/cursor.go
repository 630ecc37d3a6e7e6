package wal

import "encoding/binary"

// byteOrder of every fixed-width integer in a command log file.
var byteOrder = binary.BigEndian

// Cursor is a forward-only read position over an in-memory byte slice,
// typically the decompressed payload of a group commit block.
type Cursor struct {
	buf []byte
	off int
}

func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	if c == nil {
		return 0
	}
	return len(c.buf) - c.off
}

// Offset returns the number of bytes consumed so far.
func (c *Cursor) Offset() int {
	return c.off
}

// Len returns the total size of the underlying payload.
func (c *Cursor) Len() int {
	return len(c.buf)
}

func (c *Cursor) peek(n int) ([]byte, bool) {
	if n < 0 || c.Remaining() < n {
		return nil, false
	}
	return c.buf[c.off : c.off+n], true
}

func (c *Cursor) next(n int) ([]byte, bool) {
	b, ok := c.peek(n)
	if ok {
		c.off += n
	}
	return b, ok
}

func (c *Cursor) readUint8() (uint8, bool) {
	b, ok := c.next(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (c *Cursor) readInt16() (int16, bool) {
	b, ok := c.next(2)
	if !ok {
		return 0, false
	}
	return int16(byteOrder.Uint16(b)), true
}

func (c *Cursor) readInt32() (int32, bool) {
	b, ok := c.next(4)
	if !ok {
		return 0, false
	}
	return int32(byteOrder.Uint32(b)), true
}

func (c *Cursor) readInt64() (int64, bool) {
	b, ok := c.next(8)
	if !ok {
		return 0, false
	}
	return int64(byteOrder.Uint64(b)), true
}
