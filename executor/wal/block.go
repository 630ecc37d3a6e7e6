package wal

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/pkg/errors"
)

const (
	blockLenBytes = 4

	// MaxBlockBytes caps the decompressed payload of one group commit block.
	MaxBlockBytes = 256 << 20
)

// PackBlock concatenates the serialized entries, compresses them and prefixes
// the result with its compressed length. It returns the framed block and the
// compressed length.
func PackBlock(entries [][]byte) ([]byte, int) {
	size := 0
	for _, e := range entries {
		size += len(e)
	}
	raw := make([]byte, 0, size)
	for _, e := range entries {
		raw = append(raw, e...)
	}

	frame := make([]byte, blockLenBytes, blockLenBytes+snappy.MaxEncodedLen(len(raw)))
	compressed := snappy.Encode(frame[blockLenBytes:cap(frame)], raw)
	byteOrder.PutUint32(frame, uint32(len(compressed)))
	return frame[:blockLenBytes+len(compressed)], len(compressed)
}

// UnpackBlock reads the next block from r and returns a cursor over its
// decompressed entries. limit is the number of bytes known to be left in r,
// or -1. A stream that ends cleanly at a block boundary returns io.EOF.
func UnpackBlock(r io.Reader, limit int64) (*Cursor, int, error) {
	var prefix [blockLenBytes]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		switch err {
		case io.EOF:
			return nil, 0, io.EOF
		case io.ErrUnexpectedEOF:
			return nil, 0, errors.Wrap(ErrTruncatedBlock, "short length prefix")
		default:
			return nil, 0, errors.Wrap(err, "read block length")
		}
	}
	n := int32(byteOrder.Uint32(prefix[:]))
	if n < 0 {
		return nil, 0, errors.Wrapf(ErrCorruptBlock, "compressed length %d", n)
	}
	if limit >= 0 && int64(blockLenBytes)+int64(n) > limit {
		return nil, 0, errors.Wrapf(ErrTruncatedBlock, "compressed length %d, %d bytes left", n, limit-blockLenBytes)
	}

	compressed := make([]byte, n)
	if _, err := io.ReadFull(r, compressed); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, errors.Wrapf(ErrTruncatedBlock, "compressed length %d", n)
		}
		return nil, 0, errors.Wrap(err, "read block payload")
	}

	size, err := snappy.DecodedLen(compressed)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorruptBlock, err)
	}
	if size > MaxBlockBytes {
		return nil, 0, errors.Wrapf(ErrCorruptBlock, "decoded length %d", size)
	}
	raw, err := snappy.Decode(make([]byte, size), compressed)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorruptBlock, err)
	}
	return NewCursor(raw), blockLenBytes + len(compressed), nil
}
