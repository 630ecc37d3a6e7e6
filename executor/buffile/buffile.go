// Package buffile batches appends to a log file in a block-sized in-memory
// buffer so that many small records turn into few write syscalls. Nothing
// written through it is durable until Sync returns.
package buffile

import (
	"io"

	"github.com/alpacahq/cmdlog/utils/log"
)

// File is the subset of *os.File an AppendFile needs.
type File interface {
	io.Writer
	io.Closer
	Sync() error
}

// AppendFile abstracts an append-only file with a block-sized buffer.
// This object does not provide any mean of concurrency guarantee.
type AppendFile struct {
	fp        File
	blockSize int
	buffer    []byte
	// size is the logical length of the file, including buffered bytes.
	size int64
}

const DefaultBlockSize = 32 * 1024

// New wraps fp, whose current length is size.
func New(fp File, size int64) *AppendFile {
	return NewSize(fp, size, DefaultBlockSize)
}

func NewSize(fp File, size int64, blockSize int) *AppendFile {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &AppendFile{
		fp:        fp,
		blockSize: blockSize,
		buffer:    make([]byte, 0, blockSize),
		size:      size,
	}
}

// Write appends data. Whole blocks are handed to the file as soon as they
// fill up; the remainder stays buffered until the next Write or Sync.
func (f *AppendFile) Write(data []byte) (int, error) {
	if len(f.buffer)+len(data) < f.blockSize {
		f.buffer = append(f.buffer, data...)
		f.size += int64(len(data))
		return len(data), nil
	}
	if err := f.writeBuffer(); err != nil {
		return 0, err
	}
	if len(data) >= f.blockSize {
		n, err := f.fp.Write(data)
		f.size += int64(n)
		return n, err
	}
	f.buffer = append(f.buffer, data...)
	f.size += int64(len(data))
	return len(data), nil
}

// Sync writes out the buffer and forces the file contents to stable storage.
func (f *AppendFile) Sync() error {
	if err := f.writeBuffer(); err != nil {
		return err
	}
	return f.fp.Sync()
}

// Size returns the logical file length including buffered bytes.
func (f *AppendFile) Size() int64 {
	return f.size
}

// Buffered returns the number of bytes not yet handed to the file.
func (f *AppendFile) Buffered() int {
	return len(f.buffer)
}

// Close syncs the buffer and closes the file.
func (f *AppendFile) Close() error {
	if err := f.Sync(); err != nil {
		log.Error("failed to sync buffer before closing. err=" + err.Error())
		_ = f.fp.Close()
		return err
	}
	return f.fp.Close()
}

func (f *AppendFile) writeBuffer() error {
	if len(f.buffer) == 0 {
		return nil
	}
	n, err := f.fp.Write(f.buffer)
	if err != nil {
		// keep what did not make it so the caller sees a consistent Buffered()
		f.buffer = f.buffer[:copy(f.buffer, f.buffer[n:])]
		return err
	}
	f.buffer = f.buffer[:0]
	return nil
}
