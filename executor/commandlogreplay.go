package executor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alpacahq/cmdlog/executor/wal"
	"github.com/alpacahq/cmdlog/metrics"
	"github.com/alpacahq/cmdlog/utils/log"
)

const replayBufferSize = 64 * 1024

// ReaderState is the position of a CommandLogReader in its life cycle.
type ReaderState int8

const (
	ReaderInit ReaderState = iota
	ReaderHeaderParsed
	ReaderStreaming
	ReaderExhausted
)

func (s ReaderState) String() string {
	switch s {
	case ReaderInit:
		return "init"
	case ReaderHeaderParsed:
		return "header-parsed"
	case ReaderStreaming:
		return "streaming"
	case ReaderExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ReplayStats describes how far a replay got.
type ReplayStats struct {
	Entries int
	Blocks  int
	// GoodOffset is the file offset just past the last unit (header, record
	// or block) that was read completely.
	GoodOffset int64
	FileSize   int64
	// StopCause is nil when the log ended cleanly at end of file.
	StopCause error
}

// CommandLogReader replays a command log written by CommandLogWriter. It
// produces entries lazily, one per Next call, and stops at the end of the
// file or at the first damaged record or block.
type CommandLogReader struct {
	path   string
	fp     *os.File
	in     *countingReader
	size   int64
	header *wal.Header
	mode   wal.BodyMode
	state  ReaderState

	// decompressed payload of the current group commit block
	block    *wal.Cursor
	blockEnd int64

	stats ReplayStats
	err   error
}

// OpenForReplay opens an existing command log read-only and parses its
// header. A header that can not be read is fatal: the file is closed and the
// error matches wal.ErrCorruptHeader.
func OpenForReplay(path string) (*CommandLogReader, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open command log for replay: %w", err)
	}
	fi, err := fp.Stat()
	if err != nil {
		_ = fp.Close()
		return nil, fmt.Errorf("stat command log %s: %w", path, err)
	}

	r := &CommandLogReader{
		path:  path,
		fp:    fp,
		in:    &countingReader{r: bufio.NewReaderSize(fp, replayBufferSize)},
		size:  fi.Size(),
		state: ReaderInit,
	}
	r.stats.FileSize = r.size

	h, err := wal.ReadHeader(r.in)
	if err != nil {
		_ = fp.Close()
		log.Error("unable to read header of command log %s: %v", path, err)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.header = h
	r.mode = h.Mode()
	r.state = ReaderHeaderParsed
	r.stats.GoodOffset = r.in.n

	log.Info("opened command log %s for replay (mode=%v, procedures=%d, size=%d)",
		path, r.mode, len(h.Procedures), r.size)
	return r, nil
}

// Next returns the next entry, or false once the log is exhausted. Reaching
// a truncated or corrupt tail is not an error; it just ends the sequence.
func (r *CommandLogReader) Next() (*wal.LogEntry, bool) {
	switch r.state {
	case ReaderExhausted, ReaderInit:
		return nil, false
	case ReaderHeaderParsed:
		r.state = ReaderStreaming
	}

	var (
		e   *wal.LogEntry
		err error
	)
	switch r.mode {
	case wal.BlockBody:
		e, err = r.nextFromBlock()
	default:
		e, err = r.nextRaw()
	}
	if err != nil {
		r.exhaust(err)
		return nil, false
	}

	r.stats.Entries++
	metrics.ReplayedEntriesTotal.Inc()
	return e, true
}

func (r *CommandLogReader) nextRaw() (*wal.LogEntry, error) {
	e, n, err := wal.ReadEntry(r.in, r.remaining())
	if err != nil {
		return nil, err
	}
	r.stats.GoodOffset += int64(n)
	return e, nil
}

func (r *CommandLogReader) nextFromBlock() (*wal.LogEntry, error) {
	// blocks may be empty, keep going until one has something in it
	for r.block.Remaining() == 0 {
		if r.block != nil {
			r.stats.GoodOffset = r.blockEnd
			r.block = nil
		}
		block, _, err := wal.UnpackBlock(r.in, r.remaining())
		if err != nil {
			return nil, err
		}
		r.block = block
		r.blockEnd = r.in.n
		r.stats.Blocks++
	}
	return wal.DecodeEntry(r.block)
}

func (r *CommandLogReader) exhaust(err error) {
	r.state = ReaderExhausted
	r.block = nil

	switch {
	case errors.Is(err, io.EOF):
		r.stats.GoodOffset = r.in.n
	case wal.IsTailCorruption(err):
		r.stats.StopCause = err
		metrics.ReplayTailStopsTotal.WithLabelValues(tailCause(err)).Inc()
		log.Warn("command log %s: replay stopped at offset %d of %d after %d entries: %v",
			r.path, r.stats.GoodOffset, r.size, r.stats.Entries, err)
	default:
		r.stats.StopCause = err
		r.err = err
		log.Error("command log %s: replay aborted by read error at offset %d: %v", r.path, r.in.n, err)
	}
}

// ForEach calls fn with every remaining entry. It stops at the first error
// returned by fn.
func (r *CommandLogReader) ForEach(fn func(e *wal.LogEntry) error) error {
	for e, ok := r.Next(); ok; e, ok = r.Next() {
		if err := fn(e); err != nil {
			return err
		}
	}
	return r.Err()
}

// Err returns a read error that ended the replay early. Truncation and
// corruption at the tail are reported through Stats, not here.
func (r *CommandLogReader) Err() error { return r.err }

func (r *CommandLogReader) Header() *wal.Header { return r.header }

func (r *CommandLogReader) Mode() wal.BodyMode { return r.mode }

func (r *CommandLogReader) State() ReaderState { return r.state }

func (r *CommandLogReader) Stats() ReplayStats { return r.stats }

func (r *CommandLogReader) Path() string { return r.path }

// Procedures returns the procedure mapping in header order.
func (r *CommandLogReader) Procedures() wal.ProcedureTable { return r.header.Procedures }

// ProcedureName resolves a procedure id through the header mapping.
func (r *CommandLogReader) ProcedureName(id int32) (string, bool) {
	return r.header.Procedures.Lookup(id)
}

// Close releases the file. The reader is exhausted afterwards.
func (r *CommandLogReader) Close() error {
	if r.fp == nil {
		return nil
	}
	r.state = ReaderExhausted
	r.block = nil
	err := r.fp.Close()
	r.fp = nil
	return err
}

func (r *CommandLogReader) remaining() int64 {
	return r.size - r.in.n
}

func tailCause(err error) string {
	switch {
	case errors.Is(err, wal.ErrTruncatedBlock):
		return "truncated_block"
	case errors.Is(err, wal.ErrCorruptBlock):
		return "corrupt_block"
	case errors.Is(err, wal.ErrTruncatedRecord):
		return "truncated_record"
	default:
		return "malformed_record"
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
