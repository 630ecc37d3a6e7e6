package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alpacahq/cmdlog/executor/buffile"
	"github.com/alpacahq/cmdlog/executor/wal"
	"github.com/alpacahq/cmdlog/metrics"
	"github.com/alpacahq/cmdlog/utils"
	"github.com/alpacahq/cmdlog/utils/log"
)

/*
	NOTE: A command log file is owned by exactly one CommandLogWriter for the
	lifetime of its partition. The writer's mutex only serializes the owning
	execution thread against the background flush loop started by Run.
*/

// CommandLogPath returns the command log file of a partition under rootDir.
func CommandLogPath(rootDir string, partitionID int) string {
	return filepath.Join(rootDir, fmt.Sprintf("partition-%04d.cmdlog", partitionID))
}

type CommandLogWriter struct {
	mu     sync.Mutex
	path   string
	cfg    utils.CommandLogConfig
	header wal.Header
	procs  map[int32]string
	file   *buffile.AppendFile

	// group commit: serialized entries waiting for the next block
	pending      [][]byte
	pendingBytes uint64
	// bytes handed to the file since the last successful sync
	unsynced bool

	err    error
	closed bool
}

// OpenForAppend creates a new command log at path and writes its header.
// It fails with ErrLogExists if the file already exists.
func OpenForAppend(path string, cfg utils.CommandLogConfig, procs wal.ProcedureTable) (*CommandLogWriter, error) {
	procs, err := wal.NewProcedureTable(procs...)
	if err != nil {
		return nil, fmt.Errorf("procedure table for %s: %w", path, err)
	}

	fp, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrLogExists)
		}
		return nil, fmt.Errorf("can not create command log: %w", err)
	}

	w := newCommandLogWriter(path, fp, 0, cfg, procs)
	if err := w.writeHeader(); err != nil {
		_ = fp.Close()
		if err2 := os.Remove(path); err2 != nil {
			log.Error("failed to remove partially created command log %s: %v", path, err2)
		}
		return nil, err
	}
	if err := syncDir(filepath.Dir(path)); err != nil {
		log.Warn("failed to sync directory of %s: %v", path, err)
	}

	log.Info("created command log %s (mode=%v, procedures=%d)", path, w.header.Mode(), len(procs))
	return w, nil
}

func newCommandLogWriter(path string, f buffile.File, size int64, cfg utils.CommandLogConfig,
	procs wal.ProcedureTable,
) *CommandLogWriter {
	return &CommandLogWriter{
		path:   path,
		cfg:    cfg,
		header: wal.Header{GroupCommit: cfg.GroupCommit, Procedures: procs},
		procs:  procs.Index(),
		file:   buffile.New(f, size),
	}
}

func (w *CommandLogWriter) writeHeader() error {
	if err := wal.WriteHeader(w.file, w.header.GroupCommit, w.header.Procedures); err != nil {
		return w.fail("write header", err)
	}
	if err := w.file.Sync(); err != nil {
		return w.fail("sync header", err)
	}
	metrics.BytesWrittenTotal.Add(float64(w.file.Size()))
	return nil
}

// Append adds an entry to the log. With group commit the entry waits for the
// next flush; otherwise it is written immediately and, when SyncOnAppend is
// set, made durable before Append returns.
func (w *CommandLogWriter) Append(e *wal.LogEntry) error {
	record, encodeErr := wal.EncodeEntry(e)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.usable(); err != nil {
		return err
	}
	if encodeErr != nil {
		return encodeErr
	}
	if _, ok := w.procs[e.ProcedureID]; !ok {
		return fmt.Errorf("txn %d: procedure %d: %w", e.TxnID, e.ProcedureID, wal.ErrUnknownProcedure)
	}
	metrics.AppendedEntriesTotal.Inc()

	if w.header.GroupCommit {
		w.pending = append(w.pending, record)
		w.pendingBytes += uint64(len(record))
		if w.cfg.GroupCommitMaxBytes > 0 && w.pendingBytes >= w.cfg.GroupCommitMaxBytes {
			return w.flushLocked()
		}
		return nil
	}

	if _, err := w.file.Write(record); err != nil {
		return w.fail("write record", err)
	}
	w.unsynced = true
	metrics.BytesWrittenTotal.Add(float64(len(record)))
	if w.cfg.SyncOnAppend {
		return w.flushLocked()
	}
	return nil
}

// Flush writes everything pending and syncs the file. No entry appended
// before the call is durable until Flush returns nil.
func (w *CommandLogWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.usable(); err != nil {
		return err
	}
	return w.flushLocked()
}

func (w *CommandLogWriter) flushLocked() error {
	if len(w.pending) == 0 && !w.unsynced {
		return nil
	}
	start := time.Now()

	if len(w.pending) > 0 {
		frame, compressedLen := wal.PackBlock(w.pending)
		if _, err := w.file.Write(frame); err != nil {
			return w.fail("write block", err)
		}
		metrics.BlockCompressedBytes.Observe(float64(compressedLen))
		metrics.BytesWrittenTotal.Add(float64(len(frame)))
		log.Debug("packed %d entries (%d bytes) into a %d byte block", len(w.pending), w.pendingBytes, compressedLen)
		for i := range w.pending {
			w.pending[i] = nil // for GC
		}
		w.pending = w.pending[:0]
		w.pendingBytes = 0
		w.unsynced = true
	}

	if err := w.file.Sync(); err != nil {
		return w.fail("sync", err)
	}
	w.unsynced = false

	metrics.FlushesTotal.WithLabelValues("ok").Inc()
	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	return nil
}

// Run flushes the log every FlushInterval until ctx is cancelled, then
// flushes once more. A failed flush stops the loop and is returned.
func (w *CommandLogWriter) Run(ctx context.Context) error {
	interval := w.cfg.FlushInterval
	if interval <= 0 {
		interval = utils.DefaultCommandLogConfig().FlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.Flush(); err != nil {
				if errors.Is(err, ErrWriterClosed) {
					return nil
				}
				log.Error("[ticker] failed to flush command log %s: %v", w.path, err)
				return err
			}
		case <-ctx.Done():
			log.Info("Flushing command log %s...", w.path)
			if err := w.Flush(); err != nil && !errors.Is(err, ErrWriterClosed) {
				log.Error("[shutdown] failed to flush command log %s: %v", w.path, err)
				return err
			}
			return nil
		}
	}
}

// Close flushes remaining entries and releases the file. Calling Close
// again is a no-op.
func (w *CommandLogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.err != nil {
		_ = w.file.Close()
		return w.err
	}
	if err := w.flushLocked(); err != nil {
		_ = w.file.Close()
		return err
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close command log %s: %w", w.path, err)
	}
	return nil
}

func (w *CommandLogWriter) Path() string { return w.path }

// Header returns the header written at the start of the file.
func (w *CommandLogWriter) Header() wal.Header { return w.header }

// Size returns the logical size of the file, including bytes not yet synced.
// Pending group commit entries are not counted.
func (w *CommandLogWriter) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Size()
}

// Pending returns the number of entries waiting for the next group commit.
func (w *CommandLogWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *CommandLogWriter) usable() error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return ErrWriterClosed
	}
	return nil
}

func (w *CommandLogWriter) fail(op string, err error) error {
	w.err = &WALWriteError{Path: w.path, Op: op, Err: err}
	metrics.FlushesTotal.WithLabelValues("error").Inc()
	log.Error("command log %s is no longer durable: %v", w.path, w.err)
	return w.err
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
