package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/cmdlog/executor/wal"
	"github.com/alpacahq/cmdlog/utils"
)

var errDiskFull = errors.New("no space left on device")

type failingFile struct {
	failWrite, failSync bool
	writes, syncs       int
}

func (f *failingFile) Write(p []byte) (int, error) {
	f.writes++
	if f.failWrite {
		return 0, errDiskFull
	}
	return len(p), nil
}

func (f *failingFile) Sync() error {
	f.syncs++
	if f.failSync {
		return errDiskFull
	}
	return nil
}

func (f *failingFile) Close() error { return nil }

func newTestWriter(t *testing.T, f *failingFile, groupCommit bool) *CommandLogWriter {
	t.Helper()
	cfg := utils.DefaultCommandLogConfig()
	cfg.GroupCommit = groupCommit
	procs, err := wal.NewProcedureTable(wal.Procedure{ID: 1, Name: "Insert"})
	require.Nil(t, err)
	w := newCommandLogWriter("failing.cmdlog", f, 0, cfg, procs)
	require.Nil(t, w.writeHeader())
	return w
}

func TestCommandLogWriter_FailedFlushIsFatal(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		groupCommit bool
		breakFile   func(f *failingFile)
		// the operation that first observes the failure
		trigger func(w *CommandLogWriter) error
	}{
		"error/ sync fails on group commit flush": {
			groupCommit: true,
			breakFile:   func(f *failingFile) { f.failSync = true },
			trigger: func(w *CommandLogWriter) error {
				if err := w.Append(&wal.LogEntry{TxnID: 1, ProcedureID: 1}); err != nil {
					return err
				}
				return w.Flush()
			},
		},
		"error/ write fails on group commit flush": {
			groupCommit: true,
			breakFile:   func(f *failingFile) { f.failWrite = true },
			trigger: func(w *CommandLogWriter) error {
				if err := w.Append(&wal.LogEntry{TxnID: 1, ProcedureID: 1}); err != nil {
					return err
				}
				return w.Flush()
			},
		},
		"error/ sync fails on a raw append": {
			groupCommit: false,
			breakFile:   func(f *failingFile) { f.failSync = true },
			trigger: func(w *CommandLogWriter) error {
				return w.Append(&wal.LogEntry{TxnID: 1, ProcedureID: 1})
			},
		},
	}
	for name := range tests {
		tt := tests[name]
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			// --- given ---
			f := &failingFile{}
			w := newTestWriter(t, f, tt.groupCommit)
			tt.breakFile(f)

			// --- when ---
			err := tt.trigger(w)

			// --- then ---
			require.NotNil(t, err)
			assert.ErrorIs(t, err, ErrWriterFailed)
			assert.ErrorIs(t, err, errDiskFull)
			var werr *WALWriteError
			require.True(t, errors.As(err, &werr))
			assert.Equal(t, "failing.cmdlog", werr.Path)

			// the writer stays failed even once the disk recovers
			f.failSync, f.failWrite = false, false
			writes := f.writes
			assert.ErrorIs(t, w.Append(&wal.LogEntry{TxnID: 2, ProcedureID: 1}), ErrWriterFailed)
			assert.ErrorIs(t, w.Flush(), ErrWriterFailed)
			assert.Equal(t, writes, f.writes)
			assert.ErrorIs(t, w.Close(), ErrWriterFailed)
		})
	}
}

func TestCommandLogWriter_RunReturnsFlushFailure(t *testing.T) {
	t.Parallel()
	f := &failingFile{}
	w := newTestWriter(t, f, true)
	w.cfg.FlushInterval = time.Millisecond
	require.Nil(t, w.Append(&wal.LogEntry{TxnID: 1, ProcedureID: 1}))
	f.failSync = true

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := w.Run(ctx)
	assert.ErrorIs(t, err, ErrWriterFailed)
}

func TestCommandLogWriter_HeaderFailure(t *testing.T) {
	t.Parallel()
	cfg := utils.DefaultCommandLogConfig()
	w := newCommandLogWriter("failing.cmdlog", &failingFile{failSync: true}, 0, cfg, nil)
	assert.ErrorIs(t, w.writeHeader(), ErrWriterFailed)
}
