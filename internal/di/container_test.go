package di_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/cmdlog/executor"
	"github.com/alpacahq/cmdlog/executor/wal"
	"github.com/alpacahq/cmdlog/internal/di"
	"github.com/alpacahq/cmdlog/utils"
)

var procs = wal.ProcedureTable{{ID: 1, Name: "Transfer"}, {ID: 2, Name: "Audit"}}

func newTestContainer(t *testing.T) *di.Container {
	t.Helper()
	rootDir := filepath.Join(t.TempDir(), "logs")
	cfg, err := utils.ParseConfig([]byte(
		"root_directory: " + rootDir + "\ncommand_log:\n  flush_interval: 5ms\n"))
	require.Nil(t, err)
	return di.NewContainer(cfg)
}

func TestContainer_GetAbsRootDir(t *testing.T) {
	t.Parallel()
	c := newTestContainer(t)

	rootDir := c.GetAbsRootDir()
	assert.True(t, filepath.IsAbs(rootDir))
	fi, err := os.Stat(rootDir)
	require.Nil(t, err)
	assert.True(t, fi.IsDir())
	assert.Equal(t, rootDir, c.GetAbsRootDir())
}

func TestContainer_StartPartitionRecoversPreviousRun(t *testing.T) {
	t.Parallel()
	c := newTestContainer(t)

	// --- given --- a previous run that crashed with one partition log
	ctx, cancel := context.WithCancel(context.Background())
	w, err := c.StartPartition(ctx, 5, procs, nil)
	require.Nil(t, err)
	require.Nil(t, w.Append(&wal.LogEntry{TxnID: 1, ProcedureID: 1, Params: []interface{}{"a"}}))
	require.Nil(t, w.Append(&wal.LogEntry{TxnID: 2, ProcedureID: 2}))
	cancel()
	require.Nil(t, c.Shutdown())

	// --- when --- the next run starts the same partition
	next := di.NewContainer(c.Config())
	var replayed []int64
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	w2, err := next.StartPartition(ctx2, 5, procs, func(_ string, _ *wal.Header, e *wal.LogEntry) error {
		replayed = append(replayed, e.TxnID)
		return nil
	})

	// --- then ---
	require.Nil(t, err)
	assert.Equal(t, []int64{1, 2}, replayed)
	assert.Equal(t, executor.CommandLogPath(next.GetAbsRootDir(), 5), w2.Path())

	same, err := next.GetCommandLogWriter(5, procs)
	require.Nil(t, err)
	assert.Same(t, w2, same)

	require.Nil(t, w2.Append(&wal.LogEntry{TxnID: 3, ProcedureID: 1}))
	assert.Eventually(t, func() bool { return w2.Pending() == 0 }, time.Second, time.Millisecond)
	cancel2()
	require.Nil(t, next.Shutdown())

	select {
	case err := <-next.Errors():
		t.Fatalf("unexpected flush failure: %v", err)
	default:
	}
}

func TestContainer_StartPartitionFailsOnCorruptLog(t *testing.T) {
	t.Parallel()
	c := newTestContainer(t)
	path := executor.CommandLogPath(c.GetAbsRootDir(), 1)
	require.Nil(t, os.WriteFile(path, []byte{5, 0, 0, 0, 0, 0}, 0o600))

	_, err := c.StartPartition(context.Background(), 1, procs, nil)
	assert.ErrorIs(t, err, wal.ErrCorruptHeader)

	// a failed start can be retried once the log is dealt with
	require.Nil(t, os.Remove(path))
	_, err = c.StartPartition(context.Background(), 1, procs, nil)
	require.Nil(t, err)
	require.Nil(t, c.Shutdown())
}

func TestContainer_StartPartitionTwice(t *testing.T) {
	t.Parallel()
	c := newTestContainer(t)

	// --- given --- a running partition
	w, err := c.StartPartition(context.Background(), 3, procs, nil)
	require.Nil(t, err)
	require.Nil(t, w.Append(&wal.LogEntry{TxnID: 1, ProcedureID: 1}))

	// --- when --- it is started again
	replayed := 0
	_, err = c.StartPartition(context.Background(), 3, procs, func(string, *wal.Header, *wal.LogEntry) error {
		replayed++
		return nil
	})

	// --- then --- the live log is left alone
	assert.ErrorIs(t, err, di.ErrPartitionStarted)
	assert.Zero(t, replayed)
	assert.Equal(t, executor.CommandLogPath(c.GetAbsRootDir(), 3), w.Path())
	require.Nil(t, w.Append(&wal.LogEntry{TxnID: 2, ProcedureID: 2}))

	// the context was never cancelled, Shutdown still returns
	require.Nil(t, c.Shutdown())

	var txns []int64
	res, err := di.NewContainer(c.Config()).RecoverPartition(3, func(_ string, _ *wal.Header, e *wal.LogEntry) error {
		txns = append(txns, e.TxnID)
		return nil
	})
	require.Nil(t, err)
	assert.Equal(t, []int64{1, 2}, txns)
	assert.NotEmpty(t, res.MovedTo)
}
