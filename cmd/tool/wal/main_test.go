package wal

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/cmdlog/executor"
	"github.com/alpacahq/cmdlog/executor/wal"
	"github.com/alpacahq/cmdlog/utils"
)

func writeTestLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "partition-0001.cmdlog")
	w, err := executor.OpenForAppend(path, utils.DefaultCommandLogConfig(),
		wal.ProcedureTable{{ID: 4, Name: "NewOrder"}})
	require.Nil(t, err)
	ts := time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)
	require.Nil(t, w.Append(&wal.LogEntry{TxnID: 10, ProcedureID: 4, Timestamp: ts.UnixNano(),
		Params: []interface{}{"AAPL", int64(100), nil}}))
	require.Nil(t, w.Append(&wal.LogEntry{TxnID: 11, ProcedureID: 4, Timestamp: ts.UnixNano()}))
	require.Nil(t, w.Close())
	return path
}

func TestDump_JSON(t *testing.T) {
	t.Parallel()
	r, err := executor.OpenForReplay(writeTestLog(t))
	require.Nil(t, err)
	defer r.Close()

	var out bytes.Buffer
	require.Nil(t, dump(&out, r, true))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first entryLine
	require.Nil(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, int64(10), first.TxnID)
	assert.Equal(t, "NewOrder", first.Procedure)
	assert.True(t, first.Timestamp.Equal(time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)))
	// numbers come back from JSON as float64
	assert.Equal(t, []interface{}{"AAPL", float64(100), nil}, first.Params)
}

func TestDump_Text(t *testing.T) {
	t.Parallel()
	r, err := executor.OpenForReplay(writeTestLog(t))
	require.Nil(t, err)
	defer r.Close()

	var out bytes.Buffer
	printHeader(&out, r.Header())
	require.Nil(t, dump(&out, r, false))

	s := out.String()
	assert.Contains(t, s, "mode: group-commit")
	assert.Contains(t, s, "NewOrder")
	assert.Contains(t, s, "LogEntry[txn:11]")
}
