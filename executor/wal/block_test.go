package wal_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/cmdlog/executor/wal"
)

func encodeAll(t *testing.T, entries ...*wal.LogEntry) [][]byte {
	t.Helper()
	records := make([][]byte, 0, len(entries))
	for _, e := range entries {
		record, err := wal.EncodeEntry(e)
		require.Nil(t, err)
		records = append(records, record)
	}
	return records
}

func TestPackUnpackBlock(t *testing.T) {
	t.Parallel()

	entries := []*wal.LogEntry{
		sampleEntry(1, "alpha", int64(1)),
		sampleEntry(2, "beta", []byte("raw")),
		sampleEntry(3),
	}
	frame, compressedLen := wal.PackBlock(encodeAll(t, entries...))
	assert.Equal(t, len(frame)-4, compressedLen)
	assert.Equal(t, uint32(compressedLen), binary.BigEndian.Uint32(frame))

	c, n, err := wal.UnpackBlock(bytes.NewReader(frame), int64(len(frame)))
	require.Nil(t, err)
	assert.Equal(t, len(frame), n)

	var got []*wal.LogEntry
	for c.Remaining() > 0 {
		e, err := wal.DecodeEntry(c)
		require.Nil(t, err)
		got = append(got, e)
	}
	if diff := cmp.Diff(entries, got); diff != "" {
		t.Errorf("block entries mismatch (-want +got):\n%s", diff)
	}
}

func TestPackBlock_Empty(t *testing.T) {
	t.Parallel()

	frame, _ := wal.PackBlock(nil)
	c, _, err := wal.UnpackBlock(bytes.NewReader(frame), -1)
	require.Nil(t, err)
	assert.Equal(t, 0, c.Remaining())
}

func TestUnpackBlock_Errors(t *testing.T) {
	t.Parallel()

	frame, _ := wal.PackBlock(encodeAll(t, sampleEntry(1, "some text that compresses some text that compresses")))

	corrupt := append([]byte{}, frame...)
	for i := 4; i < len(corrupt); i++ {
		corrupt[i] = 0xFF
	}
	negative := append([]byte{}, frame...)
	binary.BigEndian.PutUint32(negative, 0x80000000)

	tests := map[string]struct {
		data    []byte
		limit   int64
		wantErr error
	}{
		"error/ empty stream is a clean end": {
			data:    nil,
			limit:   0,
			wantErr: io.EOF,
		},
		"error/ short length prefix": {
			data:    frame[:2],
			limit:   -1,
			wantErr: wal.ErrTruncatedBlock,
		},
		"error/ short payload": {
			data:    frame[:len(frame)-1],
			limit:   -1,
			wantErr: wal.ErrTruncatedBlock,
		},
		"error/ payload longer than the remaining file": {
			data:    frame,
			limit:   int64(len(frame) - 1),
			wantErr: wal.ErrTruncatedBlock,
		},
		"error/ negative length": {
			data:    negative,
			limit:   -1,
			wantErr: wal.ErrCorruptBlock,
		},
		"error/ garbage payload": {
			data:    corrupt,
			limit:   -1,
			wantErr: wal.ErrCorruptBlock,
		},
	}
	for name := range tests {
		tt := tests[name]
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, _, err := wal.UnpackBlock(bytes.NewReader(tt.data), tt.limit)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUnpackBlock_CorruptMessage(t *testing.T) {
	t.Parallel()

	frame, _ := wal.PackBlock(encodeAll(t, sampleEntry(1, "x")))
	for i := 4; i < len(frame); i++ {
		frame[i] = 0xFF
	}
	_, _, err := wal.UnpackBlock(bytes.NewReader(frame), -1)
	require.ErrorIs(t, err, wal.ErrCorruptBlock)
	// the sentinel leads and the decoder's cause follows
	assert.True(t, strings.HasPrefix(err.Error(), wal.ErrCorruptBlock.Error()+": "), err.Error())
}
