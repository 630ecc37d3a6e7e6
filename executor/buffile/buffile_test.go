package buffile_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/cmdlog/executor/buffile"
)

func TestAppendFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "test.bin")
	fp, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	require.Nil(t, err)

	bf := buffile.New(fp, 0)
	dataIn := bytes.Repeat([]byte{0xaa}, 64)
	large := bytes.Repeat([]byte{0xbb}, buffile.DefaultBlockSize+10)

	_, err = bf.Write(dataIn)
	require.Nil(t, err)
	assert.Equal(t, 64, bf.Buffered())
	assert.Equal(t, int64(64), bf.Size())

	// a write larger than a block goes straight to the file
	_, err = bf.Write(large)
	require.Nil(t, err)
	assert.Equal(t, 0, bf.Buffered())

	_, err = bf.Write(dataIn)
	require.Nil(t, err)
	require.Nil(t, bf.Sync())
	assert.Equal(t, 0, bf.Buffered())

	// synced bytes are on disk in write order
	onDisk, err := os.ReadFile(filePath)
	require.Nil(t, err)
	want := append(append(append([]byte{}, dataIn...), large...), dataIn...)
	assert.Equal(t, want, onDisk)
	assert.Equal(t, int64(len(want)), bf.Size())

	require.Nil(t, bf.Close())
}

func TestAppendFile_FlushesFullBlocks(t *testing.T) {
	fake := &fakeFile{}
	bf := buffile.NewSize(fake, 100, 16)

	for i := 0; i < 4; i++ {
		_, err := bf.Write([]byte("0123456789"))
		require.Nil(t, err)
	}
	// 40 bytes through a 16 byte block: earlier writes reached the file
	assert.Greater(t, fake.buf.Len(), 0)
	assert.Equal(t, 0, fake.syncs)
	assert.Equal(t, int64(140), bf.Size())

	require.Nil(t, bf.Sync())
	assert.Equal(t, 40, fake.buf.Len())
	assert.Equal(t, 1, fake.syncs)
}

func TestAppendFile_WriteError(t *testing.T) {
	fake := &fakeFile{writeErr: errors.New("disk full")}
	bf := buffile.NewSize(fake, 0, 16)

	_, err := bf.Write([]byte("abc"))
	require.Nil(t, err)

	err = bf.Sync()
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 0, fake.syncs)
	// nothing was lost from the buffer
	assert.Equal(t, 3, bf.Buffered())

	assert.NotNil(t, bf.Close())
	assert.True(t, fake.closed)
}

type fakeFile struct {
	buf      bytes.Buffer
	writeErr error
	syncs    int
	closed   bool
}

func (f *fakeFile) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.buf.Write(p)
}

func (f *fakeFile) Sync() error {
	f.syncs++
	return nil
}

func (f *fakeFile) Close() error {
	f.closed = true
	return nil
}
