package file

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/opd-ai/localshare/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerSplit(t *testing.T) {
	c := NewChunker(4, 0)

	chunks := c.Split([]byte("abcdefghij"))
	require.Len(t, chunks, 3)
	assert.Equal(t, []byte("abcd"), chunks[0])
	assert.Equal(t, []byte("efgh"), chunks[1])
	assert.Equal(t, []byte("ij"), chunks[2])

	assert.Len(t, c.Split(nil), 1)
	assert.Len(t, c.Split([]byte("abcd")), 1)
}

func TestNewChunkerClamps(t *testing.T) {
	assert.Equal(t, limits.DefaultChunkSize, NewChunker(0, 0).ChunkSize)
	assert.Equal(t, limits.MaxChunkSize, NewChunker(limits.MaxChunkSize*2, 0).ChunkSize)
	assert.Equal(t, int64(limits.DefaultMaxTransferBytes), NewChunker(0, 0).MaxBytes)
}

func TestChunkerOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.pdf")
	content := bytes.Repeat([]byte("z"), 1000)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	c := NewChunker(256, 0)
	out, err := c.Open(path)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", out.Name)
	assert.NotEmpty(t, out.FileID)
	assert.Equal(t, content, out.Data)
	assert.Len(t, c.Split(out.Data), 4)

	again, err := c.Open(path)
	require.NoError(t, err)
	assert.NotEqual(t, out.FileID, again.FileID)
}

func TestChunkerOpenErrors(t *testing.T) {
	dir := t.TempDir()
	c := NewChunker(16, 8)

	_, err := c.Open(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = c.Open(dir)
	assert.Error(t, err)

	big := filepath.Join(dir, "big.bin")
	require.NoError(t, os.WriteFile(big, make([]byte, 9), 0o644))
	_, err = c.Open(big)
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)

	_, err = c.Open("../../etc/passwd")
	assert.ErrorIs(t, err, ErrDirectoryTraversal)
}

func TestChunkRoundTripThroughManager(t *testing.T) {
	m, _ := newTestManager()
	c := NewChunker(3, 0)
	data := []byte("the quick brown fox")
	chunks := c.Split(data)

	var done *Completed
	for i := len(chunks) - 1; i >= 0; i-- {
		status, d, err := m.AcceptChunk("rt", testSession, "fox.txt", i, len(chunks), chunks[i])
		require.NoError(t, err)
		if status == StatusComplete {
			done = d
		}
	}
	require.NotNil(t, done)
	assert.Equal(t, data, done.Data)
}
