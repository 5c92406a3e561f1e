package file

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/opd-ai/localshare/limits"
)

// Outgoing is a local file prepared for sending as chunks.
type Outgoing struct {
	FileID string
	Name   string
	Data   []byte
}

// Chunker splits outgoing files into fixed-size chunks.
type Chunker struct {
	ChunkSize int
	MaxBytes  int64
}

// NewChunker returns a chunker, clamping chunkSize to the accepted range.
func NewChunker(chunkSize int, maxBytes int64) *Chunker {
	if chunkSize <= 0 {
		chunkSize = limits.DefaultChunkSize
	}
	if chunkSize > limits.MaxChunkSize {
		chunkSize = limits.MaxChunkSize
	}
	if maxBytes <= 0 {
		maxBytes = limits.DefaultMaxTransferBytes
	}
	return &Chunker{ChunkSize: chunkSize, MaxBytes: maxBytes}
}

// Open reads path into memory under a fresh file id.
func (c *Chunker) Open(path string) (*Outgoing, error) {
	cleaned, err := ValidatePath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(cleaned)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cleaned, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", cleaned, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", cleaned)
	}
	if info.Size() > c.MaxBytes {
		return nil, fmt.Errorf("%w: file size %d exceeds limit %d", limits.ErrMessageTooLarge, info.Size(), c.MaxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(f, c.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", cleaned, err)
	}
	if int64(len(data)) > c.MaxBytes {
		return nil, fmt.Errorf("%w: file grew past limit %d", limits.ErrMessageTooLarge, c.MaxBytes)
	}

	return &Outgoing{
		FileID: uuid.NewString(),
		Name:   filepath.Base(cleaned),
		Data:   data,
	}, nil
}

// Split cuts data into ChunkSize pieces. Empty data yields one empty chunk
// so that empty files still produce a transfer.
func (c *Chunker) Split(data []byte) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(data)+c.ChunkSize-1)/c.ChunkSize)
	for off := 0; off < len(data); off += c.ChunkSize {
		end := off + c.ChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	return chunks
}
