package file

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrDirectoryTraversal indicates an attempt to access files outside allowed directories.
var ErrDirectoryTraversal = errors.New("path contains directory traversal")

// ErrFileNameTooLong indicates that a file name exceeds the maximum allowed length.
var ErrFileNameTooLong = errors.New("file name too long")

// MaxFileNameLength is the maximum allowed file name length in bytes.
// The value (255) matches typical filesystem limits.
const MaxFileNameLength = 255

// DefaultIdleTimeout is how long a transfer may go without a chunk before
// Sweep abandons it.
const DefaultIdleTimeout = 60 * time.Second

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Transfer is an incoming file being reassembled. Only the owning session may
// add chunks to it.
type Transfer struct {
	FileID     string
	SessionID  string
	Name       string
	ChunkCount int
	StartTime  time.Time

	mu            sync.Mutex
	chunks        [][]byte
	received      []bool
	receivedCount int
	totalBytes    int64
	lastChunkTime time.Time
	finished      bool
}

func newTransfer(fileID, sessionID, name string, count int, now time.Time) *Transfer {
	return &Transfer{
		FileID:        fileID,
		SessionID:     sessionID,
		Name:          name,
		ChunkCount:    count,
		StartTime:     now,
		chunks:        make([][]byte, count),
		received:      make([]bool, count),
		lastChunkTime: now,
	}
}

// Progress reports how many distinct chunks and bytes have arrived.
func (t *Transfer) Progress() (chunks int, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.receivedCount, t.totalBytes
}

// LastChunkTime returns when the most recent new chunk arrived.
func (t *Transfer) LastChunkTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastChunkTime
}

// add stores a chunk. The caller holds t.mu and has validated index.
// Duplicates keep the first copy and do not refresh the idle timer.
func (t *Transfer) add(index int, data []byte, now time.Time) (duplicate bool) {
	if t.received[index] {
		return true
	}
	t.chunks[index] = append([]byte(nil), data...)
	t.received[index] = true
	t.receivedCount++
	t.totalBytes += int64(len(data))
	t.lastChunkTime = now
	return false
}

func (t *Transfer) complete() bool {
	return t.receivedCount == t.ChunkCount
}

// assemble concatenates the chunks in index order and releases them.
func (t *Transfer) assemble() []byte {
	data := make([]byte, 0, t.totalBytes)
	for i, c := range t.chunks {
		data = append(data, c...)
		t.chunks[i] = nil
	}
	return data
}

// ValidatePath checks if a file path is safe from directory traversal attacks.
// It returns the cleaned path or an error if the path contains traversal attempts.
func ValidatePath(path string) (string, error) {
	cleanedPath := filepath.Clean(path)

	for _, part := range strings.Split(filepath.ToSlash(cleanedPath), "/") {
		if part == ".." {
			return "", ErrDirectoryTraversal
		}
	}

	return cleanedPath, nil
}

// SanitizeName reduces a peer-suggested file name to a single safe path
// element. Names that try to traverse directories are rejected.
func SanitizeName(name string) (string, error) {
	if len(name) > MaxFileNameLength {
		return "", ErrFileNameTooLong
	}
	if strings.ContainsRune(name, 0) {
		return "", ErrDirectoryTraversal
	}
	cleaned, err := ValidatePath(strings.ReplaceAll(name, `\`, "/"))
	if err != nil {
		return "", err
	}
	base := filepath.Base(cleaned)
	if base == "." || base == "/" || base == "" {
		return "file", nil
	}
	return base, nil
}
