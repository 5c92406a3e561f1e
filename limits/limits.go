// Package limits provides centralized size limits for localshare frames,
// file chunks and assembled transfers.
// This ensures consistent validation across the transport, router and file manager.
package limits

import (
	"errors"
	"fmt"
)

const (
	// DefaultMaxFrameBytes is the default upper bound for a single wire frame (1MB).
	// It covers a base64-encoded DefaultChunkSize chunk plus the JSON envelope.
	DefaultMaxFrameBytes = 1024 * 1024

	// DefaultChunkSize is the size of file chunks produced by the server (64KB).
	DefaultChunkSize = 64 * 1024

	// MaxChunkSize is the largest chunk payload the file manager accepts (512KB).
	MaxChunkSize = 512 * 1024

	// MaxTextMessage is the maximum length of a text message in bytes (64KB).
	MaxTextMessage = 64 * 1024

	// DefaultMaxTransferBytes bounds an assembled file (256MB).
	DefaultMaxTransferBytes = 256 * 1024 * 1024

	// MaxChunkCount bounds the declared number of chunks for one file.
	MaxChunkCount = 1 << 20

	// SealOverhead is the ChaCha20-Poly1305 tag added to every frame on a
	// paired connection.
	SealOverhead = 16
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateText validates a text message against MaxTextMessage.
func ValidateText(text string) error {
	if len(text) == 0 {
		return ErrMessageEmpty
	}
	if len(text) > MaxTextMessage {
		return fmt.Errorf("%w: text size %d exceeds limit %d", ErrMessageTooLarge, len(text), MaxTextMessage)
	}
	return nil
}

// ValidateFrameLength checks a frame length read off the wire before the
// payload is allocated. Zero-length frames are rejected.
func ValidateFrameLength(length uint32, maxSize int) error {
	if length == 0 {
		return ErrMessageEmpty
	}
	if maxSize > 0 && uint64(length) > uint64(maxSize) {
		return fmt.Errorf("%w: frame size %d exceeds limit %d", ErrMessageTooLarge, length, maxSize)
	}
	return nil
}
