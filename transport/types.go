package transport

import (
	"net"
	"time"
)

// Conn is a persistent bidirectional message channel. Each call to ReadFrame
// returns exactly one frame payload as written by one WriteFrame on the
// other side.
//
// ReadFrame must only be called from one goroutine. WriteFrame is safe for
// concurrent use.
type Conn interface {
	// ReadFrame blocks until a complete frame payload is available.
	ReadFrame() ([]byte, error)

	// WriteFrame sends one frame payload.
	WriteFrame(payload []byte) error

	// Close closes the underlying connection. Blocked reads and writes fail.
	Close() error

	// RemoteAddr returns the peer's network address.
	RemoteAddr() net.Addr

	// SetDeadline sets read and write deadlines on the underlying connection.
	SetDeadline(t time.Time) error
}
