package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionMismatch indicates incompatible protocol versions
	ErrVersionMismatch = errors.New("protocol version mismatch")
	// ErrHandshakeTimeout indicates handshake took too long
	ErrHandshakeTimeout = errors.New("handshake timeout")
	// ErrInvalidHandshake indicates a malformed hello or welcome
	ErrInvalidHandshake = errors.New("invalid handshake data")
	// ErrPairingRequired indicates the server expects a pairing handshake
	ErrPairingRequired = errors.New("pairing required")
	// ErrPairingFailed indicates the pairing code did not match
	ErrPairingFailed = errors.New("pairing failed")
	// ErrHandshakeRejected indicates the server answered the hello with ok=false
	ErrHandshakeRejected = errors.New("handshake rejected by server")
	// ErrListenerClosed is returned by Accept after Close
	ErrListenerClosed = errors.New("listener closed")
	// ErrUnsupportedNetwork indicates an unknown ListenConfig.Network
	ErrUnsupportedNetwork = errors.New("unsupported network")
)

// BindError reports that the listening socket could not be created. It is
// fatal at startup and never retried.
type BindError struct {
	Network string
	Address string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s %s: %v", e.Network, e.Address, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// FrameTooLargeError reports a frame whose declared or actual length exceeds
// the configured maximum. The payload has been discarded, so the connection
// stays usable.
type FrameTooLargeError struct {
	Size  int64
	Limit int
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("frame too large: %d bytes exceeds limit %d", e.Size, e.Limit)
}
