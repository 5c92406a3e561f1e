package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
)

// SecureConn seals every frame of an inner Conn with the cipher states
// produced by a pairing handshake.
type SecureConn struct {
	inner Conn
	send  *noise.CipherState
	recv  *noise.CipherState

	sendMu sync.Mutex
}

// NewSecureConn wraps inner. The inner connection's frame limit must allow
// for the seal overhead.
func NewSecureConn(inner Conn, send, recv *noise.CipherState) *SecureConn {
	return &SecureConn{inner: inner, send: send, recv: recv}
}

// ReadFrame reads and opens one sealed frame. An oversized frame is skipped
// without decrypting it, so the receive nonce is advanced past it.
func (c *SecureConn) ReadFrame() ([]byte, error) {
	sealed, err := c.inner.ReadFrame()
	if err != nil {
		var tooLarge *FrameTooLargeError
		if errors.As(err, &tooLarge) {
			c.recv.SetNonce(c.recv.Nonce() + 1)
		}
		return nil, err
	}
	plain, err := c.recv.Decrypt(nil, nil, sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairingFailed, err)
	}
	return plain, nil
}

// WriteFrame seals and writes one frame. Sealing and writing happen under one
// lock so nonces reach the wire in order.
func (c *SecureConn) WriteFrame(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	sealed, err := c.send.Encrypt(nil, nil, payload)
	if err != nil {
		return err
	}
	return c.inner.WriteFrame(sealed)
}

// Close closes the inner connection.
func (c *SecureConn) Close() error {
	return c.inner.Close()
}

// RemoteAddr returns the peer address.
func (c *SecureConn) RemoteAddr() net.Addr {
	return c.inner.RemoteAddr()
}

// SetDeadline sets deadlines on the inner connection.
func (c *SecureConn) SetDeadline(t time.Time) error {
	return c.inner.SetDeadline(t)
}
