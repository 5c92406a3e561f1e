package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/localshare/limits"
)

// lengthPrefixSize is the size of the big-endian frame length header.
const lengthPrefixSize = 4

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 5 * time.Second

// StreamConn frames a byte stream (TCP) with a 4-byte big-endian length prefix.
type StreamConn struct {
	conn         net.Conn
	maxFrame     int
	writeTimeout time.Duration

	writeMu sync.Mutex
	header  [lengthPrefixSize]byte
}

// NewStreamConn wraps conn. maxFrame bounds incoming payloads; zero disables
// the check.
func NewStreamConn(conn net.Conn, maxFrame int) *StreamConn {
	return &StreamConn{
		conn:         conn,
		maxFrame:     maxFrame,
		writeTimeout: DefaultWriteTimeout,
	}
}

// ReadFrame reads one length-prefixed frame. Oversized frames are drained
// from the stream and reported as *FrameTooLargeError.
func (c *StreamConn) ReadFrame() ([]byte, error) {
	length, err := c.readFrameLength()
	if err != nil {
		return nil, err
	}

	if err := limits.ValidateFrameLength(length, c.maxFrame); err != nil {
		if errors.Is(err, limits.ErrMessageTooLarge) {
			if _, derr := io.CopyN(io.Discard, c.conn, int64(length)); derr != nil {
				return nil, derr
			}
			return nil, &FrameTooLargeError{Size: int64(length), Limit: c.maxFrame}
		}
		return nil, err
	}

	return c.readFrameData(length)
}

// readFrameLength reads the 4-byte frame length header and returns the parsed length.
func (c *StreamConn) readFrameLength() (uint32, error) {
	if _, err := io.ReadFull(c.conn, c.header[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(c.header[:]), nil
}

// readFrameData reads frame data of the specified length from the connection.
func (c *StreamConn) readFrameData(length uint32) ([]byte, error) {
	data := make([]byte, length)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteFrame writes the length prefix and payload under a write deadline.
func (c *StreamConn) WriteFrame(payload []byte) error {
	if len(payload) == 0 {
		return limits.ErrMessageEmpty
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}

	buf := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:lengthPrefixSize], uint32(len(payload)))
	copy(buf[lengthPrefixSize:], payload)

	_, err := c.conn.Write(buf)
	return err
}

// Close closes the underlying connection.
func (c *StreamConn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the peer address.
func (c *StreamConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline sets read and write deadlines.
func (c *StreamConn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}
