package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn carries one frame per WebSocket binary or text message.
type WSConn struct {
	ws           *websocket.Conn
	maxFrame     int
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

// NewWSConn wraps an upgraded or dialed WebSocket connection.
func NewWSConn(ws *websocket.Conn, maxFrame int) *WSConn {
	return &WSConn{
		ws:           ws,
		maxFrame:     maxFrame,
		writeTimeout: DefaultWriteTimeout,
	}
}

// ReadFrame returns the next message. Messages above the frame limit are
// drained and reported as *FrameTooLargeError.
func (c *WSConn) ReadFrame() ([]byte, error) {
	for {
		msgType, r, err := c.ws.NextReader()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}

		if c.maxFrame <= 0 {
			return io.ReadAll(r)
		}

		data, err := io.ReadAll(io.LimitReader(r, int64(c.maxFrame)+1))
		if err != nil {
			return nil, err
		}
		if len(data) > c.maxFrame {
			rest, err := io.Copy(io.Discard, r)
			if err != nil {
				return nil, err
			}
			return nil, &FrameTooLargeError{Size: int64(len(data)) + rest, Limit: c.maxFrame}
		}
		if len(data) == 0 {
			continue
		}
		return data, nil
	}
}

// WriteFrame sends payload as a single text message. Frames are JSON, so
// browsers can read them without a binary decoder.
func (c *WSConn) WriteFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close control message when possible and closes the socket.
func (c *WSConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.ws.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// RemoteAddr returns the peer address.
func (c *WSConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// SetDeadline sets read and write deadlines.
func (c *WSConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}
