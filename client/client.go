// Package client is a Go client for a localshare server. The CLI uses it to
// send and receive, and the server's integration tests use it as a peer.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/opd-ai/localshare/file"
	"github.com/opd-ai/localshare/limits"
	"github.com/opd-ai/localshare/noise"
	"github.com/opd-ai/localshare/transport"
	"github.com/sirupsen/logrus"
)

// Defaults for Config.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultFrameBuffer       = 256
	DefaultDialTimeout       = 5 * time.Second
	DefaultRetryAttempts     = 5
	DefaultRetryBackoff      = time.Second
)

// ErrClosed is returned by sends after Close or after the connection dropped.
var ErrClosed = errors.New("client closed")

// Config configures a Client.
type Config struct {
	// Address is host:port of the server.
	Address string
	// Network is transport.NetworkTCP (default) or transport.NetworkWebSocket.
	Network           string
	ClientID          string
	PairingCode       string
	MaxFrameBytes     int
	ChunkSize         int
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	FrameBuffer       int
}

func (c Config) withDefaults() Config {
	if c.Network == "" {
		c.Network = transport.NetworkTCP
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = limits.DefaultMaxFrameBytes
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = limits.DefaultChunkSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.FrameBuffer <= 0 {
		c.FrameBuffer = DefaultFrameBuffer
	}
	return c
}

// Client is one connected localshare peer.
type Client struct {
	cfg       Config
	conn      transport.Conn
	sessionID string
	chunker   *file.Chunker

	frames    chan *transport.Frame
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// Dial connects, completes the handshake and starts the receive and
// heartbeat loops.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Address == "" {
		return nil, errors.New("server address is required")
	}

	raw, err := dialConn(ctx, cfg)
	if err != nil {
		return nil, err
	}

	hcfg := transport.ClientConfig{
		ClientID: cfg.ClientID,
		Timeout:  cfg.HandshakeTimeout,
	}
	if cfg.PairingCode != "" {
		psk, err := noise.DerivePSK(cfg.PairingCode)
		if err != nil {
			raw.Close()
			return nil, err
		}
		hcfg.PSK = psk
	}

	conn, welcome, err := transport.ClientHandshake(raw, hcfg)
	if err != nil {
		raw.Close()
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		conn:      conn,
		sessionID: welcome.SessionID,
		chunker:   file.NewChunker(cfg.ChunkSize, 0),
		frames:    make(chan *transport.Frame, cfg.FrameBuffer),
		done:      make(chan struct{}),
	}

	c.wg.Add(2)
	go c.receiveLoop()
	go c.heartbeatLoop()

	logrus.WithFields(logrus.Fields{
		"function":   "Dial",
		"address":    cfg.Address,
		"network":    cfg.Network,
		"session_id": c.sessionID,
	}).Info("Connected to localshare server")

	return c, nil
}

func dialConn(ctx context.Context, cfg Config) (transport.Conn, error) {
	// Paired connections carry a seal tag on every frame.
	maxFrame := cfg.MaxFrameBytes + limits.SealOverhead

	switch cfg.Network {
	case transport.NetworkTCP:
		d := net.Dialer{Timeout: DefaultDialTimeout}
		nc, err := d.DialContext(ctx, "tcp", cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", cfg.Address, err)
		}
		return transport.NewStreamConn(nc, maxFrame), nil
	case transport.NetworkWebSocket:
		dialer := websocket.Dialer{HandshakeTimeout: DefaultDialTimeout}
		url := "ws://" + cfg.Address + transport.WebSocketPath
		ws, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		return transport.NewWSConn(ws, maxFrame), nil
	default:
		return nil, fmt.Errorf("%w: %q", transport.ErrUnsupportedNetwork, cfg.Network)
	}
}

// DialWithRetry calls Dial up to attempts times, waiting backoff between
// tries. Handshake rejections such as a version mismatch are not retried.
func DialWithRetry(ctx context.Context, cfg Config, attempts int, backoff time.Duration) (*Client, error) {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		c, err := Dial(ctx, cfg)
		if err == nil {
			return c, nil
		}
		lastErr = err
		if errors.Is(err, transport.ErrHandshakeRejected) || errors.Is(err, transport.ErrPairingFailed) {
			return nil, err
		}

		logrus.WithFields(logrus.Fields{
			"function": "DialWithRetry",
			"attempt":  i + 1,
			"attempts": attempts,
			"error":    err.Error(),
		}).Warn("Connection attempt failed")

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}

// SessionID returns the id the server assigned.
func (c *Client) SessionID() string { return c.sessionID }

// Frames delivers frames from the server. It is closed when the connection
// ends; Err then reports why.
func (c *Client) Frames() <-chan *transport.Frame { return c.frames }

// Done is closed when the client shuts down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Send writes one frame.
func (c *Client) Send(frame *transport.Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	payload, err := transport.EncodeFrame(frame)
	if err != nil {
		return err
	}
	return c.conn.WriteFrame(payload)
}

// SendText sends a text message and returns its id.
func (c *Client) SendText(content string) (string, error) {
	if err := limits.ValidateText(content); err != nil {
		return "", err
	}
	id := uuid.NewString()
	return id, c.Send(&transport.Frame{Kind: transport.KindText, ID: id, Content: content})
}

// SendFile sends a local file as chunks and returns its file id.
func (c *Client) SendFile(path string) (string, error) {
	out, err := c.chunker.Open(path)
	if err != nil {
		return "", err
	}
	if err := c.SendData(out.FileID, out.Name, out.Data); err != nil {
		return "", err
	}
	return out.FileID, nil
}

// SendData sends data as a file called name under fileID.
func (c *Client) SendData(fileID, name string, data []byte) error {
	chunks := c.chunker.Split(data)
	for i, chunk := range chunks {
		err := c.Send(&transport.Frame{
			Kind:       transport.KindFileChunk,
			FileID:     fileID,
			Name:       name,
			ChunkIndex: i,
			ChunkCount: len(chunks),
			Bytes:      chunk,
			Size:       int64(len(data)),
		})
		if err != nil {
			return fmt.Errorf("send chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

// Ping sends a heartbeat.
func (c *Client) Ping() error {
	return c.Send(&transport.Frame{Kind: transport.KindPing})
}

// Close ends the connection and waits for the client's goroutines.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	c.wg.Wait()
	return err
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

func (c *Client) receiveLoop() {
	defer c.wg.Done()
	defer close(c.frames)

	for {
		raw, err := c.conn.ReadFrame()
		if err != nil {
			var tooLarge *transport.FrameTooLargeError
			if errors.As(err, &tooLarge) {
				logrus.WithFields(logrus.Fields{
					"function": "receiveLoop",
					"size":     tooLarge.Size,
				}).Warn("Skipping oversized frame from server")
				continue
			}
			select {
			case <-c.done:
			default:
				c.setErr(err)
				c.closeOnce.Do(func() {
					close(c.done)
					c.conn.Close()
				})
			}
			return
		}

		frame, err := transport.DecodeFrame(raw)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "receiveLoop",
				"error":    err.Error(),
			}).Warn("Undecodable frame from server")
			continue
		}

		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}

func (c *Client) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Ping(); err != nil && !errors.Is(err, ErrClosed) {
				logrus.WithFields(logrus.Fields{
					"function": "heartbeatLoop",
					"error":    err.Error(),
				}).Debug("Heartbeat failed")
			}
		}
	}
}
