package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/opd-ai/localshare/noise"
	"github.com/sirupsen/logrus"
)

// ProtocolVersion is the wire protocol version this build speaks.
const ProtocolVersion = 1

// DefaultHandshakeTimeout bounds the whole hello/welcome exchange.
const DefaultHandshakeTimeout = 5 * time.Second

// MaxClientIDLength bounds the optional client identity string.
const MaxClientIDLength = 128

// Hello is the first frame a client sends.
type Hello struct {
	ProtocolVersion int    `json:"protocolVersion"`
	ClientID        string `json:"clientId,omitempty"`
	Noise           []byte `json:"noise,omitempty"`
}

// Welcome is the server's answer to a Hello.
type Welcome struct {
	OK              bool   `json:"ok"`
	SessionID       string `json:"sessionId,omitempty"`
	ProtocolVersion int    `json:"protocolVersion,omitempty"`
	Noise           []byte `json:"noise,omitempty"`
	Error           string `json:"error,omitempty"`
}

// HandshakeConfig configures the server side of the handshake.
type HandshakeConfig struct {
	// SupportedVersions lists accepted protocol versions. Empty means
	// []int{ProtocolVersion}.
	SupportedVersions []int
	// PSK enables pairing when non-nil (see noise.DerivePSK).
	PSK []byte
	// Timeout bounds the exchange. Zero means DefaultHandshakeTimeout.
	Timeout time.Duration
}

func (c HandshakeConfig) supports(version int) bool {
	versions := c.SupportedVersions
	if len(versions) == 0 {
		versions = []int{ProtocolVersion}
	}
	for _, v := range versions {
		if v == version {
			return true
		}
	}
	return false
}

func (c HandshakeConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultHandshakeTimeout
}

// Peer is a connection whose hello has been validated. The server assigns a
// session id and calls Welcome to finish the exchange.
type Peer struct {
	ClientID        string
	ProtocolVersion int
	Paired          bool

	raw        Conn
	conn       Conn
	noiseReply []byte
	welcomed   bool
}

// Conn returns the channel to use after Welcome. On paired connections it
// seals every frame.
func (p *Peer) Conn() Conn {
	return p.conn
}

// RemoteAddr returns the peer address.
func (p *Peer) RemoteAddr() net.Addr {
	return p.raw.RemoteAddr()
}

// Welcome completes the handshake with the assigned session id and clears
// the handshake deadline.
func (p *Peer) Welcome(sessionID string) error {
	if p.welcomed {
		return fmt.Errorf("%w: peer already welcomed", ErrInvalidHandshake)
	}
	p.welcomed = true

	if err := writeWelcome(p.raw, &Welcome{
		OK:              true,
		SessionID:       sessionID,
		ProtocolVersion: p.ProtocolVersion,
		Noise:           p.noiseReply,
	}); err != nil {
		return err
	}
	return p.raw.SetDeadline(time.Time{})
}

// Reject answers the hello with ok=false and closes the connection.
func (p *Peer) Reject(reason string) error {
	_ = writeWelcome(p.raw, &Welcome{OK: false, Error: reason})
	return p.raw.Close()
}

// ServerHandshake reads and validates a Hello on conn. On failure the client
// receives ok=false, the connection is closed and no Peer is returned.
func ServerHandshake(conn Conn, cfg HandshakeConfig) (*Peer, error) {
	if err := conn.SetDeadline(time.Now().Add(cfg.timeout())); err != nil {
		conn.Close()
		return nil, err
	}

	peer, err := serverHandshake(conn, cfg)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ServerHandshake",
			"remote":   remoteString(conn),
			"error":    err.Error(),
		}).Warn("Handshake failed, closing connection")

		if !isTimeout(err) && !errors.Is(err, ErrHandshakeTimeout) {
			_ = writeWelcome(conn, &Welcome{OK: false, Error: err.Error()})
		}
		conn.Close()
		return nil, err
	}
	return peer, nil
}

func serverHandshake(conn Conn, cfg HandshakeConfig) (*Peer, error) {
	data, err := conn.ReadFrame()
	if err != nil {
		if isTimeout(err) {
			return nil, ErrHandshakeTimeout
		}
		return nil, fmt.Errorf("read hello: %w", err)
	}

	var hello Hello
	if err := json.Unmarshal(data, &hello); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	if !cfg.supports(hello.ProtocolVersion) {
		return nil, fmt.Errorf("%w: client speaks %d", ErrVersionMismatch, hello.ProtocolVersion)
	}
	if len(hello.ClientID) > MaxClientIDLength {
		return nil, fmt.Errorf("%w: client id too long", ErrInvalidHandshake)
	}

	peer := &Peer{
		ClientID:        hello.ClientID,
		ProtocolVersion: hello.ProtocolVersion,
		raw:             conn,
		conn:            conn,
	}

	switch {
	case cfg.PSK == nil && len(hello.Noise) > 0:
		return nil, fmt.Errorf("%w: pairing is not enabled on this server", ErrInvalidHandshake)
	case cfg.PSK == nil:
		return peer, nil
	case len(hello.Noise) == 0:
		return nil, ErrPairingRequired
	}

	hs, err := noise.NewPairingHandshake(cfg.PSK, noise.Responder)
	if err != nil {
		return nil, err
	}
	reply, err := hs.Respond(hello.Noise)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairingFailed, err)
	}
	send, recv, err := hs.Ciphers()
	if err != nil {
		return nil, err
	}

	peer.Paired = true
	peer.noiseReply = reply
	peer.conn = NewSecureConn(conn, send, recv)
	return peer, nil
}

// ClientConfig configures the client side of the handshake.
type ClientConfig struct {
	ProtocolVersion int
	ClientID        string
	// PSK enables pairing when non-nil.
	PSK     []byte
	Timeout time.Duration
}

// ClientHandshake sends a Hello and waits for the Welcome. It returns the
// channel to use from now on (sealed when paired).
func ClientHandshake(conn Conn, cfg ClientConfig) (Conn, *Welcome, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, err
	}

	version := cfg.ProtocolVersion
	if version == 0 {
		version = ProtocolVersion
	}
	hello := Hello{ProtocolVersion: version, ClientID: cfg.ClientID}

	var hs *noise.PairingHandshake
	if cfg.PSK != nil {
		var err error
		hs, err = noise.NewPairingHandshake(cfg.PSK, noise.Initiator)
		if err != nil {
			return nil, nil, err
		}
		if hello.Noise, err = hs.Initiate(); err != nil {
			return nil, nil, err
		}
	}

	data, err := json.Marshal(&hello)
	if err != nil {
		return nil, nil, err
	}
	if err := conn.WriteFrame(data); err != nil {
		return nil, nil, fmt.Errorf("write hello: %w", err)
	}

	reply, err := conn.ReadFrame()
	if err != nil {
		if isTimeout(err) {
			return nil, nil, ErrHandshakeTimeout
		}
		return nil, nil, fmt.Errorf("read welcome: %w", err)
	}

	var welcome Welcome
	if err := json.Unmarshal(reply, &welcome); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	if !welcome.OK {
		return nil, &welcome, fmt.Errorf("%w: %s", ErrHandshakeRejected, welcome.Error)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, nil, err
	}

	if hs == nil {
		return conn, &welcome, nil
	}
	if err := hs.Finish(welcome.Noise); err != nil {
		return nil, &welcome, fmt.Errorf("%w: %v", ErrPairingFailed, err)
	}
	send, recv, err := hs.Ciphers()
	if err != nil {
		return nil, &welcome, err
	}
	return NewSecureConn(conn, send, recv), &welcome, nil
}

func writeWelcome(conn Conn, w *Welcome) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return conn.WriteFrame(data)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func remoteString(conn Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
