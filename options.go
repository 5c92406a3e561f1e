package localshare

import (
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/localshare/discovery"
	"github.com/opd-ai/localshare/limits"
	"github.com/opd-ai/localshare/session"
	"github.com/opd-ai/localshare/transport"
)

// ErrInvalidOptions is wrapped by every Options.Validate failure.
var ErrInvalidOptions = errors.New("invalid options")

// DefaultPort is the port the server listens on unless told otherwise.
const DefaultPort = 3000

// Options contains server configuration.
type Options struct {
	// Port to listen on. Zero picks a free port.
	Port int
	// BindAddress restricts the listener to one local address. Empty binds
	// every interface.
	BindAddress string
	// Network is "tcp" (length-prefixed frames) or "websocket".
	Network string

	MaxFrameBytes       int
	SessionIdleTimeout  time.Duration
	TransferIdleTimeout time.Duration
	SweepInterval       time.Duration
	HandshakeTimeout    time.Duration

	OutboundQueue     int
	InboundQueue      int
	SlowPeerPolicy    session.SlowPeerPolicy
	MaxProtocolErrors int

	ChunkSize        int
	MaxTransferBytes int64
	EventBuffer      int

	// PairingCode, when set, requires clients to prove knowledge of it
	// during the handshake; the session is then encrypted.
	PairingCode string
	// DownloadDir, when set, receives every completed file.
	DownloadDir string

	// Announce enables the multicast discovery beacon.
	Announce bool
	Beacon   discovery.BeaconConfig

	// Lister overrides interface enumeration, mainly for tests.
	Lister discovery.Lister
}

// NewOptions returns options with the default settings.
func NewOptions() *Options {
	return &Options{
		Port:                DefaultPort,
		BindAddress:         "",
		Network:             transport.NetworkTCP,
		MaxFrameBytes:       limits.DefaultMaxFrameBytes,
		SessionIdleTimeout:  30 * time.Second,
		TransferIdleTimeout: 60 * time.Second,
		SweepInterval:       5 * time.Second,
		HandshakeTimeout:    transport.DefaultHandshakeTimeout,
		OutboundQueue:       64,
		InboundQueue:        256,
		SlowPeerPolicy:      session.DisconnectSlowPeer,
		MaxProtocolErrors:   5,
		ChunkSize:           limits.DefaultChunkSize,
		MaxTransferBytes:    limits.DefaultMaxTransferBytes,
		EventBuffer:         256,
	}
}

// Validate checks every field and reports the first problem.
func (o *Options) Validate() error {
	switch {
	case o.Port < 0 || o.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidOptions, o.Port)
	case o.Network != transport.NetworkTCP && o.Network != transport.NetworkWebSocket:
		return fmt.Errorf("%w: network %q", ErrInvalidOptions, o.Network)
	case o.MaxFrameBytes <= 0:
		return fmt.Errorf("%w: max frame bytes must be positive", ErrInvalidOptions)
	case o.SessionIdleTimeout <= 0 || o.TransferIdleTimeout <= 0:
		return fmt.Errorf("%w: idle timeouts must be positive", ErrInvalidOptions)
	case o.SweepInterval <= 0:
		return fmt.Errorf("%w: sweep interval must be positive", ErrInvalidOptions)
	case o.HandshakeTimeout <= 0:
		return fmt.Errorf("%w: handshake timeout must be positive", ErrInvalidOptions)
	case o.OutboundQueue <= 0 || o.InboundQueue <= 0 || o.EventBuffer <= 0:
		return fmt.Errorf("%w: queue sizes must be positive", ErrInvalidOptions)
	case o.SlowPeerPolicy != session.DisconnectSlowPeer && o.SlowPeerPolicy != session.DropOldest:
		return fmt.Errorf("%w: unknown slow peer policy %d", ErrInvalidOptions, o.SlowPeerPolicy)
	case o.MaxProtocolErrors <= 0:
		return fmt.Errorf("%w: max protocol errors must be positive", ErrInvalidOptions)
	case o.ChunkSize <= 0 || o.ChunkSize > limits.MaxChunkSize:
		return fmt.Errorf("%w: chunk size %d outside 1..%d", ErrInvalidOptions, o.ChunkSize, limits.MaxChunkSize)
	case o.MaxTransferBytes <= 0:
		return fmt.Errorf("%w: max transfer bytes must be positive", ErrInvalidOptions)
	}

	// A relayed chunk is base64 inside a JSON envelope; it must fit a frame.
	if encoded := (o.ChunkSize+2)/3*4 + 1024; encoded > o.MaxFrameBytes {
		return fmt.Errorf("%w: chunk size %d does not fit max frame bytes %d", ErrInvalidOptions, o.ChunkSize, o.MaxFrameBytes)
	}
	return nil
}
