package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opd-ai/localshare/limits"
	"github.com/sirupsen/logrus"
)

const (
	// NetworkTCP serves length-prefixed frames over raw TCP.
	NetworkTCP = "tcp"
	// NetworkWebSocket serves one frame per WebSocket message on WebSocketPath.
	NetworkWebSocket = "websocket"

	// WebSocketPath is the upgrade endpoint in websocket mode.
	WebSocketPath = "/ws"
)

// ListenConfig configures a Listener.
type ListenConfig struct {
	Network     string // NetworkTCP (default) or NetworkWebSocket
	BindAddress string // empty binds all interfaces
	Port        int    // zero picks a free port
	// MaxFrameBytes bounds application frames. Paired connections allow
	// limits.SealOverhead on top.
	MaxFrameBytes int
	Handshake     HandshakeConfig
	// Status, when set, is served as JSON on "/" in websocket mode.
	Status func() any
}

// Listener accepts connections, runs the handshake on each one concurrently
// and hands out validated peers through Accept.
type Listener struct {
	cfg      ListenConfig
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader

	peers   chan *Peer
	pending map[Conn]struct{}
	mu      sync.Mutex
	wg      sync.WaitGroup

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Listen binds the configured address and starts accepting. Bind failures
// are returned as *BindError.
func Listen(ctx context.Context, cfg ListenConfig) (*Listener, error) {
	if cfg.Network == "" {
		cfg.Network = NetworkTCP
	}
	if cfg.Network != NetworkTCP && cfg.Network != NetworkWebSocket {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, cfg.Network)
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = limits.DefaultMaxFrameBytes
	}

	address := net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, &BindError{Network: cfg.Network, Address: address, Err: err}
	}

	lctx, cancel := context.WithCancel(ctx)
	l := &Listener{
		cfg:      cfg,
		listener: ln,
		peers:    make(chan *Peer, 16),
		pending:  make(map[Conn]struct{}),
		ctx:      lctx,
		cancel:   cancel,
	}

	logrus.WithFields(logrus.Fields{
		"function": "Listen",
		"network":  cfg.Network,
		"address":  ln.Addr().String(),
		"paired":   cfg.Handshake.PSK != nil,
	}).Info("Listener bound")

	if cfg.Network == NetworkWebSocket {
		l.startHTTP()
	} else {
		l.wg.Add(1)
		go l.acceptConnections()
	}

	go func() {
		<-lctx.Done()
		l.Close()
	}()

	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Port returns the bound TCP port.
func (l *Listener) Port() int {
	if tcp, ok := l.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return l.cfg.Port
}

// Accept blocks until a peer completes the hello, ctx ends or the listener
// is closed.
func (l *Listener) Accept(ctx context.Context) (*Peer, error) {
	select {
	case peer, ok := <-l.peers:
		if !ok {
			return nil, ErrListenerClosed
		}
		return peer, nil
	case <-l.ctx.Done():
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting, aborts in-flight handshakes and closes peers that
// were never accepted. It is safe to call more than once.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.cancel()
		for conn := range l.pending {
			conn.Close()
		}
		l.mu.Unlock()

		if l.server != nil {
			err = l.server.Close()
		} else {
			err = l.listener.Close()
		}

		l.wg.Wait()
		close(l.peers)
		for peer := range l.peers {
			peer.Reject("server shutting down")
		}

		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"address":  l.listener.Addr().String(),
		}).Info("Listener closed")
	})
	if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// acceptConnections handles incoming TCP connections.
func (l *Listener) acceptConnections() {
	defer l.wg.Done()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "acceptConnections",
				"error":    err.Error(),
			}).Warn("Accept failed")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		l.spawn(NewStreamConn(conn, l.cfg.MaxFrameBytes+limits.SealOverhead))
	}
}

func (l *Listener) startHTTP() {
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, l.handleUpgrade)
	mux.HandleFunc("/", l.handleStatus)

	l.upgrader = websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		// Phones open the QR URL from whatever origin their browser picks.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: l.cfg.Handshake.timeout(),
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.server.Serve(l.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "startHTTP",
				"error":    err.Error(),
			}).Error("HTTP server stopped")
		}
	}()
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if l.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleUpgrade",
			"remote":   r.RemoteAddr,
			"error":    err.Error(),
		}).Warn("WebSocket upgrade failed")
		return
	}

	l.spawn(NewWSConn(ws, l.cfg.MaxFrameBytes+limits.SealOverhead))
}

func (l *Listener) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	status := any(map[string]string{"service": "localshare"})
	if l.cfg.Status != nil {
		status = l.cfg.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// spawn registers conn as pending and starts its handshake. Connections
// arriving after Close are dropped.
func (l *Listener) spawn(conn Conn) {
	l.mu.Lock()
	if l.ctx.Err() != nil {
		l.mu.Unlock()
		conn.Close()
		return
	}
	l.pending[conn] = struct{}{}
	l.wg.Add(1)
	l.mu.Unlock()

	go l.handshake(conn)
}

// handshake runs the server handshake on a fresh connection and queues the
// resulting peer.
func (l *Listener) handshake(conn Conn) {
	defer l.wg.Done()

	peer, err := ServerHandshake(conn, l.cfg.Handshake)

	l.mu.Lock()
	delete(l.pending, conn)
	l.mu.Unlock()

	if err != nil {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":  "handshake",
		"remote":    peer.RemoteAddr().String(),
		"client_id": peer.ClientID,
		"paired":    peer.Paired,
	}).Debug("Hello accepted")

	select {
	case l.peers <- peer:
	case <-l.ctx.Done():
		peer.Reject("server shutting down")
	}
}
