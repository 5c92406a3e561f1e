package localshare

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/localshare/discovery"
	"github.com/opd-ai/localshare/file"
	"github.com/opd-ai/localshare/messaging"
	"github.com/opd-ai/localshare/noise"
	"github.com/opd-ai/localshare/session"
	"github.com/opd-ai/localshare/transport"
	"github.com/sirupsen/logrus"
)

// HostSessionID is the origin clients see on frames the host sends.
const HostSessionID = messaging.HostSessionID

// ErrServerStopped is returned by sends after Stop.
var ErrServerStopped = errors.New("server stopped")

// Server is a running localshare relay.
type Server struct {
	opts *Options

	listener  *transport.Listener
	registry  *session.Registry
	router    *messaging.Router
	transfers *file.Manager
	store     *file.Store
	chunker   *file.Chunker
	publisher *discovery.Publisher
	beacon    *discovery.Beacon

	// connected maps session ids that emitted PeerConnected to their info.
	connected sync.Map

	events       chan Event
	eventsMu     sync.RWMutex
	eventsClosed bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type peerInfo struct {
	clientID   string
	remoteAddr string
}

// Start binds the listener and starts every background loop. A bind
// failure is returned as *transport.BindError.
func Start(ctx context.Context, opts *Options) (*Server, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		opts:    opts,
		events:  make(chan Event, opts.EventBuffer),
		chunker: file.NewChunker(opts.ChunkSize, opts.MaxTransferBytes),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	var psk []byte
	if opts.PairingCode != "" {
		var err error
		if psk, err = noise.DerivePSK(opts.PairingCode); err != nil {
			s.cancel()
			return nil, err
		}
	}

	if opts.DownloadDir != "" {
		store, err := file.NewStore(opts.DownloadDir)
		if err != nil {
			s.cancel()
			return nil, err
		}
		s.store = store
	}

	s.registry = session.NewRegistry(session.RegistryConfig{
		IdleTimeout:  opts.SessionIdleTimeout,
		QueueSize:    opts.OutboundQueue,
		Policy:       opts.SlowPeerPolicy,
		OnUnregister: s.onUnregister,
	})
	s.transfers = file.NewManager(file.ManagerConfig{
		IdleTimeout:      opts.TransferIdleTimeout,
		MaxTransferBytes: opts.MaxTransferBytes,
	})
	s.router = messaging.NewRouter(messaging.Config{
		MaxFrameBytes:     opts.MaxFrameBytes,
		InboundQueue:      opts.InboundQueue,
		MaxProtocolErrors: opts.MaxProtocolErrors,
		ChunkSize:         opts.ChunkSize,
	}, s.registry, s.transfers, s)

	listener, err := transport.Listen(s.ctx, transport.ListenConfig{
		Network:       opts.Network,
		BindAddress:   opts.BindAddress,
		Port:          opts.Port,
		MaxFrameBytes: opts.MaxFrameBytes,
		Handshake: transport.HandshakeConfig{
			PSK:     psk,
			Timeout: opts.HandshakeTimeout,
		},
		Status: s.status,
	})
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.listener = listener
	s.publisher = discovery.NewPublisher(listener.Port(), opts.Lister)

	s.wg.Add(4)
	go func() {
		defer s.wg.Done()
		s.router.Run(s.ctx)
	}()
	go s.acceptLoop()
	go s.sweepLoop()
	go func() {
		defer s.wg.Done()
		s.publisher.Watch(s.ctx, discovery.DefaultWatchInterval, nil)
	}()

	if opts.Announce {
		s.beacon = discovery.NewBeacon(s.publisher, opts.Beacon)
		if err := s.beacon.Start(s.ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Start",
				"error":    err.Error(),
			}).Warn("Discovery beacon unavailable, continuing without it")
			s.beacon = nil
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"network":  opts.Network,
		"port":     listener.Port(),
		"address":  s.publisher.CurrentAddress(),
		"paired":   psk != nil,
	}).Info("localshare server started")

	return s, nil
}

// Stop closes the listener and every session, abandons unfinished
// transfers and closes the event channel. It is safe to call more than once.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		if s.beacon != nil {
			s.beacon.Stop()
		}
		err = s.listener.Close()
		s.cancel()
		s.router.Close()

		closed := s.registry.CloseAll(session.ReasonShutdown)
		s.wg.Wait()

		for _, a := range s.transfers.Close() {
			s.emitAbandoned(a)
		}

		s.eventsMu.Lock()
		s.eventsClosed = true
		close(s.events)
		s.eventsMu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "Stop",
			"sessions": closed,
		}).Info("localshare server stopped")
	})
	return err
}

// Events returns the event stream. It is closed by Stop.
func (s *Server) Events() <-chan Event { return s.events }

// CurrentAddress returns the "ip:port" clients on the LAN should dial.
func (s *Server) CurrentAddress() string { return s.publisher.CurrentAddress() }

// ConnectURL returns the URL to encode in a connection QR code.
func (s *Server) ConnectURL() string { return s.publisher.ConnectURL() }

// Port returns the bound port.
func (s *Server) Port() int { return s.listener.Port() }

// SendText broadcasts content from the host to every connected client.
func (s *Server) SendText(content string) error {
	if s.ctx.Err() != nil {
		return ErrServerStopped
	}
	_, err := s.router.SubmitText(s.ctx, content)
	return s.mapStopped(err)
}

// SendFile broadcasts the file at path from the host to every connected
// client.
func (s *Server) SendFile(path string) error {
	if s.ctx.Err() != nil {
		return ErrServerStopped
	}
	out, err := s.chunker.Open(path)
	if err != nil {
		return fmt.Errorf("send file: %w", err)
	}
	return s.mapStopped(s.router.SubmitFile(s.ctx, out))
}

func (s *Server) mapStopped(err error) error {
	if errors.Is(err, messaging.ErrRouterClosed) || (err != nil && s.ctx.Err() != nil) {
		return ErrServerStopped
	}
	return err
}

// Sessions lists connected clients, oldest first.
func (s *Server) Sessions() []SessionInfo {
	active := s.registry.Active()
	out := make([]SessionInfo, 0, len(active))
	for _, sess := range active {
		out = append(out, SessionInfo{
			ID:          sess.ID,
			ClientID:    sess.ClientID,
			RemoteAddr:  sess.RemoteAddr,
			ConnectedAt: sess.ConnectedAt,
			LastSeen:    sess.LastSeen(),
			State:       sess.State().String(),
		})
	}
	return out
}

func (s *Server) status() any {
	return map[string]any{
		"service":  discovery.ServiceName,
		"address":  s.publisher.CurrentAddress(),
		"sessions": len(s.registry.Active()),
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		peer, err := s.listener.Accept(s.ctx)
		if err != nil {
			return
		}
		s.admit(peer)
	}
}

// admit turns a handshaken peer into an active session. The session is
// registered before the welcome so the welcome can carry its id.
func (s *Server) admit(peer *transport.Peer) {
	sess, err := s.registry.Register(peer.Conn(), peer.ClientID)
	if err != nil {
		_ = peer.Reject(err.Error())
		return
	}
	if err := peer.Welcome(sess.ID); err != nil {
		s.registry.Unregister(sess.ID, session.ReasonHandshake)
		return
	}
	if err := s.registry.Activate(sess.ID); err != nil {
		s.registry.Unregister(sess.ID, session.ReasonHandshake)
		return
	}
	// Stop cancels before closing sessions, so a session registered after
	// that sweep is caught here.
	if s.ctx.Err() != nil {
		s.registry.Unregister(sess.ID, session.ReasonShutdown)
		return
	}

	s.connected.Store(sess.ID, peerInfo{clientID: sess.ClientID, remoteAddr: sess.RemoteAddr})
	s.emit(Event{
		Type:       PeerConnected,
		SessionID:  sess.ID,
		ClientID:   sess.ClientID,
		RemoteAddr: sess.RemoteAddr,
	})
	s.router.Admit(sess)

	s.wg.Add(1)
	go s.readLoop(sess.ID, peer.Conn())
}

// readLoop feeds one connection's frames to the router until the
// connection fails.
func (s *Server) readLoop(id string, conn transport.Conn) {
	defer s.wg.Done()

	for {
		raw, err := conn.ReadFrame()
		if err != nil {
			var tooLarge *transport.FrameTooLargeError
			if errors.As(err, &tooLarge) {
				if s.router.Reject(s.ctx, id, err) != nil {
					return
				}
				continue
			}
			s.registry.Unregister(id, session.ReasonDisconnected)
			return
		}
		if err := s.router.Submit(s.ctx, id, raw); err != nil {
			return
		}
	}
}

func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			expired := s.registry.Sweep(now)
			abandoned := s.transfers.Sweep(now)
			for _, a := range abandoned {
				s.emitAbandoned(a)
			}
			if len(expired) > 0 || len(abandoned) > 0 {
				logrus.WithFields(logrus.Fields{
					"function":  "sweepLoop",
					"expired":   len(expired),
					"abandoned": len(abandoned),
				}).Debug("Sweep finished")
			}
		}
	}
}

// onUnregister runs once per session, from whichever goroutine ended it.
func (s *Server) onUnregister(id, reason string) {
	s.router.Forget(id)
	for _, a := range s.transfers.AbandonSession(id) {
		s.emitAbandoned(a)
	}

	v, ok := s.connected.LoadAndDelete(id)
	if !ok {
		return
	}
	info := v.(peerInfo)
	s.emit(Event{
		Type:       PeerDisconnected,
		SessionID:  id,
		ClientID:   info.clientID,
		RemoteAddr: info.remoteAddr,
		Reason:     reason,
	})
}

// OnMessage implements messaging.Sink.
func (s *Server) OnMessage(m messaging.Message) {
	ev := Event{
		Type:      MessageReceived,
		SessionID: m.SessionID,
		MessageID: m.ID,
		Text:      m.Content,
		Timestamp: m.Timestamp,
	}
	if v, ok := s.connected.Load(m.SessionID); ok {
		info := v.(peerInfo)
		ev.ClientID = info.clientID
		ev.RemoteAddr = info.remoteAddr
	}
	s.emit(ev)
}

// OnFile implements messaging.Sink. Saving to the download directory
// happens off the router goroutine.
func (s *Server) OnFile(f messaging.FileDelivery) {
	ev := Event{
		Type:      FileReady,
		SessionID: f.SessionID,
		FileID:    f.FileID,
		Name:      f.Name,
		Bytes:     f.Data,
		Timestamp: f.Timestamp,
	}
	if v, ok := s.connected.Load(f.SessionID); ok {
		info := v.(peerInfo)
		ev.ClientID = info.clientID
		ev.RemoteAddr = info.remoteAddr
	}

	if s.store == nil {
		s.emit(ev)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		path, err := s.store.Save(f.Name, f.Data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "OnFile",
				"file_id":  f.FileID,
				"error":    err.Error(),
			}).Error("Failed to save received file")
		}
		ev.Path = path
		s.emit(ev)
	}()
}

func (s *Server) emitAbandoned(a file.Abandoned) {
	s.emit(Event{
		Type:      TransferAbandoned,
		SessionID: a.SessionID,
		FileID:    a.FileID,
		Name:      a.Name,
		Reason:    a.Reason,
	})
}

// emit never blocks: when the buffer is full the event is dropped.
func (s *Server) emit(ev Event) {
	ev.At = time.Now()

	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	if s.eventsClosed {
		return
	}

	select {
	case s.events <- ev:
	default:
		logrus.WithFields(logrus.Fields{
			"function":   "emit",
			"event":      ev.Type.String(),
			"session_id": ev.SessionID,
			"buffer":     cap(s.events),
		}).Warn("Event buffer full, dropping event")
	}
}
