package session

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/localshare/transport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownSession indicates the id is not registered.
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionNotActive indicates the session exists but is not active.
	ErrSessionNotActive = errors.New("session not active")
	// ErrSlowPeer indicates a send overflowed the queue and the peer was dropped.
	ErrSlowPeer = errors.New("slow peer disconnected")
)

// Unregister reasons reported to OnUnregister.
const (
	ReasonDisconnected   = "disconnected"
	ReasonTimeout        = "timeout"
	ReasonSlowPeer       = "slow-peer"
	ReasonWriteError     = "write-error"
	ReasonProtocolErrors = "protocol-errors"
	ReasonReplaced       = "replaced"
	ReasonHandshake      = "handshake-failed"
	ReasonShutdown       = "shutdown"
)

// SlowPeerPolicy decides what happens when a session's outbound queue is full.
type SlowPeerPolicy uint8

const (
	// DisconnectSlowPeer unregisters the session; the client reconnects.
	DisconnectSlowPeer SlowPeerPolicy = iota
	// DropOldest discards the oldest queued frame to make room.
	DropOldest
)

func (p SlowPeerPolicy) String() string {
	switch p {
	case DisconnectSlowPeer:
		return "disconnect"
	case DropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// ParseSlowPeerPolicy maps "disconnect" and "drop-oldest" to a policy.
func ParseSlowPeerPolicy(s string) (SlowPeerPolicy, error) {
	switch s {
	case "disconnect", "":
		return DisconnectSlowPeer, nil
	case "drop-oldest":
		return DropOldest, nil
	default:
		return 0, fmt.Errorf("unknown slow peer policy %q", s)
	}
}

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Defaults for RegistryConfig.
const (
	DefaultIdleTimeout = 30 * time.Second
	DefaultQueueSize   = 64
	DefaultShards      = 16
)

// RegistryConfig configures a Registry. Zero values take the defaults.
type RegistryConfig struct {
	IdleTimeout  time.Duration
	QueueSize    int
	Policy       SlowPeerPolicy
	Shards       int
	TimeProvider TimeProvider
	// OnUnregister fires exactly once per session, after its connection is
	// closed. It must not block.
	OnUnregister func(sessionID, reason string)
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	clients  map[string]string
}

// Registry tracks connected sessions. Sessions and the client index are
// spread over independently locked shards, so unrelated peers never wait on
// each other.
type Registry struct {
	cfg    RegistryConfig
	shards []*shard
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultShards
	}
	if cfg.TimeProvider == nil {
		cfg.TimeProvider = DefaultTimeProvider{}
	}

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{
			sessions: make(map[string]*Session),
			clients:  make(map[string]string),
		}
	}
	return &Registry{cfg: cfg, shards: shards}
}

func (r *Registry) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Register stores a new session in the handshaking state and starts its
// writer. If clientID is already bound to a live session, Session.Replaces
// names it; the caller decides what to do with the older session.
func (r *Registry) Register(conn transport.Conn, clientID string) (*Session, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}

	id := uuid.NewString()
	s := newSession(id, clientID, conn, r.cfg.QueueSize, r.cfg.Policy, r.cfg.TimeProvider.Now())
	if err := s.transition(StateHandshaking); err != nil {
		return nil, err
	}

	sh := r.shardFor(id)
	sh.mu.Lock()
	sh.sessions[id] = s
	sh.mu.Unlock()

	if clientID != "" {
		csh := r.shardFor(clientID)
		csh.mu.Lock()
		prev, bound := csh.clients[clientID]
		csh.clients[clientID] = id
		csh.mu.Unlock()

		if bound {
			if _, live := r.Lookup(prev); live {
				s.Replaces = prev
			}
		}
	}

	go s.writeLoop(func(error) {
		r.Unregister(id, ReasonWriteError)
	})

	logrus.WithFields(logrus.Fields{
		"function":   "Register",
		"session_id": id,
		"client_id":  clientID,
		"remote":     s.RemoteAddr,
	}).Debug("Session registered")

	return s, nil
}

// Activate moves a handshaking session to active.
func (r *Registry) Activate(id string) error {
	s, ok := r.Lookup(id)
	if !ok {
		return ErrUnknownSession
	}
	if err := s.transition(StateActive); err != nil {
		return err
	}
	s.touch(r.cfg.TimeProvider.Now())
	return nil
}

// Lookup returns the session for id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	sh := r.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[id]
	return s, ok
}

// IsActive reports whether id names a registered, active session.
func (r *Registry) IsActive(id string) bool {
	s, ok := r.Lookup(id)
	return ok && s.State() == StateActive
}

// ByClient returns the session currently bound to clientID.
func (r *Registry) ByClient(clientID string) (*Session, bool) {
	csh := r.shardFor(clientID)
	csh.mu.RLock()
	id, ok := csh.clients[clientID]
	csh.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.Lookup(id)
}

// Heartbeat refreshes the liveness timestamp of an active session.
func (r *Registry) Heartbeat(id string) bool {
	s, ok := r.Lookup(id)
	if !ok {
		return false
	}
	return s.touch(r.cfg.TimeProvider.Now())
}

// Send queues payload for an active session without blocking. Under
// DisconnectSlowPeer a full queue unregisters the session and returns
// ErrSlowPeer.
func (r *Registry) Send(id string, payload []byte) error {
	return r.SendBatch(id, [][]byte{payload})
}

// SendBatch queues frames that must reach the peer back to back, such as
// the chunks of one file. The batch takes a single queue slot.
func (r *Registry) SendBatch(id string, batch [][]byte) error {
	if len(batch) == 0 {
		return nil
	}
	s, ok := r.Lookup(id)
	if !ok {
		return ErrUnknownSession
	}
	if s.State() != StateActive {
		return ErrSessionNotActive
	}

	err := s.enqueue(batch)
	if errors.Is(err, ErrQueueFull) {
		logrus.WithFields(logrus.Fields{
			"function":   "Send",
			"session_id": id,
			"queue_size": r.cfg.QueueSize,
		}).Warn("Outbound queue full, disconnecting slow peer")
		r.Unregister(id, ReasonSlowPeer)
		return ErrSlowPeer
	}
	return err
}

// Unregister removes the session, closes its connection and fires
// OnUnregister. It returns false if the session was already gone, which
// makes it safe to call from every teardown path.
func (r *Registry) Unregister(id, reason string) bool {
	sh := r.shardFor(id)
	sh.mu.Lock()
	s, ok := sh.sessions[id]
	if ok {
		delete(sh.sessions, id)
	}
	sh.mu.Unlock()
	if !ok {
		return false
	}

	if s.ClientID != "" {
		csh := r.shardFor(s.ClientID)
		csh.mu.Lock()
		if csh.clients[s.ClientID] == id {
			delete(csh.clients, s.ClientID)
		}
		csh.mu.Unlock()
	}

	if s.State() == StateActive {
		next := StateDisconnecting
		if reason == ReasonTimeout {
			next = StateTimedOut
		}
		_ = s.transition(next)
	}
	_ = s.transition(StateClosed)
	s.close()

	logrus.WithFields(logrus.Fields{
		"function":   "Unregister",
		"session_id": id,
		"reason":     reason,
	}).Info("Session unregistered")

	if r.cfg.OnUnregister != nil {
		r.cfg.OnUnregister(id, reason)
	}
	return true
}

// Sweep unregisters every session whose last heartbeat is older than the
// idle timeout and returns their ids.
func (r *Registry) Sweep(now time.Time) []string {
	var stale []string
	for _, sh := range r.shards {
		sh.mu.RLock()
		for id, s := range sh.sessions {
			if now.Sub(s.LastSeen()) > r.cfg.IdleTimeout {
				stale = append(stale, id)
			}
		}
		sh.mu.RUnlock()
	}

	expired := stale[:0]
	for _, id := range stale {
		if r.Unregister(id, ReasonTimeout) {
			expired = append(expired, id)
		}
	}
	return expired
}

// Range calls fn for every registered session until fn returns false.
// Shard locks are not held while fn runs.
func (r *Registry) Range(fn func(*Session) bool) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		snapshot := make([]*Session, 0, len(sh.sessions))
		for _, s := range sh.sessions {
			snapshot = append(snapshot, s)
		}
		sh.mu.RUnlock()

		for _, s := range snapshot {
			if !fn(s) {
				return
			}
		}
	}
}

// Active returns all active sessions, oldest first.
func (r *Registry) Active() []*Session {
	var out []*Session
	r.Range(func(s *Session) bool {
		if s.State() == StateActive {
			out = append(out, s)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// CloseAll unregisters every session with reason and returns the count.
func (r *Registry) CloseAll(reason string) int {
	var ids []string
	r.Range(func(s *Session) bool {
		ids = append(ids, s.ID)
		return true
	})

	n := 0
	for _, id := range ids {
		if r.Unregister(id, reason) {
			n++
		}
	}
	return n
}
