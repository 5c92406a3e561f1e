package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/localshare/transport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull indicates the session's outbound queue has no room.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrSessionClosed indicates the session no longer accepts frames.
	ErrSessionClosed = errors.New("session closed")
)

// Session is one connected peer. The connection handle is owned by the
// registry and never leaves this package.
type Session struct {
	ID          string
	ClientID    string
	RemoteAddr  string
	ConnectedAt time.Time
	// Replaces is the id of an older session that announced the same
	// ClientID and was still registered when this one arrived.
	Replaces string

	conn   transport.Conn
	queue  chan [][]byte
	policy SlowPeerPolicy
	done   chan struct{}

	mu       sync.Mutex
	state    State
	lastSeen time.Time

	dropped   atomic.Uint64
	closeOnce sync.Once
}

func newSession(id, clientID string, conn transport.Conn, queueSize int, policy SlowPeerPolicy, now time.Time) *Session {
	remote := "unknown"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Session{
		ID:          id,
		ClientID:    clientID,
		RemoteAddr:  remote,
		ConnectedAt: now,
		conn:        conn,
		queue:       make(chan [][]byte, queueSize),
		policy:      policy,
		done:        make(chan struct{}),
		state:       StateConnecting,
		lastSeen:    now,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastSeen returns the time of the last heartbeat.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Dropped returns how many queued batches were discarded under DropOldest.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.state = to
	return nil
}

func (s *Session) touch(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return false
	}
	s.lastSeen = now
	return true
}

// enqueue never blocks. A batch occupies one queue slot and is written
// without interleaving. Under DropOldest the oldest queued batch is evicted
// to make room; otherwise a full queue returns ErrQueueFull.
func (s *Session) enqueue(batch [][]byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.queue <- batch:
		return nil
	default:
	}

	if s.policy != DropOldest {
		return ErrQueueFull
	}

	for {
		select {
		case <-s.queue:
			s.dropped.Add(1)
		default:
		}
		select {
		case s.queue <- batch:
			return nil
		default:
		}
	}
}

// writeLoop drains the outbound queue onto the connection until the session
// closes or a write fails.
func (s *Session) writeLoop(onError func(error)) {
	for {
		select {
		case <-s.done:
			return
		case batch := <-s.queue:
			for _, payload := range batch {
				if err := s.conn.WriteFrame(payload); err != nil {
					select {
					case <-s.done:
					default:
						logrus.WithFields(logrus.Fields{
							"function":   "writeLoop",
							"session_id": s.ID,
							"error":      err.Error(),
						}).Warn("Write to session failed")
						onError(err)
					}
					return
				}
			}
		}
	}
}

// close releases the connection and stops the writer. Safe to call twice.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
