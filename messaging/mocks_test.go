package messaging

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/localshare/session"
	"github.com/opd-ai/localshare/transport"
	"github.com/stretchr/testify/require"
)

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	m.currentTime = m.currentTime.Add(d)
	m.mu.Unlock()
}

// mockConn records frames the registry writes to a peer.
type mockConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func (m *mockConn) ReadFrame() ([]byte, error) { return nil, errors.New("not readable") }

func (m *mockConn) WriteFrame(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("closed")
	}
	m.written = append(m.written, payload)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mockConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 40000}
}

func (m *mockConn) SetDeadline(time.Time) error { return nil }

func (m *mockConn) frames(t *testing.T) []*transport.Frame {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*transport.Frame, 0, len(m.written))
	for _, raw := range m.written {
		f, err := transport.DecodeFrame(raw)
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// recordingSink captures router deliveries.
type recordingSink struct {
	mu       sync.Mutex
	messages []Message
	files    []FileDelivery
}

func (s *recordingSink) OnMessage(m Message) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
}

func (s *recordingSink) OnFile(f FileDelivery) {
	s.mu.Lock()
	s.files = append(s.files, f)
	s.mu.Unlock()
}

func (s *recordingSink) getMessages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func (s *recordingSink) getFiles() []FileDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FileDelivery(nil), s.files...)
}

// peer is an active session with its recording connection.
type peer struct {
	id   string
	conn *mockConn
}

func addPeer(t *testing.T, reg *session.Registry, clientID string) peer {
	t.Helper()
	conn := &mockConn{}
	s, err := reg.Register(conn, clientID)
	require.NoError(t, err)
	require.NoError(t, reg.Activate(s.ID))
	return peer{id: s.ID, conn: conn}
}

// waitFrames blocks until p has received at least n frames.
func waitFrames(t *testing.T, p peer, n int) []*transport.Frame {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(p.conn.frames(t)) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return p.conn.frames(t)
}
