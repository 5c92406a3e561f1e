package session

import (
	"errors"
	"net"
	"sync"
	"time"
)

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{
		currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *mockTimeProvider) advance(d time.Duration) {
	m.mu.Lock()
	m.currentTime = m.currentTime.Add(d)
	m.mu.Unlock()
}

var errMockClosed = errors.New("mock connection closed")

// mockConn implements transport.Conn, recording written frames. A non-nil
// gate blocks every write until the gate is closed.
type mockConn struct {
	mu       sync.Mutex
	written  [][]byte
	closed   bool
	writeErr error
	gate     chan struct{}
	wrote    chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{wrote: make(chan struct{}, 1024)}
}

func (m *mockConn) ReadFrame() ([]byte, error) {
	return nil, errMockClosed
}

func (m *mockConn) WriteFrame(payload []byte) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errMockClosed
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, append([]byte(nil), payload...))
	select {
	case m.wrote <- struct{}{}:
	default:
	}
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 50000}
}

func (m *mockConn) SetDeadline(time.Time) error { return nil }

func (m *mockConn) frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.written...)
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// unregisterLog records OnUnregister calls.
type unregisterLog struct {
	mu      sync.Mutex
	reasons map[string][]string
}

func newUnregisterLog() *unregisterLog {
	return &unregisterLog{reasons: make(map[string][]string)}
}

func (u *unregisterLog) record(id, reason string) {
	u.mu.Lock()
	u.reasons[id] = append(u.reasons[id], reason)
	u.mu.Unlock()
}

func (u *unregisterLog) get(id string) []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.reasons[id]...)
}
