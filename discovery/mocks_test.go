package discovery

import (
	"errors"
	"net"
	"sync"
)

// mockLister returns a configurable interface list.
type mockLister struct {
	mu     sync.Mutex
	ifaces []Interface
	err    error
	calls  int
}

func (m *mockLister) Interfaces() ([]Interface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.ifaces, m.err
}

func (m *mockLister) set(ifaces []Interface) {
	m.mu.Lock()
	m.ifaces = ifaces
	m.mu.Unlock()
}

func (m *mockLister) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var errEnumeration = errors.New("enumeration failed")

func loopbackIface() Interface {
	return Interface{Name: "lo", Up: true, Loopback: true, Addrs: []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}}
}

func lanIface(name, ip string) Interface {
	return Interface{Name: name, Up: true, Addrs: []net.IP{net.ParseIP("fe80::1"), net.ParseIP(ip)}}
}
