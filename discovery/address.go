package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultWatchInterval is how often Watch re-enumerates interfaces.
const DefaultWatchInterval = 10 * time.Second

// Interface is the subset of a network interface the publisher looks at.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
	Addrs    []net.IP
}

// Lister enumerates network interfaces.
type Lister interface {
	Interfaces() ([]Interface, error)
}

// SystemLister reads the host's interfaces.
type SystemLister struct{}

// Interfaces returns the host's interfaces in enumeration order.
func (SystemLister) Interfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		entry := Interface{
			Name:     iface.Name,
			Up:       iface.Flags&net.FlagUp != 0,
			Loopback: iface.Flags&net.FlagLoopback != 0,
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			switch v := addr.(type) {
			case *net.IPNet:
				entry.Addrs = append(entry.Addrs, v.IP)
			case *net.IPAddr:
				entry.Addrs = append(entry.Addrs, v.IP)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// SelectIPv4 returns the first IPv4 address of the first up, non-loopback
// interface that has one.
func SelectIPv4(ifaces []Interface) (net.IP, bool) {
	for _, iface := range ifaces {
		if !iface.Up || iface.Loopback {
			continue
		}
		for _, ip := range iface.Addrs {
			if v4 := ip.To4(); v4 != nil && !v4.IsLoopback() {
				return v4, true
			}
		}
	}
	return nil, false
}

// Publisher computes and caches the server's LAN address.
type Publisher struct {
	port   int
	lister Lister

	mu          sync.Mutex
	cached      string
	valid       bool
	fingerprint string
}

// NewPublisher returns a publisher for port. A nil lister reads the host's
// interfaces.
func NewPublisher(port int, lister Lister) *Publisher {
	if lister == nil {
		lister = SystemLister{}
	}
	return &Publisher{port: port, lister: lister}
}

// Port returns the advertised port.
func (p *Publisher) Port() int { return p.port }

// CurrentAddress returns "ip:port" for the first usable IPv4 interface, or
// "localhost:port" when there is none or enumeration fails. It never fails.
func (p *Publisher) CurrentAddress() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.valid {
		return p.cached
	}

	ifaces, err := p.lister.Interfaces()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "CurrentAddress",
			"error":    err.Error(),
		}).Warn("Interface enumeration failed, falling back to localhost")
	}

	host := "localhost"
	if ip, ok := SelectIPv4(ifaces); ok {
		host = ip.String()
	}
	p.cached = net.JoinHostPort(host, strconv.Itoa(p.port))
	p.valid = true
	p.fingerprint = fingerprint(ifaces)

	logrus.WithFields(logrus.Fields{
		"function": "CurrentAddress",
		"address":  p.cached,
	}).Debug("LAN address computed")

	return p.cached
}

// ConnectURL returns the URL a client should open, as encoded in QR codes.
func (p *Publisher) ConnectURL() string {
	return "http://" + p.CurrentAddress()
}

// Invalidate drops the cached address.
func (p *Publisher) Invalidate() {
	p.mu.Lock()
	p.valid = false
	p.mu.Unlock()
}

// Refresh re-enumerates interfaces and invalidates the cache if they
// changed since the address was computed. It reports whether it did.
func (p *Publisher) Refresh() bool {
	ifaces, err := p.lister.Interfaces()
	if err != nil {
		return false
	}
	fp := fingerprint(ifaces)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid || fp == p.fingerprint {
		return false
	}
	p.valid = false
	return true
}

// Watch calls Refresh every interval until ctx is done. onChange, if not
// nil, receives the new address after each change.
func (p *Publisher) Watch(ctx context.Context, interval time.Duration, onChange func(address string)) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.Refresh() {
				continue
			}
			addr := p.CurrentAddress()
			logrus.WithFields(logrus.Fields{
				"function": "Watch",
				"address":  addr,
			}).Info("LAN address changed")
			if onChange != nil {
				onChange(addr)
			}
		}
	}
}

func fingerprint(ifaces []Interface) string {
	var b strings.Builder
	for _, iface := range ifaces {
		fmt.Fprintf(&b, "%s:%t:%t", iface.Name, iface.Up, iface.Loopback)
		for _, ip := range iface.Addrs {
			b.WriteString(",")
			b.WriteString(ip.String())
		}
		b.WriteString(";")
	}
	return b.String()
}
