package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

const (
	// ServiceName identifies localshare announcements.
	ServiceName = "localshare"
	// DefaultGroup is the administratively scoped multicast group used for
	// announcements.
	DefaultGroup = "239.255.77.77"
	// DefaultBeaconPort is the UDP port announcements are sent to.
	DefaultBeaconPort = 33777
	// DefaultBeaconInterval is how often the beacon announces.
	DefaultBeaconInterval = 2 * time.Second

	maxAnnouncementSize = 1024
)

// ErrBeaconRunning is returned by Start on a running beacon.
var ErrBeaconRunning = errors.New("beacon already running")

// Announcement is the JSON datagram a beacon sends.
type Announcement struct {
	Service string `json:"service"`
	Address string `json:"address"`
	// Source is the sender's UDP address as seen by the browser.
	Source string `json:"-"`
}

// BeaconConfig selects the multicast group, port and interval. Zero values
// take the defaults.
type BeaconConfig struct {
	Group    string
	Port     int
	Interval time.Duration
}

func (c BeaconConfig) withDefaults() BeaconConfig {
	if c.Group == "" {
		c.Group = DefaultGroup
	}
	if c.Port <= 0 {
		c.Port = DefaultBeaconPort
	}
	if c.Interval <= 0 {
		c.Interval = DefaultBeaconInterval
	}
	return c
}

func (c BeaconConfig) groupAddr() (*net.UDPAddr, error) {
	ip := net.ParseIP(c.Group)
	if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("invalid IPv4 multicast group %q", c.Group)
	}
	return &net.UDPAddr{IP: ip, Port: c.Port}, nil
}

// Beacon periodically announces a publisher's address on the LAN.
type Beacon struct {
	cfg       BeaconConfig
	publisher *Publisher

	mu      sync.Mutex
	conn    net.PacketConn
	pc      *ipv4.PacketConn
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewBeacon creates a beacon announcing publisher's current address.
func NewBeacon(publisher *Publisher, cfg BeaconConfig) *Beacon {
	return &Beacon{cfg: cfg.withDefaults(), publisher: publisher}
}

// Start opens the sending socket and begins announcing until ctx is done or
// Stop is called.
func (b *Beacon) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return ErrBeaconRunning
	}

	group, err := b.cfg.groupAddr()
	if err != nil {
		return err
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("failed to create beacon socket: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	// Announcements must not leave the local link.
	if err := pc.SetMulticastTTL(1); err != nil {
		conn.Close()
		return fmt.Errorf("set multicast ttl: %w", err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Start",
			"error":    err.Error(),
		}).Debug("Multicast loopback unavailable")
	}

	b.conn = conn
	b.pc = pc
	b.stopCh = make(chan struct{})
	b.running = true

	b.wg.Add(1)
	go b.loop(ctx, group, b.stopCh)

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"group":    group.String(),
		"interval": b.cfg.Interval,
	}).Info("Discovery beacon started")

	return nil
}

// Stop halts announcements and closes the socket.
func (b *Beacon) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	b.conn.Close()
	b.mu.Unlock()

	b.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Stop",
	}).Debug("Discovery beacon stopped")
}

func (b *Beacon) loop(ctx context.Context, group *net.UDPAddr, stop chan struct{}) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	b.announce(group)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			b.announce(group)
		}
	}
}

func (b *Beacon) announce(group *net.UDPAddr) {
	b.mu.Lock()
	pc := b.pc
	running := b.running
	b.mu.Unlock()
	if !running {
		return
	}

	data, err := json.Marshal(Announcement{Service: ServiceName, Address: b.publisher.CurrentAddress()})
	if err != nil {
		return
	}
	if _, err := pc.WriteTo(data, nil, group); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "announce",
			"group":    group.String(),
			"error":    err.Error(),
		}).Debug("Failed to send announcement")
	}
}

// Browse listens on the multicast group for timeout (or until ctx is done)
// and returns the distinct announcements heard, sorted by address.
func Browse(ctx context.Context, cfg BeaconConfig, timeout time.Duration) ([]Announcement, error) {
	cfg = cfg.withDefaults()
	group, err := cfg.groupAddr()
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen for announcements: %w", err)
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if joined := joinAll(pc, group); joined == 0 {
		return nil, fmt.Errorf("could not join multicast group %s on any interface", group.IP)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	seen := make(map[string]Announcement)
	buf := make([]byte, maxAnnouncementSize)
	for {
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			break
		}
		// Short reads keep ctx cancellation responsive.
		step := time.Now().Add(250 * time.Millisecond)
		if step.After(deadline) {
			step = deadline
		}
		if err := conn.SetReadDeadline(step); err != nil {
			return nil, err
		}

		n, _, src, err := pc.ReadFrom(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return nil, err
		}

		var a Announcement
		if json.Unmarshal(buf[:n], &a) != nil || a.Service != ServiceName || a.Address == "" {
			continue
		}
		if src != nil {
			a.Source = src.String()
		}
		seen[a.Address] = a
	}

	out := make([]Announcement, 0, len(seen))
	for _, a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// joinAll joins group on every up, multicast-capable interface.
func joinAll(pc *ipv4.PacketConn, group *net.UDPAddr) int {
	ifaces, err := net.Interfaces()
	if err != nil {
		return 0
	}
	joined := 0
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(iface, &net.UDPAddr{IP: group.IP}); err == nil {
			joined++
		}
	}
	_ = pc.SetMulticastLoopback(true)
	return joined
}
