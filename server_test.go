package localshare

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/localshare/client"
	"github.com/opd-ai/localshare/discovery"
	"github.com/opd-ai/localshare/session"
	"github.com/opd-ai/localshare/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticLister reports a fixed interface set.
type staticLister []discovery.Interface

func (l staticLister) Interfaces() ([]discovery.Interface, error) { return l, nil }

func testOptions(mutate func(*Options)) *Options {
	o := NewOptions()
	o.Port = 0
	o.BindAddress = "127.0.0.1"
	o.Lister = staticLister{{Name: "eth0", Up: true, Addrs: []net.IP{net.ParseIP("192.168.7.20")}}}
	if mutate != nil {
		mutate(o)
	}
	return o
}

func startServer(t *testing.T, mutate func(*Options)) *Server {
	t.Helper()
	srv, err := Start(context.Background(), testOptions(mutate))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func dial(t *testing.T, srv *Server, cfg client.Config) *client.Client {
	t.Helper()
	cfg.Address = net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.Port()))
	if cfg.Network == "" {
		cfg.Network = srv.opts.Network
	}
	c, err := client.Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	waitEvent(t, srv, func(ev Event) bool {
		return ev.Type == PeerConnected && ev.SessionID == c.SessionID()
	})
	return c
}

// waitEvent consumes events until match returns true.
func waitEvent(t *testing.T, srv *Server, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-srv.Events():
			require.True(t, ok, "event stream closed")
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

// nextFrame returns the next frame of kind from c, skipping others.
func nextFrame(t *testing.T, c *client.Client, kind transport.Kind) *transport.Frame {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case f, ok := <-c.Frames():
			require.True(t, ok, "connection closed")
			if f.Kind == kind {
				return f
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s frame", kind)
			return nil
		}
	}
}

func TestStartBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = Start(context.Background(), testOptions(func(o *Options) {
		o.Port = ln.Addr().(*net.TCPAddr).Port
	}))
	var bindErr *transport.BindError
	require.True(t, errors.As(err, &bindErr))
}

func TestStartRejectsInvalidOptions(t *testing.T) {
	_, err := Start(context.Background(), testOptions(func(o *Options) { o.Network = "smoke-signals" }))
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestCurrentAddressAndConnectURL(t *testing.T) {
	srv := startServer(t, nil)
	want := "192.168.7.20:" + strconv.Itoa(srv.Port())
	assert.Equal(t, want, srv.CurrentAddress())
	assert.Equal(t, "http://"+want, srv.ConnectURL())
}

func TestTextRelay(t *testing.T) {
	srv := startServer(t, nil)
	a := dial(t, srv, client.Config{ClientID: "a"})
	b := dial(t, srv, client.Config{ClientID: "b"})
	c := dial(t, srv, client.Config{ClientID: "c"})

	id, err := a.SendText("hello room")
	require.NoError(t, err)

	for _, receiver := range []*client.Client{b, c} {
		f := nextFrame(t, receiver, transport.KindText)
		assert.Equal(t, "hello room", f.Content)
		assert.Equal(t, a.SessionID(), f.OriginSessionID)
		assert.Equal(t, id, f.ID)
	}

	ack := nextFrame(t, a, transport.KindAck)
	assert.Equal(t, id, ack.ID)

	ev := waitEvent(t, srv, func(ev Event) bool { return ev.Type == MessageReceived })
	assert.Equal(t, "hello room", ev.Text)
	assert.Equal(t, a.SessionID(), ev.SessionID)
	assert.Equal(t, "a", ev.ClientID)
	assert.Equal(t, ack.Timestamp, ev.Timestamp)

	assert.Len(t, srv.Sessions(), 3)
}

func TestFileRelayAndDownload(t *testing.T) {
	dir := t.TempDir()
	srv := startServer(t, func(o *Options) {
		o.DownloadDir = filepath.Join(dir, "downloads")
		o.ChunkSize = 1024
	})
	a := dial(t, srv, client.Config{ChunkSize: 700})
	b := dial(t, srv, client.Config{})

	content := make([]byte, 5000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	src := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	fileID, err := a.SendFile(src)
	require.NoError(t, err)

	var rebuilt []byte
	for {
		f := <-b.Frames()
		require.NotNil(t, f)
		if f.Kind == transport.KindFileComplete {
			assert.Equal(t, fileID, f.FileID)
			assert.Equal(t, int64(len(content)), f.Size)
			break
		}
		if f.Kind == transport.KindFileChunk {
			assert.LessOrEqual(t, len(f.Bytes), 1024)
			rebuilt = append(rebuilt, f.Bytes...)
		}
	}
	assert.Equal(t, content, rebuilt)

	ev := waitEvent(t, srv, func(ev Event) bool { return ev.Type == FileReady })
	assert.Equal(t, fileID, ev.FileID)
	assert.Equal(t, "blob.bin", ev.Name)
	assert.Equal(t, content, ev.Bytes)
	require.NotEmpty(t, ev.Path)
	saved, err := os.ReadFile(ev.Path)
	require.NoError(t, err)
	assert.Equal(t, content, saved)
}

func TestHostSendTextAndFile(t *testing.T) {
	srv := startServer(t, nil)
	a := dial(t, srv, client.Config{})
	b := dial(t, srv, client.Config{})

	require.NoError(t, srv.SendText("from the desktop"))
	for _, c := range []*client.Client{a, b} {
		f := nextFrame(t, c, transport.KindText)
		assert.Equal(t, "from the desktop", f.Content)
		assert.Equal(t, HostSessionID, f.OriginSessionID)
	}

	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("desk note"), 0o644))
	require.NoError(t, srv.SendFile(path))
	for _, c := range []*client.Client{a, b} {
		chunk := nextFrame(t, c, transport.KindFileChunk)
		assert.Equal(t, []byte("desk note"), chunk.Bytes)
		done := nextFrame(t, c, transport.KindFileComplete)
		assert.Equal(t, "note.txt", done.Name)
	}

	assert.Error(t, srv.SendText(""))
	assert.Error(t, srv.SendFile(filepath.Join(t.TempDir(), "missing")))
}

func TestReconnectReplacesSession(t *testing.T) {
	srv := startServer(t, nil)
	first := dial(t, srv, client.Config{ClientID: "phone"})
	second := dial(t, srv, client.Config{ClientID: "phone"})

	ev := waitEvent(t, srv, func(ev Event) bool { return ev.Type == PeerDisconnected })
	assert.Equal(t, first.SessionID(), ev.SessionID)
	assert.Equal(t, session.ReasonReplaced, ev.Reason)

	sessions := srv.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, second.SessionID(), sessions[0].ID)
}

func TestClientDisconnectEmitsEvent(t *testing.T) {
	srv := startServer(t, nil)
	a := dial(t, srv, client.Config{})
	require.NoError(t, a.Close())

	ev := waitEvent(t, srv, func(ev Event) bool { return ev.Type == PeerDisconnected })
	assert.Equal(t, a.SessionID(), ev.SessionID)
	assert.Equal(t, session.ReasonDisconnected, ev.Reason)
}

func TestIdleSessionTimesOut(t *testing.T) {
	srv := startServer(t, func(o *Options) {
		o.SessionIdleTimeout = 100 * time.Millisecond
		o.SweepInterval = 20 * time.Millisecond
	})
	quiet := dial(t, srv, client.Config{HeartbeatInterval: time.Hour})

	ev := waitEvent(t, srv, func(ev Event) bool { return ev.Type == PeerDisconnected })
	assert.Equal(t, quiet.SessionID(), ev.SessionID)
	assert.Equal(t, session.ReasonTimeout, ev.Reason)
}

func TestHeartbeatKeepsSessionAlive(t *testing.T) {
	srv := startServer(t, func(o *Options) {
		o.SessionIdleTimeout = 150 * time.Millisecond
		o.SweepInterval = 20 * time.Millisecond
	})
	dial(t, srv, client.Config{HeartbeatInterval: 30 * time.Millisecond})

	time.Sleep(400 * time.Millisecond)
	assert.Len(t, srv.Sessions(), 1)
}

func TestProtocolErrorsDisconnectOnlyOffender(t *testing.T) {
	srv := startServer(t, func(o *Options) { o.MaxProtocolErrors = 3 })
	bad := dial(t, srv, client.Config{})
	good := dial(t, srv, client.Config{})

	for i := 0; i < 3; i++ {
		require.NoError(t, bad.Send(&transport.Frame{Kind: transport.KindFileComplete, FileID: "x"}))
	}

	ev := waitEvent(t, srv, func(ev Event) bool { return ev.Type == PeerDisconnected })
	assert.Equal(t, bad.SessionID(), ev.SessionID)
	assert.Equal(t, session.ReasonProtocolErrors, ev.Reason)

	_, err := good.SendText("still here")
	require.NoError(t, err)
	nextFrame(t, good, transport.KindAck)
}

func TestPairingRequired(t *testing.T) {
	srv := startServer(t, func(o *Options) { o.PairingCode = "731904" })

	paired := dial(t, srv, client.Config{PairingCode: "731904"})
	_, err := paired.SendText("secret")
	require.NoError(t, err)
	nextFrame(t, paired, transport.KindAck)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.Port()))
	_, err = client.Dial(context.Background(), client.Config{Address: addr})
	assert.Error(t, err)
	_, err = client.Dial(context.Background(), client.Config{Address: addr, PairingCode: "000000"})
	assert.Error(t, err)
}

func TestPairedSessionSurvivesOversizedFrame(t *testing.T) {
	srv := startServer(t, func(o *Options) {
		o.PairingCode = "731904"
		o.MaxFrameBytes = 4096
		o.ChunkSize = 1024
	})
	c := dial(t, srv, client.Config{PairingCode: "731904"})

	require.NoError(t, c.Send(&transport.Frame{Kind: transport.KindText, ID: "big", Content: strings.Repeat("z", 6000)}))
	refused := nextFrame(t, c, transport.KindError)
	assert.NotEmpty(t, refused.Content)

	id, err := c.SendText("after the big one")
	require.NoError(t, err)
	ack := nextFrame(t, c, transport.KindAck)
	assert.Equal(t, id, ack.ID)
	assert.Len(t, srv.Sessions(), 1)
}

func TestWebSocketServer(t *testing.T) {
	srv := startServer(t, func(o *Options) { o.Network = transport.NetworkWebSocket })
	a := dial(t, srv, client.Config{})
	b := dial(t, srv, client.Config{})

	_, err := a.SendText("over websockets")
	require.NoError(t, err)
	assert.Equal(t, "over websockets", nextFrame(t, b, transport.KindText).Content)
}

func TestStopTearsDown(t *testing.T) {
	srv, err := Start(context.Background(), testOptions(nil))
	require.NoError(t, err)
	a := dial(t, srv, client.Config{ChunkSize: 4})

	// Leave a transfer unfinished so Stop has something to abandon.
	require.NoError(t, a.Send(&transport.Frame{
		Kind: transport.KindFileChunk, FileID: "partial", Name: "p", ChunkIndex: 0, ChunkCount: 2, Bytes: []byte("half"),
	}))
	_, err = a.SendText("sync")
	require.NoError(t, err)
	nextFrame(t, a, transport.KindAck)

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())

	var sawAbandoned, sawDisconnect bool
	for ev := range srv.Events() {
		switch ev.Type {
		case TransferAbandoned:
			sawAbandoned = ev.FileID == "partial"
		case PeerDisconnected:
			sawDisconnect = ev.SessionID == a.SessionID()
		}
	}
	assert.True(t, sawAbandoned)
	assert.True(t, sawDisconnect)

	select {
	case <-a.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("client not disconnected by Stop")
	}
	assert.ErrorIs(t, srv.SendText("late"), ErrServerStopped)
}
