// Package localshare implements a LAN relay that lets phones and desktops on
// the same network exchange text messages and files with a host
// application.
//
// Clients connect over TCP or WebSocket, complete a protocol-version
// handshake (optionally proving a shared pairing code), and join a single
// shared room: everything one client sends is relayed to every other
// connected client and reported to the host through an event stream.
//
// # Getting Started
//
//	opts := localshare.NewOptions()
//	opts.DownloadDir = "/home/me/Downloads/localshare"
//
//	srv, err := localshare.Start(ctx, opts)
//	if err != nil {
//	    log.Fatal(err) // *transport.BindError when the port is taken
//	}
//	defer srv.Stop()
//
//	fmt.Println("scan to connect:", srv.ConnectURL())
//
//	for ev := range srv.Events() {
//	    switch ev.Type {
//	    case localshare.MessageReceived:
//	        fmt.Printf("%s: %s\n", ev.RemoteAddr, ev.Text)
//	    case localshare.FileReady:
//	        fmt.Printf("received %s (%d bytes) at %s\n", ev.Name, len(ev.Bytes), ev.Path)
//	    }
//	}
//
// # Core Types
//
//   - [Server]: the running relay; the host sends with SendText and SendFile
//   - [Options]: configuration with defaults from [NewOptions]
//   - [Event]: one item of the stream returned by [Server.Events]
//
// # Subsystems
//
// The facade wires together the transport (listener, framing, handshake),
// session (registry, outbound queues, liveness sweep), messaging (the single
// router goroutine), file (chunk reassembly and download storage) and
// discovery (LAN address and multicast beacon) packages.
//
// # Ordering
//
// All frames pass through one router goroutine, so every client sees the
// same message order and a client's own messages keep their send order.
// Senders do not receive their messages back; they get an ack frame with
// the server timestamp instead.
//
// # Failure Isolation
//
// A misbehaving client only ever affects its own session: oversized,
// malformed or invalid frames are answered with an error frame, repeated
// offences close that session, and a client too slow to drain its queue is
// disconnected so it cannot stall the others. Clients reconnect on their own;
// a reconnect with the same client id replaces the stale session.
//
// The event stream never blocks the relay. When the host does not drain it
// and the buffer fills, events are dropped and logged.
package localshare
