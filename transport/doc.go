// Package transport provides the localshare transport listener: it binds a
// TCP port on the local network, runs the protocol handshake on every
// accepted connection and turns it into a persistent bidirectional frame
// channel.
//
// # Channels
//
// Two framings share one Conn interface:
//
//   - StreamConn: raw TCP, each frame prefixed with a 4-byte big-endian length.
//   - WSConn: WebSocket (github.com/gorilla/websocket), one frame per message.
//     In websocket mode the listener also answers "GET /" with a JSON status
//     document so the URL encoded in the QR code opens something useful.
//
// Both enforce a maximum frame size before buffering a payload. Oversized
// frames are drained and reported as *FrameTooLargeError; the connection stays
// in sync.
//
// # Handshake
//
//	client -> {"protocolVersion":1,"clientId":"phone-1","noise":"..."}
//	server <- {"ok":true,"sessionId":"...","protocolVersion":1,"noise":"..."}
//
// A version mismatch is answered with ok=false and the connection is closed;
// no session is created. When a pairing key is configured the hello must
// carry the first Noise NNpsk0 message (see package noise) and the rest of the
// connection is sealed by SecureConn.
//
// # Lifecycle
//
//	l, err := transport.Listen(ctx, transport.ListenConfig{Port: 3000})
//	var bindErr *transport.BindError
//	if errors.As(err, &bindErr) {
//	    // fatal: nothing to serve on
//	}
//	peer, err := l.Accept(ctx)
//	err = peer.Welcome(sessionID)
//	conn := peer.Conn()
//	...
//	l.Close() // cancels Accept and in-flight handshakes
//
// # Thread Safety
//
// WriteFrame is safe for concurrent use on every Conn. ReadFrame must be
// driven by a single goroutine per connection.
package transport
