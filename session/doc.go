// Package session implements the localshare session registry.
//
// The registry owns every connected peer's connection handle. Callers refer
// to peers by session id only; frames reach a peer through Registry.Send,
// which places them on a bounded per-session queue drained by a dedicated
// writer goroutine. A slow reader therefore never stalls the sender or other
// peers: when its queue overflows the configured SlowPeerPolicy either
// disconnects it or discards its oldest queued frame.
//
// Lifecycle:
//
//	Connecting -> Handshaking -> Active -> Disconnecting -> Closed
//	                          \-> Closed   \-> TimedOut -> Closed
//
// Only Active sessions receive broadcasts or may originate frames. Sweep
// expires sessions whose last heartbeat is older than the idle timeout.
package session
