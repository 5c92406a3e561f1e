// Package messaging implements the localshare message router.
//
// # Overview
//
// Every connection reader hands raw frames to a single Router through a
// bounded queue. One consumer goroutine validates each frame, stamps it with
// a strictly increasing server timestamp and fans it out to every other
// active session. Because there is exactly one consumer:
//
//   - frames from one origin reach each receiver in send order
//   - all receivers observe the same global order
//   - the sender never receives its own message back; it gets an ack frame
//     carrying the assigned timestamp instead
//
// # Frame Kinds
//
//	text          fan-out, ack to origin, Sink.OnMessage
//	file-chunk    reassembled by the TransferManager; the complete file is
//	              relayed as chunks plus one file-complete frame, Sink.OnFile
//	ping          heartbeat only
//
// Any other kind, including the server-only file-complete, ack and error
// kinds, is a ProtocolError.
//
// # Error Handling
//
// A rejected frame is answered with an error frame to its sender and logged;
// other sessions are unaffected. After MaxProtocolErrors consecutive
// rejections the sender is disconnected. Frames from sessions that are no
// longer registered are dropped silently with ErrUnknownSession.
//
// # Host Messages
//
// SubmitText and SubmitFile inject host-originated frames with origin
// HostSessionID. They pass through the same queue, so they are ordered with
// peer traffic.
package messaging
