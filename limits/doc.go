// Package limits provides centralized size constants and validation functions
// for localshare. Every component that accepts bytes from the network checks
// them here before allocating or buffering.
//
// # Size Hierarchy
//
//   - DefaultMaxFrameBytes (1MB): default bound on one wire frame, checked by
//     the transport before the payload is read and again by the router.
//   - MaxChunkSize (512KB): largest accepted file chunk payload.
//   - DefaultChunkSize (64KB): chunk size the server uses when it splits files.
//   - MaxTextMessage (64KB): largest text message.
//   - DefaultMaxTransferBytes (256MB): bound on an assembled file.
//
// # Validation Functions
//
//	err := limits.ValidateText(content)
//	if errors.Is(err, limits.ErrMessageTooLarge) {
//	    // reject
//	}
//
// For custom size limits, use the generic ValidateMessageSize function:
//
//	err := limits.ValidateMessageSize(data, 4096)
//
// # Error Types
//
//   - ErrMessageEmpty: Returned when an empty or nil message is provided
//   - ErrMessageTooLarge: Returned when message exceeds the specified limit
package limits
