package messaging

import (
	"errors"
	"fmt"

	"github.com/opd-ai/localshare/transport"
)

var (
	// ErrUnknownSession indicates a frame from a session that is not active.
	// Such frames are dropped without a reply.
	ErrUnknownSession = errors.New("frame from unknown session")
	// ErrRouterClosed is returned by Submit after the router stopped.
	ErrRouterClosed = errors.New("router closed")
)

// ProtocolError reports a well-formed frame the router refuses: an unknown
// or server-only kind, missing fields, or content that fails validation.
type ProtocolError struct {
	SessionID string
	Kind      transport.Kind
	Reason    string
	Err       error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error from %s (%s): %s: %v", e.SessionID, e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol error from %s (%s): %s", e.SessionID, e.Kind, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// MalformedFrameError reports a payload that is not a decodable frame.
type MalformedFrameError struct {
	SessionID string
	Err       error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame from %s: %v", e.SessionID, e.Err)
}

func (e *MalformedFrameError) Unwrap() error { return e.Err }
