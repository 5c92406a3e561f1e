package localshare

import "time"

// EventType identifies an Event.
type EventType uint8

const (
	// PeerConnected fires once a client completed the handshake.
	PeerConnected EventType = iota
	// PeerDisconnected fires when a connected client's session ends.
	PeerDisconnected
	// MessageReceived carries a text message a client sent.
	MessageReceived
	// FileReady carries a file a client finished sending.
	FileReady
	// TransferAbandoned fires when an incomplete transfer is released.
	TransferAbandoned
)

func (t EventType) String() string {
	switch t {
	case PeerConnected:
		return "peer-connected"
	case PeerDisconnected:
		return "peer-disconnected"
	case MessageReceived:
		return "message-received"
	case FileReady:
		return "file-ready"
	case TransferAbandoned:
		return "transfer-abandoned"
	default:
		return "unknown"
	}
}

// Event is one item of the server's event stream. Only the fields relevant
// to Type are set.
type Event struct {
	Type       EventType
	SessionID  string
	ClientID   string
	RemoteAddr string

	// MessageReceived
	MessageID string
	Text      string
	// Timestamp is the server-assigned Unix millisecond timestamp of a
	// message or file.
	Timestamp int64

	// FileReady and TransferAbandoned
	FileID string
	Name   string
	Bytes  []byte
	// Path is where the file was saved when a download directory is set.
	Path string

	// PeerDisconnected and TransferAbandoned
	Reason string

	At time.Time
}

// SessionInfo describes a connected client.
type SessionInfo struct {
	ID          string
	ClientID    string
	RemoteAddr  string
	ConnectedAt time.Time
	LastSeen    time.Time
	State       string
}
