package transport

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the type of a localshare frame.
type Kind string

const (
	// KindText carries a text message.
	KindText Kind = "text"
	// KindFileChunk carries one chunk of a file.
	KindFileChunk Kind = "file-chunk"
	// KindFileComplete announces that every chunk of a file has been sent.
	KindFileComplete Kind = "file-complete"

	// KindPing is a client heartbeat. It is never routed.
	KindPing Kind = "ping"
	// KindAck tells the origin which server timestamp its frame received.
	KindAck Kind = "ack"
	// KindError reports a rejected frame back to its sender.
	KindError Kind = "error"
)

// IsRoutable reports whether clients may send frames of this kind for fan-out.
func (k Kind) IsRoutable() bool {
	return k == KindText || k == KindFileChunk
}

// Frame is the single wire shape used for every message after the handshake.
// Timestamp and OriginSessionID are only ever set by the server.
type Frame struct {
	Kind            Kind   `json:"kind"`
	ID              string `json:"id,omitempty"`
	Content         string `json:"content,omitempty"`
	Bytes           []byte `json:"bytes,omitempty"`
	FileID          string `json:"fileId,omitempty"`
	Name            string `json:"name,omitempty"`
	ChunkIndex      int    `json:"chunkIndex,omitempty"`
	ChunkCount      int    `json:"chunkCount,omitempty"`
	Size            int64  `json:"size,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
	OriginSessionID string `json:"originSessionId,omitempty"`
}

// EncodeFrame serializes a frame to its JSON wire form.
func EncodeFrame(f *Frame) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("frame cannot be nil")
	}
	if f.Kind == "" {
		return nil, fmt.Errorf("frame kind is empty")
	}
	return json.Marshal(f)
}

// DecodeFrame parses a JSON frame. It only checks that the payload is a JSON
// object with a kind; semantic validation belongs to the router.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Kind == "" {
		return nil, fmt.Errorf("frame kind is missing")
	}
	return &f, nil
}
