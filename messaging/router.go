package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/opd-ai/localshare/file"
	"github.com/opd-ai/localshare/limits"
	"github.com/opd-ai/localshare/session"
	"github.com/opd-ai/localshare/transport"
	"github.com/sirupsen/logrus"
)

// HostSessionID is the origin recorded for frames the host application sends.
const HostSessionID = "host"

// Defaults for Config.
const (
	DefaultInboundQueue      = 256
	DefaultMaxProtocolErrors = 5
)

// SessionRegistry is the part of the session registry the router needs.
type SessionRegistry interface {
	IsActive(id string) bool
	Heartbeat(id string) bool
	Send(id string, payload []byte) error
	SendBatch(id string, batch [][]byte) error
	Unregister(id, reason string) bool
	Active() []*session.Session
}

// TransferManager reassembles incoming file chunks.
type TransferManager interface {
	AcceptChunk(fileID, sessionID, name string, index, count int, data []byte) (file.Status, *file.Completed, error)
}

// Message is a routed text message.
type Message struct {
	ID        string
	SessionID string
	Content   string
	Timestamp int64
}

// FileDelivery is a completed file that was relayed to the other peers.
type FileDelivery struct {
	FileID    string
	SessionID string
	Name      string
	Data      []byte
	Timestamp int64
}

// Sink receives what the router delivered. Implementations must not block.
type Sink interface {
	OnMessage(Message)
	OnFile(FileDelivery)
}

// Config configures a Router. Zero values take the defaults.
type Config struct {
	MaxFrameBytes     int
	InboundQueue      int
	MaxProtocolErrors int
	ChunkSize         int
	TimeProvider      TimeProvider
}

type item struct {
	sessionID string
	raw       []byte
	err       error
	text      *Message
	file      *file.Outgoing
}

// Router is the single consumer of every inbound frame. Because one
// goroutine stamps and fans out all frames, every receiver observes them in
// the same order and frames from one origin keep their send order.
type Router struct {
	cfg       Config
	registry  SessionRegistry
	transfers TransferManager
	sink      Sink
	stamper   *Stamper
	chunker   *file.Chunker

	inbound   chan item
	done      chan struct{}
	closeOnce sync.Once

	strikesMu sync.Mutex
	strikes   map[string]int
}

// NewRouter creates a router. sink may be nil.
func NewRouter(cfg Config, registry SessionRegistry, transfers TransferManager, sink Sink) *Router {
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = limits.DefaultMaxFrameBytes
	}
	if cfg.InboundQueue <= 0 {
		cfg.InboundQueue = DefaultInboundQueue
	}
	if cfg.MaxProtocolErrors <= 0 {
		cfg.MaxProtocolErrors = DefaultMaxProtocolErrors
	}

	return &Router{
		cfg:       cfg,
		registry:  registry,
		transfers: transfers,
		sink:      sink,
		stamper:   NewStamper(cfg.TimeProvider),
		chunker:   file.NewChunker(cfg.ChunkSize, 0),
		inbound:   make(chan item, cfg.InboundQueue),
		done:      make(chan struct{}),
		strikes:   make(map[string]int),
	}
}

// Run consumes the inbound queue until ctx is cancelled or Close is called.
func (r *Router) Run(ctx context.Context) {
	logrus.WithFields(logrus.Fields{
		"function":      "Run",
		"inbound_queue": r.cfg.InboundQueue,
	}).Debug("Router started")

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return
		case <-r.done:
			return
		case it := <-r.inbound:
			r.process(it)
		}
	}
}

// Close stops Run and makes further submissions fail with ErrRouterClosed.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}

func (r *Router) enqueue(ctx context.Context, it item) error {
	select {
	case <-r.done:
		return ErrRouterClosed
	default:
	}

	select {
	case r.inbound <- it:
		return nil
	case <-r.done:
		return ErrRouterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit hands a raw frame read from sessionID to the router. It blocks
// only while the bounded inbound queue is full.
func (r *Router) Submit(ctx context.Context, sessionID string, raw []byte) error {
	return r.enqueue(ctx, item{sessionID: sessionID, raw: raw})
}

// Reject records a frame the connection reader could not deliver, such as
// one that exceeded the size limit, so it counts as a rejected frame.
func (r *Router) Reject(ctx context.Context, sessionID string, err error) error {
	return r.enqueue(ctx, item{sessionID: sessionID, err: err})
}

// SubmitText broadcasts a host-originated text message to every active
// session and returns its id.
func (r *Router) SubmitText(ctx context.Context, content string) (string, error) {
	if err := limits.ValidateText(content); err != nil {
		return "", err
	}
	msg := &Message{ID: uuid.NewString(), SessionID: HostSessionID, Content: content}
	return msg.ID, r.enqueue(ctx, item{sessionID: HostSessionID, text: msg})
}

// SubmitFile broadcasts a host-originated file to every active session.
func (r *Router) SubmitFile(ctx context.Context, out *file.Outgoing) error {
	if out == nil {
		return fmt.Errorf("outgoing file cannot be nil")
	}
	return r.enqueue(ctx, item{sessionID: HostSessionID, file: out})
}

// Admit enforces one active session per client id: the session that s
// replaces is unregistered.
func (r *Router) Admit(s *session.Session) {
	if s.Replaces == "" {
		return
	}
	if r.registry.Unregister(s.Replaces, session.ReasonReplaced) {
		logrus.WithFields(logrus.Fields{
			"function":    "Admit",
			"session_id":  s.ID,
			"replaced_id": s.Replaces,
			"client_id":   s.ClientID,
		}).Info("Client reconnected, previous session replaced")
	}
}

// Forget drops per-session router state once a session is gone.
func (r *Router) Forget(sessionID string) {
	r.strikesMu.Lock()
	delete(r.strikes, sessionID)
	r.strikesMu.Unlock()
}

func (r *Router) process(it item) {
	switch {
	case it.text != nil:
		r.routeHostText(it.text)
	case it.file != nil:
		r.routeHostFile(it.file)
	case it.err != nil:
		r.reject(it.sessionID, "", it.err)
	default:
		_ = r.HandleInbound(it.sessionID, it.raw)
	}
}

// HandleInbound validates and routes one frame from sessionID. Every
// rejected frame is answered with an error frame and counts towards the
// session's protocol error limit; frames from unknown sessions are dropped.
func (r *Router) HandleInbound(sessionID string, raw []byte) error {
	frame, err := r.handle(sessionID, raw)
	if err == nil {
		r.resetStrikes(sessionID)
		return nil
	}
	if errors.Is(err, ErrUnknownSession) {
		logrus.WithFields(logrus.Fields{
			"function":   "HandleInbound",
			"session_id": sessionID,
		}).Debug("Dropping frame from unknown session")
		return err
	}

	id := ""
	if frame != nil {
		id = frame.ID
		if id == "" {
			id = frame.FileID
		}
	}
	r.reject(sessionID, id, err)
	return err
}

func (r *Router) handle(sessionID string, raw []byte) (*transport.Frame, error) {
	if len(raw) > r.cfg.MaxFrameBytes {
		return nil, &transport.FrameTooLargeError{Size: int64(len(raw)), Limit: r.cfg.MaxFrameBytes}
	}

	frame, err := transport.DecodeFrame(raw)
	if err != nil {
		if !r.registry.IsActive(sessionID) {
			return nil, ErrUnknownSession
		}
		return nil, &MalformedFrameError{SessionID: sessionID, Err: err}
	}

	if !r.registry.IsActive(sessionID) {
		return frame, ErrUnknownSession
	}
	r.registry.Heartbeat(sessionID)

	switch frame.Kind {
	case transport.KindText:
		return frame, r.routeText(sessionID, frame)
	case transport.KindFileChunk:
		return frame, r.routeChunk(sessionID, frame)
	case transport.KindPing:
		return frame, nil
	case transport.KindFileComplete, transport.KindAck, transport.KindError:
		return frame, &ProtocolError{SessionID: sessionID, Kind: frame.Kind, Reason: "kind is sent by the server only"}
	default:
		return frame, &ProtocolError{SessionID: sessionID, Kind: frame.Kind, Reason: "unknown kind"}
	}
}

func (r *Router) routeText(sessionID string, in *transport.Frame) error {
	if err := limits.ValidateText(in.Content); err != nil {
		return &ProtocolError{SessionID: sessionID, Kind: in.Kind, Reason: "invalid text", Err: err}
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := r.stamper.Next()

	r.broadcast(sessionID, &transport.Frame{
		Kind:            transport.KindText,
		ID:              id,
		Content:         in.Content,
		Timestamp:       ts,
		OriginSessionID: sessionID,
	})
	r.sendFrame(sessionID, &transport.Frame{Kind: transport.KindAck, ID: id, Timestamp: ts})

	logrus.WithFields(logrus.Fields{
		"function":   "routeText",
		"session_id": sessionID,
		"message_id": id,
		"timestamp":  ts,
		"length":     len(in.Content),
	}).Debug("Text message routed")

	if r.sink != nil {
		r.sink.OnMessage(Message{ID: id, SessionID: sessionID, Content: in.Content, Timestamp: ts})
	}
	return nil
}

func (r *Router) routeChunk(sessionID string, in *transport.Frame) error {
	if r.transfers == nil {
		return &ProtocolError{SessionID: sessionID, Kind: in.Kind, Reason: "file transfer disabled"}
	}

	status, done, err := r.transfers.AcceptChunk(in.FileID, sessionID, in.Name, in.ChunkIndex, in.ChunkCount, in.Bytes)
	if err != nil {
		return &ProtocolError{SessionID: sessionID, Kind: in.Kind, Reason: "chunk refused", Err: err}
	}
	if status != file.StatusComplete {
		return nil
	}

	ts := r.stamper.Next()
	r.broadcastFile(sessionID, done.FileID, done.Name, done.Data, ts)
	r.sendFrame(sessionID, &transport.Frame{Kind: transport.KindAck, ID: done.FileID, FileID: done.FileID, Timestamp: ts})

	if r.sink != nil {
		r.sink.OnFile(FileDelivery{
			FileID:    done.FileID,
			SessionID: sessionID,
			Name:      done.Name,
			Data:      done.Data,
			Timestamp: ts,
		})
	}
	return nil
}

func (r *Router) routeHostText(msg *Message) {
	msg.Timestamp = r.stamper.Next()
	r.broadcast(HostSessionID, &transport.Frame{
		Kind:            transport.KindText,
		ID:              msg.ID,
		Content:         msg.Content,
		Timestamp:       msg.Timestamp,
		OriginSessionID: HostSessionID,
	})
}

func (r *Router) routeHostFile(out *file.Outgoing) {
	r.broadcastFile(HostSessionID, out.FileID, out.Name, out.Data, r.stamper.Next())
}

// recipients returns the active sessions other than origin.
func (r *Router) recipients(origin string) []string {
	var ids []string
	for _, s := range r.registry.Active() {
		if s.ID != origin {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func (r *Router) broadcast(origin string, frame *transport.Frame) {
	payload, err := transport.EncodeFrame(frame)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "broadcast",
			"kind":     frame.Kind,
			"error":    err.Error(),
		}).Error("Failed to encode frame")
		return
	}
	for _, id := range r.recipients(origin) {
		r.deliver(id, [][]byte{payload})
	}
}

// broadcastFile relays an assembled file as a chunk sequence followed by one
// file-complete frame. The sequence is queued as one batch per recipient so
// it is never interleaved with other frames.
func (r *Router) broadcastFile(origin, fileID, name string, data []byte, ts int64) {
	chunks := r.chunker.Split(data)
	batch := make([][]byte, 0, len(chunks)+1)

	for i, c := range chunks {
		payload, err := transport.EncodeFrame(&transport.Frame{
			Kind:            transport.KindFileChunk,
			FileID:          fileID,
			Name:            name,
			ChunkIndex:      i,
			ChunkCount:      len(chunks),
			Bytes:           c,
			Size:            int64(len(data)),
			Timestamp:       ts,
			OriginSessionID: origin,
		})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "broadcastFile",
				"file_id":  fileID,
				"error":    err.Error(),
			}).Error("Failed to encode chunk")
			return
		}
		batch = append(batch, payload)
	}

	complete, err := transport.EncodeFrame(&transport.Frame{
		Kind:            transport.KindFileComplete,
		FileID:          fileID,
		Name:            name,
		ChunkCount:      len(chunks),
		Size:            int64(len(data)),
		Timestamp:       ts,
		OriginSessionID: origin,
	})
	if err != nil {
		return
	}
	batch = append(batch, complete)

	recipients := r.recipients(origin)
	for _, id := range recipients {
		r.deliver(id, batch)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "broadcastFile",
		"file_id":     fileID,
		"origin":      origin,
		"chunk_count": len(chunks),
		"bytes":       len(data),
		"recipients":  len(recipients),
	}).Info("File relayed")
}

func (r *Router) deliver(id string, batch [][]byte) {
	if err := r.registry.SendBatch(id, batch); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "deliver",
			"session_id": id,
			"error":      err.Error(),
		}).Debug("Delivery skipped")
	}
}

func (r *Router) sendFrame(id string, frame *transport.Frame) {
	payload, err := transport.EncodeFrame(frame)
	if err != nil {
		return
	}
	r.deliver(id, [][]byte{payload})
}

func (r *Router) resetStrikes(sessionID string) {
	r.strikesMu.Lock()
	delete(r.strikes, sessionID)
	r.strikesMu.Unlock()
}

// reject answers a refused frame with an error frame and disconnects the
// session once it reaches MaxProtocolErrors consecutive rejections.
func (r *Router) reject(sessionID, frameID string, cause error) {
	if !r.registry.IsActive(sessionID) {
		return
	}

	r.strikesMu.Lock()
	r.strikes[sessionID]++
	strikes := r.strikes[sessionID]
	r.strikesMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "reject",
		"session_id": sessionID,
		"frame_id":   frameID,
		"strikes":    strikes,
		"error":      cause.Error(),
	}).Warn("Frame rejected")

	r.sendFrame(sessionID, &transport.Frame{Kind: transport.KindError, ID: frameID, Content: cause.Error()})

	if strikes >= r.cfg.MaxProtocolErrors {
		r.Forget(sessionID)
		r.registry.Unregister(sessionID, session.ReasonProtocolErrors)
	}
}
