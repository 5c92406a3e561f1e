package file

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/localshare/limits"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidChunk indicates a chunk whose index, count or id is unusable.
	ErrInvalidChunk = errors.New("invalid file chunk")
	// ErrTransferConflict indicates a chunk that disagrees with the existing transfer.
	ErrTransferConflict = errors.New("file transfer conflict")
	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("file manager closed")
)

// TransferConflictError describes why a chunk was refused for an existing
// transfer. The transfer itself is left unchanged.
type TransferConflictError struct {
	FileID string
	Reason string
}

func (e *TransferConflictError) Error() string {
	return fmt.Sprintf("file transfer conflict for %s: %s", e.FileID, e.Reason)
}

func (e *TransferConflictError) Unwrap() error { return ErrTransferConflict }

// Status is the outcome of an accepted chunk.
type Status uint8

const (
	// StatusPending means more chunks are needed.
	StatusPending Status = iota
	// StatusDuplicate means the index was already received; nothing changed.
	StatusDuplicate
	// StatusComplete means this chunk finished the file.
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDuplicate:
		return "duplicate"
	case StatusComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Completed is an assembled file.
type Completed struct {
	FileID    string
	SessionID string
	Name      string
	Data      []byte
}

// Abandoned describes a transfer released before completion.
type Abandoned struct {
	FileID     string
	SessionID  string
	Name       string
	Received   int
	ChunkCount int
	Bytes      int64
	Reason     string
}

// Reasons reported in Abandoned.Reason.
const (
	AbandonIdle         = "idle-timeout"
	AbandonDisconnected = "disconnected"
	AbandonShutdown     = "shutdown"
)

const defaultShards = 16

// ManagerConfig configures a Manager. Zero values take the defaults.
type ManagerConfig struct {
	IdleTimeout      time.Duration
	MaxTransferBytes int64
	MaxChunkBytes    int
	Shards           int
	TimeProvider     TimeProvider
}

type shard struct {
	mu        sync.Mutex
	transfers map[string]*Transfer
}

// Manager reassembles incoming files. Transfers are keyed by file id and
// spread over independently locked shards; each Transfer carries its own lock.
type Manager struct {
	cfg    ManagerConfig
	shards []*shard

	closeMu sync.RWMutex
	closed  bool
}

// NewManager creates a new file transfer manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxTransferBytes <= 0 {
		cfg.MaxTransferBytes = limits.DefaultMaxTransferBytes
	}
	if cfg.MaxChunkBytes <= 0 || cfg.MaxChunkBytes > limits.MaxChunkSize {
		cfg.MaxChunkBytes = limits.MaxChunkSize
	}
	if cfg.Shards <= 0 {
		cfg.Shards = defaultShards
	}
	if cfg.TimeProvider == nil {
		cfg.TimeProvider = DefaultTimeProvider{}
	}

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{transfers: make(map[string]*Transfer)}
	}
	return &Manager{cfg: cfg, shards: shards}
}

func (m *Manager) shardFor(fileID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(fileID))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

// validateChunk checks one chunk against its declared count and the size
// limits. Owner and count conflicts with an open transfer are checked first
// by acceptInto.
func (m *Manager) validateChunk(index, count int, data []byte) error {
	if count <= 0 || count > limits.MaxChunkCount {
		return fmt.Errorf("%w: chunk count %d out of range", ErrInvalidChunk, count)
	}
	if index < 0 || index >= count {
		return fmt.Errorf("%w: index %d not below count %d", ErrInvalidChunk, index, count)
	}
	// A single empty chunk is how an empty file travels.
	if len(data) == 0 && count == 1 {
		return nil
	}
	if err := limits.ValidateMessageSize(data, m.cfg.MaxChunkBytes); err != nil {
		if errors.Is(err, limits.ErrMessageEmpty) {
			return fmt.Errorf("%w: %w", ErrInvalidChunk, err)
		}
		return err
	}
	return nil
}

// AcceptChunk records one chunk of fileID sent by sessionID. The first chunk
// creates the transfer and fixes its count and owner. When the last missing
// index arrives the transfer is removed and the assembled file is returned.
func (m *Manager) AcceptChunk(fileID, sessionID, name string, index, count int, data []byte) (Status, *Completed, error) {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return StatusPending, nil, ErrManagerClosed
	}

	if fileID == "" {
		return StatusPending, nil, fmt.Errorf("%w: missing file id", ErrInvalidChunk)
	}

	now := m.cfg.TimeProvider.Now()
	sh := m.shardFor(fileID)

	for {
		sh.mu.Lock()
		t, exists := sh.transfers[fileID]
		if !exists {
			if err := m.validateChunk(index, count, data); err != nil {
				sh.mu.Unlock()
				return StatusPending, nil, err
			}
			t = newTransfer(fileID, sessionID, name, count, now)
			sh.transfers[fileID] = t
			logrus.WithFields(logrus.Fields{
				"function":    "AcceptChunk",
				"file_id":     fileID,
				"session_id":  sessionID,
				"file_name":   name,
				"chunk_count": count,
			}).Debug("Incoming transfer started")
		}
		sh.mu.Unlock()

		status, done, err := m.acceptInto(sh, t, sessionID, index, count, data, now)
		if errors.Is(err, errTransferGone) {
			continue
		}
		return status, done, err
	}
}

// errTransferGone makes AcceptChunk look the file id up again.
var errTransferGone = errors.New("transfer finished concurrently")

func (m *Manager) acceptInto(sh *shard, t *Transfer, sessionID string, index, count int, data []byte, now time.Time) (Status, *Completed, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Completed or swept between the map lookup and this lock.
	if t.finished {
		return StatusPending, nil, errTransferGone
	}

	if t.SessionID != sessionID {
		return StatusPending, nil, &TransferConflictError{
			FileID: t.FileID,
			Reason: "file id owned by another session",
		}
	}
	if t.ChunkCount != count {
		return StatusPending, nil, &TransferConflictError{
			FileID: t.FileID,
			Reason: fmt.Sprintf("chunk count %d does not match %d", count, t.ChunkCount),
		}
	}
	if err := m.validateChunk(index, count, data); err != nil {
		return StatusPending, nil, err
	}
	if !t.received[index] && t.totalBytes+int64(len(data)) > m.cfg.MaxTransferBytes {
		return StatusPending, nil, fmt.Errorf("%w: transfer %s exceeds %d bytes",
			limits.ErrMessageTooLarge, t.FileID, m.cfg.MaxTransferBytes)
	}

	if t.add(index, data, now) {
		return StatusDuplicate, nil, nil
	}
	if !t.complete() {
		return StatusPending, nil, nil
	}

	t.finished = true
	sh.mu.Lock()
	if sh.transfers[t.FileID] == t {
		delete(sh.transfers, t.FileID)
	}
	sh.mu.Unlock()

	done := &Completed{
		FileID:    t.FileID,
		SessionID: t.SessionID,
		Name:      t.Name,
		Data:      t.assemble(),
	}

	logrus.WithFields(logrus.Fields{
		"function":    "AcceptChunk",
		"file_id":     t.FileID,
		"session_id":  t.SessionID,
		"chunk_count": t.ChunkCount,
		"bytes":       len(done.Data),
	}).Info("Transfer complete")

	return StatusComplete, done, nil
}

// release removes t under its own lock and reports it, or returns false if
// it already finished.
func (m *Manager) release(sh *shard, t *Transfer, reason string) (Abandoned, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return Abandoned{}, false
	}
	t.finished = true

	sh.mu.Lock()
	if sh.transfers[t.FileID] == t {
		delete(sh.transfers, t.FileID)
	}
	sh.mu.Unlock()

	a := Abandoned{
		FileID:     t.FileID,
		SessionID:  t.SessionID,
		Name:       t.Name,
		Received:   t.receivedCount,
		ChunkCount: t.ChunkCount,
		Bytes:      t.totalBytes,
		Reason:     reason,
	}
	t.chunks = nil

	logrus.WithFields(logrus.Fields{
		"function":    "release",
		"file_id":     t.FileID,
		"session_id":  t.SessionID,
		"received":    a.Received,
		"chunk_count": a.ChunkCount,
		"reason":      reason,
	}).Warn("Transfer abandoned")

	return a, true
}

// releaseWhere abandons every transfer matching match.
func (m *Manager) releaseWhere(match func(*Transfer) bool, reason string) []Abandoned {
	type candidate struct {
		sh *shard
		t  *Transfer
	}
	var candidates []candidate
	for _, sh := range m.shards {
		sh.mu.Lock()
		for _, t := range sh.transfers {
			candidates = append(candidates, candidate{sh, t})
		}
		sh.mu.Unlock()
	}

	var out []Abandoned
	for _, c := range candidates {
		if !match(c.t) {
			continue
		}
		if a, ok := m.release(c.sh, c.t, reason); ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out
}

// Sweep abandons transfers that have received no new chunk for longer than
// the idle timeout.
func (m *Manager) Sweep(now time.Time) []Abandoned {
	return m.releaseWhere(func(t *Transfer) bool {
		return now.Sub(t.LastChunkTime()) > m.cfg.IdleTimeout
	}, AbandonIdle)
}

// AbandonSession releases every transfer owned by sessionID.
func (m *Manager) AbandonSession(sessionID string) []Abandoned {
	return m.releaseWhere(func(t *Transfer) bool {
		return t.SessionID == sessionID
	}, AbandonDisconnected)
}

// Get returns the in-progress transfer for fileID.
func (m *Manager) Get(fileID string) (*Transfer, bool) {
	sh := m.shardFor(fileID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	t, ok := sh.transfers[fileID]
	return t, ok
}

// Len returns the number of in-progress transfers.
func (m *Manager) Len() int {
	n := 0
	for _, sh := range m.shards {
		sh.mu.Lock()
		n += len(sh.transfers)
		sh.mu.Unlock()
	}
	return n
}

// Close abandons every in-progress transfer and refuses further chunks.
// Calling Close again returns nil.
func (m *Manager) Close() []Abandoned {
	m.closeMu.Lock()
	if m.closed {
		m.closeMu.Unlock()
		return nil
	}
	m.closed = true
	m.closeMu.Unlock()

	return m.releaseWhere(func(*Transfer) bool { return true }, AbandonShutdown)
}
