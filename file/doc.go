// Package file implements chunked file relay for localshare: reassembly of
// incoming chunks, splitting of outgoing files and persistence of received
// files.
//
// # Overview
//
// The file package provides three components:
//
//   - Manager: collects file-chunk frames per file id, detects conflicting
//     announcements and returns the assembled file exactly once
//   - Chunker: reads a local file and splits it into fixed-size chunks under
//     a fresh file id
//   - Store: writes completed files into a download directory without ever
//     overwriting an existing file
//
// # Reassembly
//
//	mgr := file.NewManager(file.ManagerConfig{IdleTimeout: time.Minute})
//	status, done, err := mgr.AcceptChunk(fileID, sessionID, name, index, count, data)
//	switch {
//	case errors.Is(err, file.ErrTransferConflict):
//	    // another session owns fileID or the count disagrees
//	case status == file.StatusComplete:
//	    deliver(done.Data)
//	}
//
// The first chunk of a file id fixes its owning session and chunk count.
// Chunks may arrive in any order; repeated indices are ignored and the first
// copy wins. A transfer that receives no new chunk for IdleTimeout is
// released by Sweep, and AbandonSession releases everything a disconnected
// session left unfinished.
//
// # Security
//
// Suggested names come from remote peers. SanitizeName reduces them to one
// path element and rejects traversal:
//
//	if _, err := file.SanitizeName("../../etc/passwd"); err != nil {
//	    // err == file.ErrDirectoryTraversal
//	}
//
// Chunk sizes are bounded by limits.MaxChunkSize and assembled files by
// ManagerConfig.MaxTransferBytes.
//
// # Deterministic Testing
//
// For reproducible test scenarios, inject a TimeProvider:
//
//	type TimeProvider interface {
//	    Now() time.Time
//	    Since(t time.Time) time.Duration
//	}
//
// # Thread Safety
//
// Transfers live in a sharded map and each Transfer carries its own mutex,
// so chunks for unrelated files never wait on one global lock.
package file
