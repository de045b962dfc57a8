package cluster

import (
	"github.com/huchijwk/foros/raft/proto"
)

// DataInterface is the application supplied data store. Every call
// arrives on the node's event loop thread; implementations need no
// internal locking.
type DataInterface interface {
	// Get returns the entry registered at id, or nil when id is out
	// of range.
	Get(id uint64) *raftpd.LogEntry

	// Latest returns the most recently registered entry, or nil when
	// the store is empty.
	Latest() *raftpd.LogEntry

	// CommitRequested registers a proposed entry. It must succeed iff
	// entry.ID equals the current entry count; on success the count
	// grows by one.
	CommitRequested(entry *raftpd.LogEntry) bool

	// RollbackRequested truncates the store to length id, discarding
	// divergent tail entries.
	RollbackRequested(id uint64)
}

// CommitResponse resolves a commit_data call.
type CommitResponse struct {
	Result bool
	Entry  raftpd.LogEntry
	Err    error
}

// CommitCallback is invoked exactly once per commit_data call, on the
// node's event loop; once the node is shut down it is invoked on the
// caller's goroutine instead. It must not block and must not call back
// into the node synchronously.
type CommitCallback func(resp *CommitResponse)
