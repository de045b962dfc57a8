package raft

import (
	log "github.com/sirupsen/logrus"

	"github.com/huchijwk/foros/raft/proto"
	"github.com/huchijwk/foros/utils"
)

// DataStore is the application supplied local data store. All calls
// arrive on the node's event loop; implementations need no locking.
type DataStore interface {
	// Get returns the entry registered at id, or nil if id is out of range.
	Get(id uint64) *raftpd.LogEntry

	// Latest returns the most recently registered entry, or nil.
	Latest() *raftpd.LogEntry

	// CommitRequested registers entry. It must succeed iff
	// entry.ID equals the current entry count.
	CommitRequested(entry *raftpd.LogEntry) bool

	// RollbackRequested truncates the store to length id.
	RollbackRequested(id uint64)
}

// entryCount translates a last-entry id to a log length.
func entryCount(idx uint64) uint64 {
	if idx == raftpd.NoIndex {
		return 0
	}
	return idx + 1
}

// logStore wraps the DataStore and enforces the monotone append and
// rollback contract. Entries the store holds form [0, count); the
// committed prefix is [0, commitIndex). A leader additionally keeps a
// staged tail of entries waiting for quorum, which reaches the
// DataStore only once quorum acknowledged them.
type logStore struct {
	id   uint32
	data DataStore

	count       uint64
	commitIndex uint64
	staged      []raftpd.LogEntry
}

func makeLogStore(id uint32, data DataStore) *logStore {
	ls := &logStore{id: id, data: data}
	if latest := data.Latest(); latest != nil {
		ls.count = latest.ID + 1
	}

	// Entries a fresh node boots with were committed in a previous
	// incarnation; treat them as the committed baseline.
	ls.commitIndex = ls.count

	log.Debugf("%d build log store [count: %d]", id, ls.count)
	return ls
}

func (ls *logStore) lastCount() uint64 {
	return ls.count + uint64(len(ls.staged))
}

func (ls *logStore) lastIndex() uint64 {
	if lc := ls.lastCount(); lc > 0 {
		return lc - 1
	}
	return raftpd.NoIndex
}

func (ls *logStore) term(id uint64) uint64 {
	if id == raftpd.NoIndex || id >= ls.lastCount() {
		return raftpd.InvalidTerm
	}
	if id >= ls.count {
		return ls.staged[id-ls.count].Term
	}
	if entry := ls.data.Get(id); entry != nil {
		return entry.Term
	}
	return raftpd.InvalidTerm
}

func (ls *logStore) lastTerm() uint64 {
	return ls.term(ls.lastIndex())
}

func (ls *logStore) get(id uint64) *raftpd.LogEntry {
	if id >= ls.lastCount() {
		return nil
	}
	if id >= ls.count {
		entry := ls.staged[id-ls.count]
		return &entry
	}
	return ls.data.Get(id)
}

// entriesFrom returns a copy of the log suffix starting at id from.
func (ls *logStore) entriesFrom(from uint64) []raftpd.LogEntry {
	last := ls.lastCount()
	if from >= last {
		return nil
	}
	entries := make([]raftpd.LogEntry, 0, last-from)
	for id := from; id < last; id++ {
		entries = append(entries, *ls.get(id))
	}
	return entries
}

// isUpToDate reports whether a candidate log described by
// (lastIdx, lastTerm) is at least as up-to-date as ours: higher last
// term wins, on tie the longer log wins.
func (ls *logStore) isUpToDate(lastIdx, lastTerm uint64) bool {
	ourTerm := ls.lastTerm()
	if lastTerm != ourTerm {
		return lastTerm > ourTerm
	}
	return entryCount(lastIdx) >= ls.lastCount()
}

// tryAppend validates continuity against (prevIdx, prevTerm) and
// registers entries with the DataStore, truncating a divergent tail
// first. Re-delivery of entries already present is a no-op.
func (ls *logStore) tryAppend(prevIdx, prevTerm uint64, entries []raftpd.LogEntry) bool {
	prevCount := entryCount(prevIdx)
	if prevCount > ls.count {
		/* gap: entries before prevIdx are missing here */
		return false
	}
	if prevCount > 0 && ls.term(prevIdx) != prevTerm {
		return false
	}

	for i := range entries {
		entry := entries[i]
		if entry.ID < ls.count {
			if ls.term(entry.ID) == entry.Term {
				continue
			}
			ls.rollbackTo(entry.ID)
		}
		if entry.ID != ls.count {
			log.Errorf("%d append out of order [id: %d, count: %d]",
				ls.id, entry.ID, ls.count)
			return false
		}
		if !ls.data.CommitRequested(&entry) {
			log.Errorf("%d data store rejected commit [id: %d, count: %d]",
				ls.id, entry.ID, ls.count)
			return false
		}
		ls.count++
	}
	return true
}

func (ls *logStore) rollbackTo(id uint64) {
	utils.Assert(id >= ls.commitIndex,
		"%d rollback below commit index [id: %d, commit: %d]",
		ls.id, id, ls.commitIndex)

	log.Infof("%d rollback log [count: %d => %d]", ls.id, ls.count, id)
	ls.data.RollbackRequested(id)
	ls.count = id
}

func (ls *logStore) commitTo(c uint64) {
	ls.commitIndex = utils.MaxUint64(ls.commitIndex,
		utils.MinUint64(c, ls.count))
}

// stage queues a leader proposal; the entry reaches the DataStore
// only through commitStaged.
func (ls *logStore) stage(term uint64, payload []byte) raftpd.LogEntry {
	entry := raftpd.LogEntry{ID: ls.lastCount(), Term: term, Payload: payload}
	ls.staged = append(ls.staged, entry)
	return entry
}

// commitStaged moves staged entries with id < c into the DataStore and
// advances the commit index. Entries the store refuses are returned in
// rejected and dropped from the log.
func (ls *logStore) commitStaged(c uint64) (committed, rejected []raftpd.LogEntry) {
	for len(ls.staged) > 0 && ls.staged[0].ID < c {
		entry := ls.staged[0]
		ls.staged = ls.staged[1:]

		if entry.ID != ls.count || !ls.data.CommitRequested(&entry) {
			log.Errorf("%d invalid commit order [id: %d, count: %d]",
				ls.id, entry.ID, ls.count)
			rejected = append(rejected, entry)
			continue
		}
		ls.count++
		committed = append(committed, entry)
	}
	ls.commitTo(c)
	return committed, rejected
}

// dropStaged discards the staged tail, returning it so pending
// completions can be resolved.
func (ls *logStore) dropStaged() []raftpd.LogEntry {
	staged := ls.staged
	ls.staged = nil
	return staged
}
