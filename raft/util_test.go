package raft

import (
	"testing"

	"github.com/huchijwk/foros/raft/proto"
)

type outboundAppend struct {
	to  uint32
	req *raftpd.AppendEntriesRequest
}

type outboundVote struct {
	to  uint32
	req *raftpd.RequestVoteRequest
}

// recordingSender captures outbound requests for inspection.
type recordingSender struct {
	appends []outboundAppend
	votes   []outboundVote
}

func (s *recordingSender) AppendEntries(to uint32, req *raftpd.AppendEntriesRequest) {
	s.appends = append(s.appends, outboundAppend{to: to, req: req})
}

func (s *recordingSender) RequestVote(to uint32, req *raftpd.RequestVoteRequest) {
	s.votes = append(s.votes, outboundVote{to: to, req: req})
}

func (s *recordingSender) clear() {
	s.appends = nil
	s.votes = nil
}

// testStore is a plain in-memory DataStore.
type testStore struct {
	entries   []raftpd.LogEntry
	rollbacks int
}

func (s *testStore) Get(id uint64) *raftpd.LogEntry {
	if id >= uint64(len(s.entries)) {
		return nil
	}
	entry := s.entries[id]
	return &entry
}

func (s *testStore) Latest() *raftpd.LogEntry {
	if len(s.entries) == 0 {
		return nil
	}
	entry := s.entries[len(s.entries)-1]
	return &entry
}

func (s *testStore) CommitRequested(entry *raftpd.LogEntry) bool {
	if entry.ID != uint64(len(s.entries)) {
		return false
	}
	s.entries = append(s.entries, *entry)
	return true
}

func (s *testStore) RollbackRequested(id uint64) {
	s.rollbacks++
	if id < uint64(len(s.entries)) {
		s.entries = s.entries[:id]
	}
}

func makeTestMachine(id uint32, nodes []uint32) (*Machine, *recordingSender, *testStore) {
	sender := &recordingSender{}
	store := &testStore{}
	config := &Config{
		ClusterName:        "test_cluster",
		ID:                 id,
		Nodes:              nodes,
		ElectionTimeoutMin: 150,
		ElectionTimeoutMax: 300,
		HeartbeatInterval:  50,
	}
	return MakeMachine(config, store, sender, nil), sender, store
}

// becomeCandidate starts the machine and ticks past the largest
// possible election timeout.
func becomeCandidate(t *testing.T, m *Machine) {
	t.Helper()
	m.Start()
	m.Tick(300)
	if got := m.Role(); got != RoleCandidate {
		t.Fatalf("expected candidate, got %v", got)
	}
}

// becomeLeader grants the machine every vote it asked for.
func becomeLeader(t *testing.T, m *Machine, sender *recordingSender) {
	t.Helper()
	becomeCandidate(t, m)
	votes := sender.votes
	for _, v := range votes {
		m.OnRequestVoteReply(v.to, v.req,
			&raftpd.RequestVoteResponse{Term: v.req.Term, VoteGranted: true})
	}
	if got := m.Role(); got != RoleLeader {
		t.Fatalf("expected leader, got %v", got)
	}
}

// appendFromLeader delivers a leader's entries to the machine.
func appendFromLeader(m *Machine, leader uint32, term uint64,
	prevIdx, prevTerm uint64, entries []raftpd.LogEntry, commit uint64) *raftpd.AppendEntriesResponse {
	return m.OnAppendEntries(&raftpd.AppendEntriesRequest{
		Term:         term,
		LeaderID:     leader,
		PrevLogIndex: prevIdx,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: commit,
	})
}
