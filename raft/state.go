package raft

import (
	"github.com/huchijwk/foros/raft/proto"
)

// state is the per-role handler set. The machine routes admissible
// events and incoming requests to the current state; entry and exit
// hooks run on actual role changes only.
type state interface {
	role() Role
	entry()
	exit()

	onStarted()
	onTimedout()
	onLeaderDiscovered()
	onVoteReceived()
	onElected()
	onTerminated()

	onAppendEntries(req *raftpd.AppendEntriesRequest) *raftpd.AppendEntriesResponse
	onRequestVote(req *raftpd.RequestVoteRequest) *raftpd.RequestVoteResponse
}

// baseState supplies no-op hooks and the shared request paths; each
// role embeds it and overrides what it cares about.
type baseState struct {
	m *Machine
}

func (s *baseState) entry() {}
func (s *baseState) exit()  {}

func (s *baseState) onStarted()          {}
func (s *baseState) onTimedout()         {}
func (s *baseState) onLeaderDiscovered() {}
func (s *baseState) onVoteReceived()     {}
func (s *baseState) onElected()          {}
func (s *baseState) onTerminated()       {}

func (s *baseState) onAppendEntries(req *raftpd.AppendEntriesRequest) *raftpd.AppendEntriesResponse {
	return s.m.handleAppendEntries(req)
}

func (s *baseState) onRequestVote(req *raftpd.RequestVoteRequest) *raftpd.RequestVoteResponse {
	return s.m.handleRequestVote(req)
}

// standbyState is the terminal initial state: no timers, and every
// request is refused until the cluster is started.
type standbyState struct {
	baseState
}

func (s *standbyState) role() Role { return RoleStandby }

func (s *standbyState) entry() {
	ctx := s.m.ctx
	ctx.abortPending()
	ctx.leaderID = raftpd.InvalidID
	ctx.timeElapsed = 0
	ctx.heartbeatElapsed = 0
}

func (s *standbyState) onAppendEntries(req *raftpd.AppendEntriesRequest) *raftpd.AppendEntriesResponse {
	return &raftpd.AppendEntriesResponse{Term: s.m.ctx.term, Success: false}
}

func (s *standbyState) onRequestVote(req *raftpd.RequestVoteRequest) *raftpd.RequestVoteResponse {
	return &raftpd.RequestVoteResponse{Term: s.m.ctx.term, VoteGranted: false}
}
