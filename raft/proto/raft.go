package raftpd

import (
	"encoding/gob"
	"fmt"
)

// NoIndex marks the absence of a log position: the PrevLogIndex of a
// batch starting at id 0, or the LastLogIndex of an empty log.
const NoIndex uint64 = ^uint64(0)

// InvalidTerm is the term value no entry ever carries.
const InvalidTerm uint64 = 0

// InvalidID marks the absence of a node, e.g. voted-for nobody.
const InvalidID uint32 = 0

// LogEntry is an immutable (id, term, payload) record. Id is the
// zero-based position in the replicated log.
type LogEntry struct {
	ID      uint64
	Term    uint64
	Payload []byte
}

func (e *LogEntry) Reset() { *e = LogEntry{} }

func (e LogEntry) String() string {
	return fmt.Sprintf("raftpd.LogEntry{id: %d, term: %d, payload: %d bytes}",
		e.ID, e.Term, len(e.Payload))
}

type AppendEntriesRequest struct {
	Term         uint64
	LeaderID     uint32
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []LogEntry
	LeaderCommit uint64
}

func (r *AppendEntriesRequest) Reset() { *r = AppendEntriesRequest{} }

func (r AppendEntriesRequest) String() string {
	return fmt.Sprintf("raftpd.AppendEntriesRequest{term: %d, leader: %d, "+
		"prevIdx: %d, prevTerm: %d, entries: %d, commit: %d}",
		r.Term, r.LeaderID, r.PrevLogIndex, r.PrevLogTerm, len(r.Entries), r.LeaderCommit)
}

type AppendEntriesResponse struct {
	Term    uint64
	Success bool
}

func (r *AppendEntriesResponse) Reset() { *r = AppendEntriesResponse{} }

func (r AppendEntriesResponse) String() string {
	return fmt.Sprintf("raftpd.AppendEntriesResponse{term: %d, success: %v}",
		r.Term, r.Success)
}

type RequestVoteRequest struct {
	Term         uint64
	CandidateID  uint32
	LastLogIndex uint64
	LastLogTerm  uint64
}

func (r *RequestVoteRequest) Reset() { *r = RequestVoteRequest{} }

func (r RequestVoteRequest) String() string {
	return fmt.Sprintf("raftpd.RequestVoteRequest{term: %d, candidate: %d, "+
		"lastIdx: %d, lastTerm: %d}",
		r.Term, r.CandidateID, r.LastLogIndex, r.LastLogTerm)
}

type RequestVoteResponse struct {
	Term        uint64
	VoteGranted bool
}

func (r *RequestVoteResponse) Reset() { *r = RequestVoteResponse{} }

func (r RequestVoteResponse) String() string {
	return fmt.Sprintf("raftpd.RequestVoteResponse{term: %d, granted: %v}",
		r.Term, r.VoteGranted)
}

// CommitDataRequest is the client facing record: ID is the id the
// client expects the entry to be registered at.
type CommitDataRequest struct {
	ID      uint64
	Payload []byte
}

func (r *CommitDataRequest) Reset() { *r = CommitDataRequest{} }

func (r CommitDataRequest) String() string {
	return fmt.Sprintf("raftpd.CommitDataRequest{id: %d, payload: %d bytes}",
		r.ID, len(r.Payload))
}

type CommitDataResponse struct {
	Result bool
	Entry  LogEntry
}

func (r *CommitDataResponse) Reset() { *r = CommitDataResponse{} }

func (r CommitDataResponse) String() string {
	return fmt.Sprintf("raftpd.CommitDataResponse{result: %v, entry: %v}",
		r.Result, r.Entry)
}

func init() {
	gob.Register(LogEntry{})
	gob.Register(AppendEntriesRequest{})
	gob.Register(AppendEntriesResponse{})
	gob.Register(RequestVoteRequest{})
	gob.Register(RequestVoteResponse{})
	gob.Register(CommitDataRequest{})
	gob.Register(CommitDataResponse{})
}
