package raft

import (
	"math/rand"

	log "github.com/sirupsen/logrus"

	"github.com/huchijwk/foros/raft/proto"
	"github.com/huchijwk/foros/utils"
)

// Config carries the construction parameters of the state machine.
// Durations are in milliseconds, matching the tick granularity.
type Config struct {
	ClusterName string
	ID          uint32
	Nodes       []uint32

	ElectionTimeoutMin int
	ElectionTimeoutMax int
	HeartbeatInterval  int
}

// Sender delivers outbound requests to remote peers. Calls must not
// block; responses are posted back through the machine's On*Reply
// methods, carrying the original request so stale replies can be told
// apart.
type Sender interface {
	AppendEntries(to uint32, req *raftpd.AppendEntriesRequest)
	RequestVote(to uint32, req *raftpd.RequestVoteRequest)
}

// RoleObserver is notified on every role transition. The lifecycle
// state machine is the sole subscriber.
type RoleObserver interface {
	RoleChanged(role Role)
}

// CommitResult is the outcome of a proposed commit.
type CommitResult int

const (
	CommitOK CommitResult = iota
	CommitNotLeader
	CommitQuorumLost
	CommitOrderRejected
)

// CommitCallback resolves a pending commit_data exactly once.
type CommitCallback func(result CommitResult, entry raftpd.LogEntry)

// Context is the shared mutable state of the raft state machine. It is
// owned by the Machine and mutated only during event dispatch on the
// node's event loop.
type Context struct {
	clusterName string
	id          uint32
	clusterSize int

	term     uint64
	votedFor uint32
	leaderID uint32

	peers []*Progress
	store *logStore

	// tick bookkeeping, milliseconds
	timeElapsed               int
	heartbeatElapsed          int
	randomizedElectionTimeout int
	electionTimeoutMin        int
	electionTimeoutMax        int
	heartbeatInterval         int

	// pending maps a staged entry id to its completion.
	pending map[uint64]CommitCallback

	sender Sender
}

func makeContext(config *Config, data DataStore, sender Sender) *Context {
	ctx := &Context{
		clusterName:        config.ClusterName,
		id:                 config.ID,
		clusterSize:        len(config.Nodes),
		votedFor:           raftpd.InvalidID,
		leaderID:           raftpd.InvalidID,
		store:              makeLogStore(config.ID, data),
		electionTimeoutMin: config.ElectionTimeoutMin,
		electionTimeoutMax: config.ElectionTimeoutMax,
		heartbeatInterval:  config.HeartbeatInterval,
		pending:            make(map[uint64]CommitCallback),
		sender:             sender,
	}

	for _, id := range config.Nodes {
		if id != ctx.id {
			ctx.peers = append(ctx.peers, MakeProgress(ctx.id, id))
		}
	}

	ctx.resetRandomizedElectionTimeout()

	log.Debugf("%d build raft context [term: %d, count: %d, commit: %d]",
		ctx.id, ctx.term, ctx.store.lastCount(), ctx.store.commitIndex)

	return ctx
}

func quorum(size int) int {
	return size/2 + 1
}

func (ctx *Context) quorum() int {
	return quorum(ctx.clusterSize)
}

func (ctx *Context) getPeer(id uint32) *Progress {
	for i := 0; i < len(ctx.peers); i++ {
		if ctx.peers[i].ID == id {
			return ctx.peers[i]
		}
	}
	return nil
}

func (ctx *Context) resetRandomizedElectionTimeout() {
	previous := ctx.randomizedElectionTimeout
	span := ctx.electionTimeoutMax - ctx.electionTimeoutMin
	ctx.randomizedElectionTimeout = ctx.electionTimeoutMin
	if span > 0 {
		ctx.randomizedElectionTimeout += rand.Intn(span + 1)
	}

	log.Debugf("%d reset randomized election timeout [%d => %d]",
		ctx.id, previous, ctx.randomizedElectionTimeout)
}

func (ctx *Context) resetLease() {
	ctx.timeElapsed = 0
	ctx.resetRandomizedElectionTimeout()
}

// reset advances to term, forgetting the vote when the term actually
// changes; voted_for is sticky within a term.
func (ctx *Context) reset(term uint64) {
	if ctx.term != term {
		utils.Assert(term > ctx.term, "%d term must not regress [%d => %d]",
			ctx.id, ctx.term, term)
		ctx.term = term
		ctx.votedFor = raftpd.InvalidID
	}
	ctx.leaderID = raftpd.InvalidID
	ctx.resetLease()
}

func (ctx *Context) resetVotes() {
	for i := 0; i < len(ctx.peers); i++ {
		ctx.peers[i].ResetVoteState()
	}
}

// countVotes tallies ballots in the given state, self included when
// counting grants (a candidate always votes for itself).
func (ctx *Context) countVotes(state VoteState) int {
	count := 0
	if state == VoteGranted {
		count++
	}
	for i := 0; i < len(ctx.peers); i++ {
		if ctx.peers[i].Vote == state {
			count++
		}
	}
	return count
}

func (ctx *Context) broadcastRequestVote() {
	req := &raftpd.RequestVoteRequest{
		Term:         ctx.term,
		CandidateID:  ctx.id,
		LastLogIndex: ctx.store.lastIndex(),
		LastLogTerm:  ctx.store.lastTerm(),
	}
	for i := 0; i < len(ctx.peers); i++ {
		log.Debugf("%d [Term: %d] send vote request to %d [lastIdx: %d, lastTerm: %d]",
			ctx.id, ctx.term, ctx.peers[i].ID, req.LastLogIndex, req.LastLogTerm)
		ctx.sender.RequestVote(ctx.peers[i].ID, req)
	}
}

// sendAppendTo sends the peer either the log suffix it is missing or a
// bare heartbeat. Heartbeats clamp the advertised commit to what the
// peer is known to hold, preserving the log matching property.
func (ctx *Context) sendAppendTo(p *Progress) {
	req := &raftpd.AppendEntriesRequest{
		Term:         ctx.term,
		LeaderID:     ctx.id,
		LeaderCommit: ctx.store.commitIndex,
	}

	if p.Next == 0 {
		req.PrevLogIndex = raftpd.NoIndex
		req.PrevLogTerm = raftpd.InvalidTerm
	} else {
		req.PrevLogIndex = p.Next - 1
		req.PrevLogTerm = ctx.store.term(req.PrevLogIndex)
	}

	if p.Next < ctx.store.lastCount() {
		req.Entries = ctx.store.entriesFrom(p.Next)
		log.Debugf("%d [Term: %d] send append to %d [prevIdx: %d, prevTerm: %d, entries: %d]",
			ctx.id, ctx.term, p.ID, req.PrevLogIndex, req.PrevLogTerm, len(req.Entries))
	} else {
		req.LeaderCommit = utils.MinUint64(p.Matched, ctx.store.commitIndex)
	}

	ctx.sender.AppendEntries(p.ID, req)
}

func (ctx *Context) broadcastAppend() {
	for i := 0; i < len(ctx.peers); i++ {
		ctx.sendAppendTo(ctx.peers[i])
	}
}

// poll commits everything the quorum agrees on up to log length c.
// Only entries of the current term count toward quorum (§5.4 of the
// raft paper); older entries commit transitively with them.
func (ctx *Context) poll(c uint64) {
	if c <= ctx.store.commitIndex || ctx.store.term(c-1) != ctx.term {
		/* already committed, or old term's entry */
		return
	}

	count := 1
	for i := 0; i < len(ctx.peers); i++ {
		if ctx.peers[i].Matched >= c {
			count++
		}
	}
	if count < ctx.quorum() {
		return
	}

	committed, rejected := ctx.store.commitStaged(c)
	for i := range committed {
		ctx.resolvePending(committed[i], CommitOK)
	}
	for i := range rejected {
		ctx.resolvePending(rejected[i], CommitOrderRejected)
	}

	log.Debugf("%d [Term: %d] commit advanced to %d",
		ctx.id, ctx.term, ctx.store.commitIndex)
}

func (ctx *Context) resolvePending(entry raftpd.LogEntry, result CommitResult) {
	cb, ok := ctx.pending[entry.ID]
	if !ok {
		return
	}
	delete(ctx.pending, entry.ID)
	cb(result, entry)
}

// abortPending cancels every in-flight proposal, staged tail included.
// Used on step-down and on termination.
func (ctx *Context) abortPending() {
	dropped := ctx.store.dropStaged()
	for i := range dropped {
		ctx.resolvePending(dropped[i], CommitQuorumLost)
	}
	for id, cb := range ctx.pending {
		delete(ctx.pending, id)
		cb(CommitQuorumLost, raftpd.LogEntry{ID: id})
	}
}
