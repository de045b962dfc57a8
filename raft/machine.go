package raft

import (
	log "github.com/sirupsen/logrus"

	"github.com/huchijwk/foros/raft/proto"
	"github.com/huchijwk/foros/utils"
)

// transitions is the admissibility table of the role state machine.
// An event absent from the current role's row is dropped.
var transitions = map[Role]map[Event]Role{
	RoleStandby: {
		EventStarted: RoleFollower,
	},
	RoleFollower: {
		EventTimedout:         RoleCandidate,
		EventLeaderDiscovered: RoleFollower,
		EventTerminated:       RoleStandby,
	},
	RoleCandidate: {
		EventTimedout:         RoleCandidate,
		EventLeaderDiscovered: RoleFollower,
		EventVoteReceived:     RoleCandidate,
		EventElected:          RoleLeader,
		EventTerminated:       RoleStandby,
	},
	RoleLeader: {
		EventLeaderDiscovered: RoleFollower,
		EventTerminated:       RoleStandby,
	},
}

// Status is a snapshot of the machine for callers outside the core.
type Status struct {
	ID          uint32
	Term        uint64
	Role        Role
	LeaderID    uint32
	Count       uint64
	CommitIndex uint64
}

// Machine is the four-role consensus state machine. It is not safe for
// concurrent use: every method must be called from the node's event
// loop, and all I/O happens through the Sender callback.
type Machine struct {
	ctx      *Context
	states   map[Role]state
	current  state
	observer RoleObserver

	queue       []Event
	dispatching bool
}

// MakeMachine build the state machine in Standby. The observer is
// notified on every role transition.
func MakeMachine(config *Config, data DataStore, sender Sender, observer RoleObserver) *Machine {
	utils.AssertNotNil(data, "data store required")
	utils.AssertNotNil(sender, "sender required")
	utils.Assert(len(config.Nodes) > 0, "empty cluster")

	m := &Machine{
		ctx:      makeContext(config, data, sender),
		observer: observer,
	}
	m.states = map[Role]state{
		RoleStandby:   &standbyState{baseState{m}},
		RoleFollower:  &followerState{baseState{m}},
		RoleCandidate: &candidateState{baseState{m}},
		RoleLeader:    &leaderState{baseState{m}},
	}
	m.current = m.states[RoleStandby]
	return m
}

// Role return the current consensus role.
func (m *Machine) Role() Role {
	return m.current.role()
}

// ReadStatus return a snapshot of the machine.
func (m *Machine) ReadStatus() Status {
	return Status{
		ID:          m.ctx.id,
		Term:        m.ctx.term,
		Role:        m.current.role(),
		LeaderID:    m.ctx.leaderID,
		Count:       m.ctx.store.lastCount(),
		CommitIndex: m.ctx.store.commitIndex,
	}
}

// Start bring the machine out of Standby.
func (m *Machine) Start() {
	m.emit(EventStarted)
}

// Terminate return the machine to Standby, cancelling in-flight
// proposals.
func (m *Machine) Terminate() {
	m.emit(EventTerminated)
}

// Tick advances timers by deltaMillis. Followers and candidates count
// toward the randomized election timeout; the leader counts toward the
// next heartbeat broadcast.
func (m *Machine) Tick(deltaMillis int) {
	ctx := m.ctx
	switch m.current.role() {
	case RoleLeader:
		ctx.heartbeatElapsed += deltaMillis
		if ctx.heartbeatElapsed >= ctx.heartbeatInterval {
			ctx.heartbeatElapsed = 0
			ctx.broadcastAppend()
		}
	case RoleFollower, RoleCandidate:
		ctx.timeElapsed += deltaMillis
		if ctx.timeElapsed >= ctx.randomizedElectionTimeout {
			ctx.timeElapsed = 0
			log.Infof("%d [Term: %d] election timed out", ctx.id, ctx.term)
			m.emit(EventTimedout)
		}
	}
}

// Propose stages a new entry for replication. id is the position the
// caller expects the entry to take; a mismatch resolves the callback
// immediately with CommitOrderRejected.
func (m *Machine) Propose(id uint64, payload []byte, cb CommitCallback) {
	ctx := m.ctx
	if !m.current.role().IsLeader() {
		cb(CommitNotLeader, raftpd.LogEntry{})
		return
	}
	if id != ctx.store.lastCount() {
		log.Warnf("%d [Term: %d] reject commit with stale id %d [count: %d]",
			ctx.id, ctx.term, id, ctx.store.lastCount())
		cb(CommitOrderRejected, raftpd.LogEntry{ID: id, Term: ctx.term, Payload: payload})
		return
	}

	entry := ctx.store.stage(ctx.term, payload)
	ctx.pending[entry.ID] = cb

	log.Infof("%d [Term: %d] stage entry %d for replication", ctx.id, ctx.term, entry.ID)

	ctx.broadcastAppend()
	ctx.poll(ctx.store.lastCount())
}

// OnAppendEntries handles the append_entries endpoint.
func (m *Machine) OnAppendEntries(req *raftpd.AppendEntriesRequest) *raftpd.AppendEntriesResponse {
	log.Debugf("%d received %v", m.ctx.id, req)
	return m.current.onAppendEntries(req)
}

// OnRequestVote handles the request_vote endpoint.
func (m *Machine) OnRequestVote(req *raftpd.RequestVoteRequest) *raftpd.RequestVoteResponse {
	log.Debugf("%d received %v", m.ctx.id, req)
	return m.current.onRequestVote(req)
}

// OnAppendEntriesReply digests a peer's append response. Replies from
// an earlier term's broadcast are discarded.
func (m *Machine) OnAppendEntriesReply(from uint32,
	req *raftpd.AppendEntriesRequest, resp *raftpd.AppendEntriesResponse) {
	ctx := m.ctx
	if m.observeTerm(resp.Term) {
		m.maybeStepDown()
		return
	}
	if !m.current.role().IsLeader() || req.Term != ctx.term {
		return
	}
	p := ctx.getPeer(from)
	if p == nil {
		return
	}

	if resp.Success {
		batchEnd := entryCount(req.PrevLogIndex) + uint64(len(req.Entries))
		if p.HandleAppendEntries(true, batchEnd) {
			ctx.poll(p.Matched)
		}
		if p.Next < ctx.store.lastCount() {
			ctx.sendAppendTo(p)
		}
	} else {
		p.HandleAppendEntries(false, 0)
		ctx.sendAppendTo(p)
	}
}

// OnRequestVoteReply tallies a peer's ballot. Replies that do not
// belong to the current candidacy are discarded as stale.
func (m *Machine) OnRequestVoteReply(from uint32,
	req *raftpd.RequestVoteRequest, resp *raftpd.RequestVoteResponse) {
	ctx := m.ctx
	if m.observeTerm(resp.Term) {
		m.maybeStepDown()
		return
	}
	if !m.current.role().IsCandidate() || req.Term != ctx.term {
		return
	}
	p := ctx.getPeer(from)
	if p == nil {
		return
	}

	p.UpdateVoteState(resp.VoteGranted)
	if resp.VoteGranted {
		log.Infof("%d [Term: %d] received vote from %d", ctx.id, ctx.term, from)
		m.emit(EventVoteReceived)
	} else if ctx.countVotes(VoteReject) >= ctx.quorum() {
		// majority refused this candidacy
		log.Infof("%d [Term: %d] candidacy refused by majority", ctx.id, ctx.term)
		m.emit(EventLeaderDiscovered)
	}
}

// observeTerm adopts a higher remote term, forgetting the vote.
// Returns true when the term advanced.
func (m *Machine) observeTerm(term uint64) bool {
	ctx := m.ctx
	if term <= ctx.term {
		return false
	}
	log.Infof("%d [Term: %d] observed higher term %d", ctx.id, ctx.term, term)
	ctx.term = term
	ctx.votedFor = raftpd.InvalidID
	return true
}

// maybeStepDown sends a candidate or leader back to follower after a
// higher term was observed.
func (m *Machine) maybeStepDown() {
	if role := m.current.role(); role.IsCandidate() || role.IsLeader() {
		m.emit(EventLeaderDiscovered)
	}
}

// handleAppendEntries is the shared append path for every role that
// accepts a leader: validate the term, acknowledge the leader, then
// validate log continuity and register new entries.
func (m *Machine) handleAppendEntries(req *raftpd.AppendEntriesRequest) *raftpd.AppendEntriesResponse {
	ctx := m.ctx
	if req.Term < ctx.term {
		log.Debugf("%d [Term: %d] reject stale append from %d [term: %d]",
			ctx.id, ctx.term, req.LeaderID, req.Term)
		return &raftpd.AppendEntriesResponse{Term: ctx.term, Success: false}
	}

	m.observeTerm(req.Term)
	ctx.leaderID = req.LeaderID
	m.emit(EventLeaderDiscovered)

	success := ctx.store.tryAppend(req.PrevLogIndex, req.PrevLogTerm, req.Entries)
	if success {
		ctx.store.commitTo(req.LeaderCommit)
	}
	return &raftpd.AppendEntriesResponse{Term: ctx.term, Success: success}
}

// handleRequestVote is the shared vote path: reject stale terms, adopt
// higher ones, and grant at most one vote per term to a candidate
// whose log is at least as up-to-date as ours.
func (m *Machine) handleRequestVote(req *raftpd.RequestVoteRequest) *raftpd.RequestVoteResponse {
	ctx := m.ctx
	if req.Term < ctx.term {
		return &raftpd.RequestVoteResponse{Term: ctx.term, VoteGranted: false}
	}
	if m.observeTerm(req.Term) {
		m.maybeStepDown()
	}

	granted := false
	if (ctx.votedFor == raftpd.InvalidID || ctx.votedFor == req.CandidateID) &&
		ctx.store.isUpToDate(req.LastLogIndex, req.LastLogTerm) {
		granted = true
		ctx.votedFor = req.CandidateID
		ctx.timeElapsed = 0
	}

	log.Debugf("%d [Term: %d] vote request from %d granted: %v",
		ctx.id, ctx.term, req.CandidateID, granted)
	return &raftpd.RequestVoteResponse{Term: ctx.term, VoteGranted: granted}
}

// emit queues an event and, unless a dispatch is already running,
// drains the queue in FIFO order. Events emitted by handlers are
// processed after the one being handled, never reentrantly.
func (m *Machine) emit(ev Event) {
	m.queue = append(m.queue, ev)
	if m.dispatching {
		return
	}
	m.dispatching = true
	for len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.dispatch(next)
	}
	m.dispatching = false
}

// dispatch consults the transition table, runs the current state's
// handler for an admissible event, then applies the transition.
// Entry/exit hooks fire only when the role actually changes.
func (m *Machine) dispatch(ev Event) {
	from := m.current.role()
	to, ok := transitions[from][ev]
	if !ok {
		log.Debugf("%d [%v] drop inadmissible event %v", m.ctx.id, from, ev)
		return
	}

	switch ev {
	case EventStarted:
		m.current.onStarted()
	case EventTimedout:
		m.current.onTimedout()
	case EventLeaderDiscovered:
		m.current.onLeaderDiscovered()
	case EventVoteReceived:
		m.current.onVoteReceived()
	case EventElected:
		m.current.onElected()
	case EventTerminated:
		m.current.onTerminated()
	}

	if to == from {
		return
	}

	m.current.exit()
	m.current = m.states[to]
	log.Infof("%d [Term: %d] %v => %v on %v", m.ctx.id, m.ctx.term, from, to, ev)
	m.current.entry()

	if m.observer != nil {
		m.observer.RoleChanged(to)
	}
}
