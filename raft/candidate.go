package raft

import (
	log "github.com/sirupsen/logrus"
)

// candidateState campaigns for leadership: a new term, a vote for
// itself, and a vote request broadcast to every peer.
type candidateState struct {
	baseState
}

func (s *candidateState) role() Role { return RoleCandidate }

func (s *candidateState) entry() {
	s.startElection()
}

func (s *candidateState) exit() {
	s.m.ctx.resetVotes()
}

// onTimedout restarts the campaign in a fresh term; the self-loop in
// the transition table does not re-run entry.
func (s *candidateState) onTimedout() {
	s.startElection()
}

// onVoteReceived tallies the ballot box and claims leadership on a
// strict majority.
func (s *candidateState) onVoteReceived() {
	ctx := s.m.ctx
	if ctx.countVotes(VoteGranted) >= ctx.quorum() {
		s.m.emit(EventElected)
	}
}

func (s *candidateState) startElection() {
	ctx := s.m.ctx

	ctx.reset(ctx.term + 1)
	ctx.votedFor = ctx.id
	ctx.resetVotes()

	log.Infof("%d [Term: %d] start election", ctx.id, ctx.term)

	ctx.broadcastRequestVote()

	if ctx.quorum() == 1 {
		/* single node cluster wins unopposed */
		s.m.emit(EventElected)
	}
}
