package raft

import (
	log "github.com/sirupsen/logrus"

	"github.com/huchijwk/foros/raft/proto"
	"github.com/huchijwk/foros/utils"
)

// leaderState serializes updates: it owns the heartbeat, replicates
// staged entries, and advances the commit index on quorum.
type leaderState struct {
	baseState
}

func (s *leaderState) role() Role { return RoleLeader }

func (s *leaderState) entry() {
	ctx := s.m.ctx

	utils.Assert(ctx.votedFor == ctx.id, "%d leader must have voted itself", ctx.id)

	ctx.leaderID = ctx.id
	ctx.heartbeatElapsed = 0

	// nothing is known replicated until peers acknowledge
	next := ctx.store.lastCount()
	for i := 0; i < len(ctx.peers); i++ {
		ctx.peers[i].Restart(next)
	}

	log.Infof("%d [Term: %d] become leader [count: %d, commit: %d]",
		ctx.id, ctx.term, ctx.store.lastCount(), ctx.store.commitIndex)

	ctx.broadcastAppend()
}

func (s *leaderState) exit() {
	ctx := s.m.ctx
	ctx.abortPending()
	ctx.heartbeatElapsed = 0
	ctx.resetLease()
}

func (s *leaderState) onAppendEntries(req *raftpd.AppendEntriesRequest) *raftpd.AppendEntriesResponse {
	ctx := s.m.ctx
	if req.Term == ctx.term {
		// two leaders in one term violates election safety
		log.Errorf("%d [Term: %d] append from rival leader %d in same term",
			ctx.id, ctx.term, req.LeaderID)
		return &raftpd.AppendEntriesResponse{Term: ctx.term, Success: false}
	}
	return s.m.handleAppendEntries(req)
}
