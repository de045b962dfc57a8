package raft

// followerState is passive: it answers leaders and candidates and
// waits out the randomized election timeout.
type followerState struct {
	baseState
}

func (s *followerState) role() Role { return RoleFollower }

func (s *followerState) entry() {
	s.m.ctx.resetLease()
}

// onLeaderDiscovered keeps the follower seated: a valid message from
// the leader resets the election timer.
func (s *followerState) onLeaderDiscovered() {
	s.m.ctx.timeElapsed = 0
}
