package raft

import (
	log "github.com/sirupsen/logrus"
)

// VoteState is the detected ballot of a remote peer during a candidacy.
type VoteState int

const (
	VoteNone VoteState = iota
	VoteGranted
	VoteReject
)

// Progress maintains what the local node knows about one remote peer:
// its ballot in the current candidacy, and how much of the log it is
// known to hold. Matched and Next count entries, so a peer holding
// entries [0, k) has Matched == k.
type Progress struct {
	belongID uint32

	// ID is the peer node id.
	ID uint32

	// Vote is the ballot tallied during a candidacy.
	Vote VoteState

	// Matched is the count of entries known replicated on the peer.
	Matched uint64

	// Next is the id of the next entry to send.
	Next uint64
}

// MakeProgress create replication state for one remote peer.
func MakeProgress(belong, id uint32) *Progress {
	return &Progress{belongID: belong, ID: id}
}

// Restart resets replication state when leadership is (re)acquired:
// nothing is known matched, and probing starts at the leader's tail.
func (p *Progress) Restart(next uint64) {
	p.Matched = 0
	p.Next = next
}

// HandleAppendEntries digests an append response for a batch that
// ended at log length batchEnd. Returns true when Matched advanced.
func (p *Progress) HandleAppendEntries(success bool, batchEnd uint64) bool {
	if success {
		if batchEnd <= p.Matched {
			/* stale response */
			return false
		}
		p.Matched = batchEnd
		if p.Next < p.Matched {
			p.Next = p.Matched
		}
		return true
	}

	// back off one entry per rejection, never below what is matched
	if p.Next > p.Matched {
		p.Next--
	}
	log.Debugf("%d peer: %d append rejected, back off [next: %d]",
		p.belongID, p.ID, p.Next)
	return false
}

// UpdateVoteState records the peer's ballot.
func (p *Progress) UpdateVoteState(granted bool) {
	if granted {
		p.Vote = VoteGranted
	} else {
		p.Vote = VoteReject
	}
}

// ResetVoteState clears the ballot for a fresh candidacy.
func (p *Progress) ResetVoteState() {
	p.Vote = VoteNone
}
