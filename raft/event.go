package raft

// Event drives the role state machine. Events not admissible in the
// current role are dropped and the role is retained.
type Event int

const (
	EventStarted Event = iota
	EventTimedout
	EventLeaderDiscovered
	EventVoteReceived
	EventElected
	EventTerminated
)

var eventString = []string{
	"Started",
	"Timedout",
	"LeaderDiscovered",
	"VoteReceived",
	"Elected",
	"Terminated",
}

func (ev Event) String() string {
	return eventString[ev]
}
