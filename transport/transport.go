package transport

import (
	"fmt"

	"github.com/huchijwk/foros/raft/proto"
)

// Service names of the three endpoints every node exposes.
const (
	AppendEntriesService = "append_entries"
	RequestVoteService   = "request_vote"
	CommitDataService    = "commit_data"
)

// ServiceName builds the canonical endpoint name
// {namespace}/{node_id}/{service_name}.
func ServiceName(namespace string, nodeID uint32, service string) string {
	return fmt.Sprintf("%s/%d/%s", namespace, nodeID, service)
}

// Handler answers the requests a node serves. Implementations bridge
// onto the node's event loop and may block until it responds.
type Handler interface {
	OnAppendEntries(req *raftpd.AppendEntriesRequest) *raftpd.AppendEntriesResponse
	OnRequestVote(req *raftpd.RequestVoteRequest) *raftpd.RequestVoteResponse
	OnCommitData(req *raftpd.CommitDataRequest) *raftpd.CommitDataResponse
}

// Transport is the abstract message bus connecting cluster members.
// Outbound calls block the calling goroutine, never the node loop;
// wire level failures are returned as errors and surface to consensus
// only as missing responses.
type Transport interface {
	// Serve registers the node's handler and starts answering peers.
	Serve(h Handler) error

	AppendEntries(to uint32, req *raftpd.AppendEntriesRequest) (*raftpd.AppendEntriesResponse, error)
	RequestVote(to uint32, req *raftpd.RequestVoteRequest) (*raftpd.RequestVoteResponse, error)
	CommitData(to uint32, req *raftpd.CommitDataRequest) (*raftpd.CommitDataResponse, error)

	Close() error
}
