package cluster

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/huchijwk/foros/raft"
	"github.com/huchijwk/foros/raft/proto"
	"github.com/huchijwk/foros/transport"
	"github.com/huchijwk/foros/utils"
)

// Events drained by the node loop. Every interaction with the raft
// machine and the data interface is funneled through these, so
// handlers never execute concurrently.
type (
	tickEvent struct {
		deltaMillis int
	}
	appendEntriesEvent struct {
		req  *raftpd.AppendEntriesRequest
		resp chan *raftpd.AppendEntriesResponse
	}
	requestVoteEvent struct {
		req  *raftpd.RequestVoteRequest
		resp chan *raftpd.RequestVoteResponse
	}
	appendReplyEvent struct {
		from uint32
		req  *raftpd.AppendEntriesRequest
		resp *raftpd.AppendEntriesResponse
	}
	voteReplyEvent struct {
		from uint32
		req  *raftpd.RequestVoteRequest
		resp *raftpd.RequestVoteResponse
	}
	commitDataEvent struct {
		id      uint64
		payload []byte
		cb      CommitCallback
	}
	statusEvent struct {
		resp chan raft.Status
	}
	terminateEvent struct{}
)

// ClusterNode composes consensus, lifecycle and transport behind the
// public cluster API. One goroutine (the caller of Run) drives a
// serial event loop; timer fires, transport requests and RPC
// completions are posted to it as events.
type ClusterNode struct {
	clusterName string
	id          uint32
	opts        Options

	machine   *raft.Machine
	lifecycle *lifecycleMachine
	tr        transport.Transport

	events chan interface{}
	done   chan struct{}
	ticker chan struct{}

	stopOnce sync.Once
}

// New build a cluster node. The node joins the fixed membership ids;
// id must be one of them. Invalid options are fatal and return a
// *ConfigError.
func New(clusterName string, id uint32, ids []uint32,
	data DataInterface, tr transport.Transport, opts *Options) (*ClusterNode, error) {
	resolved := opts.withDefaults()
	if err := resolved.validate(id, ids); err != nil {
		return nil, err
	}

	n := &ClusterNode{
		clusterName: clusterName,
		id:          id,
		opts:        resolved,
		lifecycle:   makeLifecycle(id),
		tr:          tr,
		events:      make(chan interface{}, 1024),
		done:        make(chan struct{}),
	}

	config := &raft.Config{
		ClusterName:        clusterName,
		ID:                 id,
		Nodes:              ids,
		ElectionTimeoutMin: int(resolved.ElectionTimeoutMin / time.Millisecond),
		ElectionTimeoutMax: int(resolved.ElectionTimeoutMax / time.Millisecond),
		HeartbeatInterval:  int(resolved.HeartbeatInterval / time.Millisecond),
	}
	n.machine = raft.MakeMachine(config, data, n, n.lifecycle)

	log.Infof("%d build cluster node [cluster: %s, members: %d]",
		id, clusterName, len(ids))
	return n, nil
}

// RegisterOnActivated installs the activation callback. Registration
// must happen before Run.
func (n *ClusterNode) RegisterOnActivated(cb func()) {
	n.lifecycle.onActivated = cb
}

// RegisterOnDeactivated installs the deactivation callback.
func (n *ClusterNode) RegisterOnDeactivated(cb func()) {
	n.lifecycle.onDeactivated = cb
}

// RegisterOnStandby installs the standby callback.
func (n *ClusterNode) RegisterOnStandby(cb func()) {
	n.lifecycle.onStandby = cb
}

// CommitData proposes a new entry at position id. The callback is
// resolved exactly once: with the committed entry after quorum, or
// with the failure reason.
func (n *ClusterNode) CommitData(id uint64, payload []byte, cb CommitCallback) {
	utils.AssertNotNil(cb, "commit callback required")
	if !n.post(commitDataEvent{id: id, payload: payload, cb: cb}) {
		cb(&CommitResponse{Result: false, Err: ErrNotLeader})
	}
}

// GetState return the current term and whether this node believes it
// is the leader.
func (n *ClusterNode) GetState() (uint64, bool) {
	ev := statusEvent{resp: make(chan raft.Status, 1)}
	if !n.post(ev) {
		return 0, false
	}
	select {
	case status := <-ev.resp:
		return status.Term, status.Role.IsLeader()
	case <-n.done:
		return 0, false
	}
}

// Run serves the node's endpoints and drives the event loop. It
// blocks until Shutdown.
func (n *ClusterNode) Run() error {
	if err := n.tr.Serve(n); err != nil {
		return err
	}

	last := time.Now()
	n.ticker = utils.StartTimer(int(n.opts.TickInterval/time.Millisecond),
		func(now time.Time) {
			delta := int(now.Sub(last).Nanoseconds() / 1e6)
			last = now
			if delta <= 0 {
				delta = int(n.opts.TickInterval / time.Millisecond)
			}
			n.post(tickEvent{deltaMillis: delta})
		})

	n.machine.Start()

	for ev := range n.events {
		if n.handle(ev) {
			return nil
		}
	}
	return nil
}

// Shutdown terminates the node: consensus returns to Standby, pending
// commits resolve with failure, timers and transport stop, and Run
// returns. Valid once Run has been entered.
func (n *ClusterNode) Shutdown() {
	n.stopOnce.Do(func() {
		select {
		case n.events <- terminateEvent{}:
		case <-n.done:
		}
	})
	<-n.done
}

func (n *ClusterNode) handle(ev interface{}) (stop bool) {
	switch ev := ev.(type) {
	case tickEvent:
		n.machine.Tick(ev.deltaMillis)
	case appendEntriesEvent:
		ev.resp <- n.machine.OnAppendEntries(ev.req)
	case requestVoteEvent:
		ev.resp <- n.machine.OnRequestVote(ev.req)
	case appendReplyEvent:
		n.machine.OnAppendEntriesReply(ev.from, ev.req, ev.resp)
	case voteReplyEvent:
		n.machine.OnRequestVoteReply(ev.from, ev.req, ev.resp)
	case commitDataEvent:
		n.machine.Propose(ev.id, ev.payload, n.wrapCommit(ev.cb))
	case statusEvent:
		ev.resp <- n.machine.ReadStatus()
	case terminateEvent:
		n.machine.Terminate()
		close(n.ticker)
		if err := n.tr.Close(); err != nil {
			log.Warnf("%d transport close: %v", n.id, err)
		}
		close(n.done)
		return true
	}
	return false
}

func (n *ClusterNode) wrapCommit(cb CommitCallback) raft.CommitCallback {
	return func(result raft.CommitResult, entry raftpd.LogEntry) {
		resp := &CommitResponse{Entry: entry}
		switch result {
		case raft.CommitOK:
			resp.Result = true
		case raft.CommitNotLeader:
			resp.Err = ErrNotLeader
		case raft.CommitQuorumLost:
			resp.Err = ErrQuorumLost
		case raft.CommitOrderRejected:
			resp.Err = ErrInvalidCommitOrder
		}
		cb(resp)
	}
}

// post enqueues an event unless the node is shut down.
func (n *ClusterNode) post(ev interface{}) bool {
	select {
	case <-n.done:
		return false
	default:
	}
	select {
	case n.events <- ev:
		return true
	case <-n.done:
		return false
	}
}

// AppendEntries implements raft.Sender: issue the RPC off the loop
// and post the response back as an event. A missing response is the
// only trace of a wire failure.
func (n *ClusterNode) AppendEntries(to uint32, req *raftpd.AppendEntriesRequest) {
	go func() {
		resp, err := n.tr.AppendEntries(to, req)
		if err != nil {
			log.Debugf("%d append_entries to %d unreachable: %v", n.id, to, err)
			return
		}
		n.post(appendReplyEvent{from: to, req: req, resp: resp})
	}()
}

// RequestVote implements raft.Sender.
func (n *ClusterNode) RequestVote(to uint32, req *raftpd.RequestVoteRequest) {
	go func() {
		resp, err := n.tr.RequestVote(to, req)
		if err != nil {
			log.Debugf("%d request_vote to %d unreachable: %v", n.id, to, err)
			return
		}
		n.post(voteReplyEvent{from: to, req: req, resp: resp})
	}()
}

// OnAppendEntries implements transport.Handler.
func (n *ClusterNode) OnAppendEntries(req *raftpd.AppendEntriesRequest) *raftpd.AppendEntriesResponse {
	ev := appendEntriesEvent{req: req, resp: make(chan *raftpd.AppendEntriesResponse, 1)}
	if !n.post(ev) {
		return &raftpd.AppendEntriesResponse{Success: false}
	}
	select {
	case resp := <-ev.resp:
		return resp
	case <-n.done:
		return &raftpd.AppendEntriesResponse{Success: false}
	}
}

// OnRequestVote implements transport.Handler.
func (n *ClusterNode) OnRequestVote(req *raftpd.RequestVoteRequest) *raftpd.RequestVoteResponse {
	ev := requestVoteEvent{req: req, resp: make(chan *raftpd.RequestVoteResponse, 1)}
	if !n.post(ev) {
		return &raftpd.RequestVoteResponse{VoteGranted: false}
	}
	select {
	case resp := <-ev.resp:
		return resp
	case <-n.done:
		return &raftpd.RequestVoteResponse{VoteGranted: false}
	}
}

// OnCommitData implements transport.Handler, bridging remote clients
// onto the commit path. The transport goroutine blocks until quorum
// resolves the proposal.
func (n *ClusterNode) OnCommitData(req *raftpd.CommitDataRequest) *raftpd.CommitDataResponse {
	done := make(chan *CommitResponse, 1)
	n.CommitData(req.ID, req.Payload, func(resp *CommitResponse) {
		done <- resp
	})
	select {
	case resp := <-done:
		return &raftpd.CommitDataResponse{Result: resp.Result, Entry: resp.Entry}
	case <-n.done:
		return &raftpd.CommitDataResponse{Result: false}
	}
}
