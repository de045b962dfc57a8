package simu

import (
	"errors"
	"sync"
	"time"

	"github.com/thinkermao/network-simu-go"

	"github.com/huchijwk/foros/raft/proto"
	"github.com/huchijwk/foros/transport"
	"github.com/huchijwk/foros/utils/pd"
)

var errBusTimeout = errors.New("simu: call timed out")

const defaultBusTimeout = 500 * time.Millisecond

// envelope frames a request or its response over the one-way
// handler.Call primitive; Seq correlates the two.
type envelope struct {
	Seq     uint64
	Reply   bool
	Service string
	Body    []byte
}

func (e *envelope) Reset() { *e = envelope{} }

// Bus adapts one network-simu-go endpoint into a transport.Transport.
// Cluster node ids are endpoint ids shifted by one, so the simulated
// network's Enable/Disable map directly to cluster members.
type Bus struct {
	handler network.Handler
	timeout time.Duration

	mu      sync.Mutex
	seq     uint64
	waiters map[uint64]chan []byte
	serve   transport.Handler
}

// NodeID return the cluster node id of a simulated endpoint.
func NodeID(endpoint int) uint32 {
	return uint32(endpoint) + 1
}

func endpointOf(node uint32) int {
	return int(node) - 1
}

// MakeBus bind a bus to a simulated endpoint.
func MakeBus(handler network.Handler) *Bus {
	b := &Bus{
		handler: handler,
		timeout: defaultBusTimeout,
		waiters: make(map[uint64]chan []byte),
	}
	handler.BindReceiver(b.receive)
	return b
}

// Serve implements transport.Transport.
func (b *Bus) Serve(h transport.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.serve = h
	return nil
}

// Close implements transport.Transport.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.serve = nil
	return nil
}

// AppendEntries implements transport.Transport.
func (b *Bus) AppendEntries(to uint32, req *raftpd.AppendEntriesRequest) (*raftpd.AppendEntriesResponse, error) {
	resp := new(raftpd.AppendEntriesResponse)
	if err := b.call(to, transport.AppendEntriesService, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RequestVote implements transport.Transport.
func (b *Bus) RequestVote(to uint32, req *raftpd.RequestVoteRequest) (*raftpd.RequestVoteResponse, error) {
	resp := new(raftpd.RequestVoteResponse)
	if err := b.call(to, transport.RequestVoteService, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CommitData implements transport.Transport.
func (b *Bus) CommitData(to uint32, req *raftpd.CommitDataRequest) (*raftpd.CommitDataResponse, error) {
	resp := new(raftpd.CommitDataResponse)
	if err := b.call(to, transport.CommitDataService, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (b *Bus) call(to uint32, service string, req, resp pd.Message) error {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	ch := make(chan []byte, 1)
	b.waiters[seq] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.waiters, seq)
		b.mu.Unlock()
	}()

	env := &envelope{Seq: seq, Service: service, Body: pd.MustMarshal(req)}
	if err := b.handler.Call(endpointOf(to), pd.MustMarshal(env)); err != nil {
		return err
	}

	select {
	case data := <-ch:
		return pd.Unmarshal(resp, data)
	case <-time.After(b.timeout):
		return errBusTimeout
	}
}

func (b *Bus) receive(from int, data []byte) {
	env := new(envelope)
	if !pd.MaybeUnmarshal(env, data) {
		return
	}

	if env.Reply {
		b.mu.Lock()
		ch, ok := b.waiters[env.Seq]
		b.mu.Unlock()
		if ok {
			select {
			case ch <- env.Body:
			default:
			}
		}
		return
	}

	// requests block on the node loop; never serve them on the
	// network delivery goroutine
	go b.serveRequest(from, env)
}

func (b *Bus) serveRequest(from int, env *envelope) {
	b.mu.Lock()
	h := b.serve
	b.mu.Unlock()
	if h == nil {
		return
	}

	var body []byte
	switch env.Service {
	case transport.AppendEntriesService:
		req := new(raftpd.AppendEntriesRequest)
		pd.MustUnmarshal(req, env.Body)
		body = pd.MustMarshal(h.OnAppendEntries(req))
	case transport.RequestVoteService:
		req := new(raftpd.RequestVoteRequest)
		pd.MustUnmarshal(req, env.Body)
		body = pd.MustMarshal(h.OnRequestVote(req))
	case transport.CommitDataService:
		req := new(raftpd.CommitDataRequest)
		pd.MustUnmarshal(req, env.Body)
		body = pd.MustMarshal(h.OnCommitData(req))
	default:
		return
	}

	reply := &envelope{Seq: env.Seq, Reply: true, Service: env.Service, Body: body}
	_ = b.handler.Call(from, pd.MustMarshal(reply))
}
