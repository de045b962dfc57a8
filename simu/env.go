package simu

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thinkermao/network-simu-go"

	"github.com/huchijwk/foros/cluster"
	"github.com/huchijwk/foros/raft/proto"
)

const clusterName = "test_cluster"

// memStore is the reference DataInterface: an in-memory ordered log.
// The harness reads it from the test goroutine, so it locks.
type memStore struct {
	mu      sync.Mutex
	entries []raftpd.LogEntry
}

func (s *memStore) Get(id uint64) *raftpd.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id >= uint64(len(s.entries)) {
		return nil
	}
	entry := s.entries[id]
	return &entry
}

func (s *memStore) Latest() *raftpd.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return nil
	}
	entry := s.entries[len(s.entries)-1]
	return &entry
}

func (s *memStore) CommitRequested(entry *raftpd.LogEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID != uint64(len(s.entries)) {
		return false
	}
	s.entries = append(s.entries, *entry)
	return true
}

func (s *memStore) RollbackRequested(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < uint64(len(s.entries)) {
		s.entries = s.entries[:id]
	}
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Environment spins a full cluster on a simulated network.
type Environment struct {
	t          *testing.T
	net        network.Network
	totalNodes int

	nodes  []*cluster.ClusterNode
	stores []*memStore

	activated   []int32
	deactivated []int32
	standby     []int32
}

// MakeEnvironment build and start a cluster of num nodes, everyone
// connected.
func MakeEnvironment(t *testing.T, num int) *Environment {
	builder := network.CreateBuilder()
	env := &Environment{
		t:           t,
		totalNodes:  num,
		activated:   make([]int32, num),
		deactivated: make([]int32, num),
		standby:     make([]int32, num),
	}

	handlers := make([]network.Handler, num)
	for i := 0; i < num; i++ {
		handlers[i] = builder.AddEndpoint()
	}
	env.net = builder.Build()

	ids := make([]uint32, num)
	for i := 0; i < num; i++ {
		ids[i] = NodeID(i)
	}

	for i := 0; i < num; i++ {
		store := &memStore{}
		node, err := cluster.New(clusterName, ids[i], ids, store,
			MakeBus(handlers[i]), cluster.DefaultOptions())
		if err != nil {
			t.Fatalf("build node %d: %v", ids[i], err)
		}

		index := i
		node.RegisterOnActivated(func() { atomic.AddInt32(&env.activated[index], 1) })
		node.RegisterOnDeactivated(func() { atomic.AddInt32(&env.deactivated[index], 1) })
		node.RegisterOnStandby(func() { atomic.AddInt32(&env.standby[index], 1) })

		env.nodes = append(env.nodes, node)
		env.stores = append(env.stores, store)

		go func() { _ = node.Run() }()
	}

	for i := 0; i < num; i++ {
		env.Connect(i)
	}
	return env
}

// Cleanup shut every node down.
func (env *Environment) Cleanup() {
	for i := 0; i < len(env.nodes); i++ {
		env.nodes[i].Shutdown()
	}
}

// Connect attach server i to the net.
func (env *Environment) Connect(i int) {
	env.net.Enable(i)
}

// Disconnect detach server i from the net.
func (env *Environment) Disconnect(i int) {
	env.net.Disable(i)
}

// Activations return how often node i activated.
func (env *Environment) Activations(i int) int {
	return int(atomic.LoadInt32(&env.activated[i]))
}

// Deactivations return how often node i deactivated.
func (env *Environment) Deactivations(i int) int {
	return int(atomic.LoadInt32(&env.deactivated[i]))
}

// GetState return term and leadership of node i.
func (env *Environment) GetState(i int) (uint64, bool) {
	return env.nodes[i].GetState()
}

// CheckOneLeader check that there's exactly one leader, retrying a
// few times in case re-elections are needed.
func (env *Environment) CheckOneLeader() int {
	for iters := 0; iters < 10; iters++ {
		time.Sleep(2 * cluster.DefaultElectionTimeoutMax)

		leaders := make(map[uint64][]int)
		for i := 0; i < env.totalNodes; i++ {
			if env.net.IsEnable(i) {
				if term, isLeader := env.GetState(i); isLeader {
					leaders[term] = append(leaders[term], i)
				}
			}
		}

		lastTermWithLeader := uint64(0)
		for term, ls := range leaders {
			if len(ls) > 1 {
				env.t.Fatalf("term %d has %d (>1) leaders", term, len(ls))
			}
			if term > lastTermWithLeader {
				lastTermWithLeader = term
			}
		}

		if len(leaders) != 0 {
			return leaders[lastTermWithLeader][0]
		}
	}
	env.t.Fatalf("expected one leader, got none")
	return -1
}

// CheckTerms check that every connected node agrees on the term.
func (env *Environment) CheckTerms() uint64 {
	var term uint64
	seen := false
	for i := 0; i < env.totalNodes; i++ {
		if env.net.IsEnable(i) {
			xterm, _ := env.GetState(i)
			if !seen {
				term = xterm
				seen = true
			} else if term != xterm {
				env.t.Fatalf("servers disagree on term")
			}
		}
	}
	return term
}

// CheckNoLeader check that no connected node claims leadership.
func (env *Environment) CheckNoLeader() {
	for i := 0; i < env.totalNodes; i++ {
		if env.net.IsEnable(i) {
			if _, isLeader := env.GetState(i); isLeader {
				env.t.Fatalf("expected no leader, but %v claims to be leader", i)
			}
		}
	}
}

// Commit submits payload at position id through node i and waits for
// the resolution.
func (env *Environment) Commit(i int, id uint64, payload []byte) *cluster.CommitResponse {
	done := make(chan *cluster.CommitResponse, 1)
	env.nodes[i].CommitData(id, payload, func(resp *cluster.CommitResponse) {
		done <- resp
	})
	select {
	case resp := <-done:
		return resp
	case <-time.After(5 * time.Second):
		env.t.Fatalf("commit through node %d timed out", i)
		return nil
	}
}

// CommittedNumber counts how many stores hold an entry at id, and
// checks they agree on its payload.
func (env *Environment) CommittedNumber(id uint64) (int, []byte) {
	count := 0
	var payload []byte
	for i := 0; i < len(env.stores); i++ {
		entry := env.stores[i].Get(id)
		if entry == nil {
			continue
		}
		if count > 0 && string(payload) != string(entry.Payload) {
			env.t.Fatalf("committed values do not match: id %v, %q, %q",
				id, payload, entry.Payload)
		}
		count++
		payload = entry.Payload
	}
	return count, payload
}

// Wait for at least n stores to hold entry id, but don't wait
// forever.
func (env *Environment) Wait(id uint64, n int) []byte {
	to := 10 * time.Millisecond
	for iters := 0; iters < 30; iters++ {
		count, _ := env.CommittedNumber(id)
		if count >= n {
			break
		}
		time.Sleep(to)
		if to < time.Second {
			to *= 2
		}
	}
	count, payload := env.CommittedNumber(id)
	if count < n {
		env.t.Fatalf("only %d decided for id %d; wanted %d", count, id, n)
	}
	return payload
}

// One do a complete agreement for payload at the next free position,
// retrying through every node until a leader takes it.
func (env *Environment) One(payload []byte, expectedServers int) uint64 {
	t0 := time.Now()
	starts := 0
	for time.Since(t0).Seconds() < 10 {
		for si := 0; si < env.totalNodes; si++ {
			starts = (starts + 1) % env.totalNodes
			if !env.net.IsEnable(starts) {
				continue
			}
			id := uint64(env.stores[starts].count())
			if resp := env.Commit(starts, id, payload); resp.Result {
				env.Wait(resp.Entry.ID, expectedServers)
				return resp.Entry.ID
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	env.t.Fatalf("One(%q) failed to reach agreement", payload)
	return 0
}
