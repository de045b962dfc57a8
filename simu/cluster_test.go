package simu

import (
	"fmt"
	"testing"
	"time"

	"github.com/huchijwk/foros/cluster"
)

const electionPause = 2 * cluster.DefaultElectionTimeoutMax

// A fresh cluster elects exactly one leader; the leader activates,
// the others deactivate.
func TestCluster_InitialElection(t *testing.T) {
	servers := 3
	env := MakeEnvironment(t, servers)
	defer env.Cleanup()

	fmt.Printf("Test: initial election ...\n")

	leader := env.CheckOneLeader()

	// does the leader+term stay the same if there is no failure?
	term1 := env.CheckTerms()
	time.Sleep(2 * electionPause)
	term2 := env.CheckTerms()
	if term1 != term2 {
		fmt.Printf("warning: term changed even though there were no failures\n")
	}

	if env.Activations(leader) != 1 {
		t.Fatalf("leader activated %d times", env.Activations(leader))
	}
	for i := 0; i < servers; i++ {
		if i == leader {
			continue
		}
		if env.Deactivations(i) < 1 {
			t.Fatalf("follower %d never deactivated", i)
		}
		if env.Activations(i) != 0 {
			t.Fatalf("follower %d activated", i)
		}
	}

	fmt.Printf("  ... Passed\n")
}

// Losing the leader triggers a re-election in a strictly greater
// term.
func TestCluster_ReElection(t *testing.T) {
	servers := 3
	env := MakeEnvironment(t, servers)
	defer env.Cleanup()

	fmt.Printf("Test: election after leader failure ...\n")

	leader1 := env.CheckOneLeader()
	term1 := env.CheckTerms()

	env.Disconnect(leader1)
	leader2 := env.CheckOneLeader()
	term2 := env.CheckTerms()
	if leader2 == leader1 {
		t.Fatalf("disconnected node still counted as leader")
	}
	if term2 <= term1 {
		t.Fatalf("new leader's term %d not above %d", term2, term1)
	}

	// the deposed leader rejoins without disturbing the new one
	env.Connect(leader1)
	time.Sleep(electionPause)
	if leader := env.CheckOneLeader(); leader != leader2 {
		t.Fatalf("rejoin changed leader from %d to %d", leader2, leader)
	}
	if _, isLeader := env.GetState(leader1); isLeader {
		t.Fatalf("old leader kept an expired leadership")
	}

	fmt.Printf("  ... Passed\n")
}

// Without a quorum no leader may emerge.
func TestCluster_NoQuorumNoLeader(t *testing.T) {
	servers := 3
	env := MakeEnvironment(t, servers)
	defer env.Cleanup()

	fmt.Printf("Test: no election without quorum ...\n")

	leader := env.CheckOneLeader()
	env.Disconnect(leader)
	env.Disconnect((leader + 1) % servers)
	time.Sleep(2 * electionPause)
	env.CheckNoLeader()

	// a quorum arises, a leader follows
	env.Connect((leader + 1) % servers)
	env.CheckOneLeader()

	fmt.Printf("  ... Passed\n")
}

// A committed entry is acknowledged to the client and lands on every
// node's data interface.
func TestCluster_ReplicatedCommit(t *testing.T) {
	servers := 4
	env := MakeEnvironment(t, servers)
	defer env.Cleanup()

	fmt.Printf("Test: replicated commit ...\n")

	leader := env.CheckOneLeader()
	resp := env.Commit(leader, 0, []byte("a"))
	if !resp.Result || resp.Err != nil {
		t.Fatalf("commit failed: %+v", resp)
	}
	if resp.Entry.ID != 0 || resp.Entry.Term < 1 {
		t.Fatalf("unexpected entry: %v", resp.Entry)
	}

	payload := env.Wait(0, servers)
	if string(payload) != "a" {
		t.Fatalf("expected payload 'a', got %q", payload)
	}

	fmt.Printf("  ... Passed\n")
}

// commit_data on a non-leader fails immediately.
func TestCluster_CommitOnFollowerFails(t *testing.T) {
	servers := 3
	env := MakeEnvironment(t, servers)
	defer env.Cleanup()

	fmt.Printf("Test: commit on follower ...\n")

	leader := env.CheckOneLeader()
	follower := (leader + 1) % servers

	resp := env.Commit(follower, 0, []byte("a"))
	if resp.Result || resp.Err != cluster.ErrNotLeader {
		t.Fatalf("expected ErrNotLeader, got %+v", resp)
	}

	fmt.Printf("  ... Passed\n")
}

// A commit with a stale position is refused and nothing reaches any
// data store.
func TestCluster_CommitStaleIDRejected(t *testing.T) {
	servers := 3
	env := MakeEnvironment(t, servers)
	defer env.Cleanup()

	fmt.Printf("Test: stale commit id ...\n")

	leader := env.CheckOneLeader()
	resp := env.Commit(leader, 2, []byte("a"))
	if resp.Result || resp.Err != cluster.ErrInvalidCommitOrder {
		t.Fatalf("expected ErrInvalidCommitOrder, got %+v", resp)
	}
	for i := 0; i < servers; i++ {
		if env.stores[i].count() != 0 {
			t.Fatalf("store %d grew to %d", i, env.stores[i].count())
		}
	}

	fmt.Printf("  ... Passed\n")
}

// A follower that missed commits catches up after rejoining.
func TestCluster_FollowerCatchUp(t *testing.T) {
	servers := 3
	env := MakeEnvironment(t, servers)
	defer env.Cleanup()

	fmt.Printf("Test: follower catch up ...\n")

	leader := env.CheckOneLeader()
	follower := (leader + 1) % servers
	env.Disconnect(follower)

	env.One([]byte("a"), servers-1)
	env.One([]byte("b"), servers-1)

	env.Connect(follower)
	env.Wait(0, servers)
	env.Wait(1, servers)

	fmt.Printf("  ... Passed\n")
}

// Agreement continues across a leader change.
func TestCluster_AgreeAfterReElection(t *testing.T) {
	servers := 5
	env := MakeEnvironment(t, servers)
	defer env.Cleanup()

	fmt.Printf("Test: agreement after re-election ...\n")

	env.One([]byte("a"), servers)

	leader := env.CheckOneLeader()
	env.Disconnect(leader)
	env.CheckOneLeader()

	env.One([]byte("b"), servers-1)

	env.Connect(leader)
	env.Wait(1, servers)

	fmt.Printf("  ... Passed\n")
}
