package raft

import (
	"testing"

	"github.com/huchijwk/foros/raft/proto"
)

func makeTestLogStore() (*logStore, *testStore) {
	store := &testStore{}
	return makeLogStore(1, store), store
}

func TestLogStore_BootBaseline(t *testing.T) {
	store := &testStore{entries: []raftpd.LogEntry{
		{ID: 0, Term: 1, Payload: []byte("a")},
		{ID: 1, Term: 1, Payload: []byte("b")},
	}}
	ls := makeLogStore(1, store)

	if ls.count != 2 || ls.commitIndex != 2 {
		t.Fatalf("boot entries are the committed baseline: count %d commit %d",
			ls.count, ls.commitIndex)
	}
	if ls.lastIndex() != 1 || ls.lastTerm() != 1 {
		t.Fatalf("bad tail: idx %d term %d", ls.lastIndex(), ls.lastTerm())
	}
}

func TestLogStore_TryAppendValidatesContinuity(t *testing.T) {
	ls, store := makeTestLogStore()

	// gap: prev entry is missing
	if ls.tryAppend(0, 1, []raftpd.LogEntry{{ID: 1, Term: 1}}) {
		t.Fatalf("append over a gap must fail")
	}

	if !ls.tryAppend(raftpd.NoIndex, raftpd.InvalidTerm,
		[]raftpd.LogEntry{{ID: 0, Term: 1, Payload: []byte("a")}}) {
		t.Fatalf("append from origin must succeed")
	}
	if len(store.entries) != 1 {
		t.Fatalf("entry must reach the data store")
	}

	// wrong prev term
	if ls.tryAppend(0, 9, []raftpd.LogEntry{{ID: 1, Term: 9}}) {
		t.Fatalf("append with mismatched prev term must fail")
	}

	if !ls.tryAppend(0, 1, []raftpd.LogEntry{{ID: 1, Term: 1, Payload: []byte("b")}}) {
		t.Fatalf("chained append must succeed")
	}
	if ls.count != 2 {
		t.Fatalf("expected count 2, got %d", ls.count)
	}
}

func TestLogStore_TryAppendRollsBackConflict(t *testing.T) {
	ls, store := makeTestLogStore()
	ls.tryAppend(raftpd.NoIndex, raftpd.InvalidTerm, []raftpd.LogEntry{
		{ID: 0, Term: 1, Payload: []byte("a")},
		{ID: 1, Term: 1, Payload: []byte("b")},
	})

	ok := ls.tryAppend(0, 1, []raftpd.LogEntry{{ID: 1, Term: 2, Payload: []byte("c")}})
	if !ok {
		t.Fatalf("conflicting append must succeed after rollback")
	}
	if store.rollbacks != 1 {
		t.Fatalf("expected 1 rollback, got %d", store.rollbacks)
	}
	if string(store.entries[1].Payload) != "c" || store.entries[1].Term != 2 {
		t.Fatalf("tail not replaced: %v", store.entries[1])
	}
}

func TestLogStore_StageAndCommit(t *testing.T) {
	ls, store := makeTestLogStore()

	entry := ls.stage(1, []byte("a"))
	if entry.ID != 0 {
		t.Fatalf("first staged entry takes id 0, got %d", entry.ID)
	}
	if len(store.entries) != 0 {
		t.Fatalf("staged entry must not reach the store")
	}
	if ls.lastCount() != 1 || ls.lastTerm() != 1 {
		t.Fatalf("staged entry must be visible to the log view")
	}

	committed, rejected := ls.commitStaged(1)
	if len(committed) != 1 || len(rejected) != 0 {
		t.Fatalf("expected 1 committed, got %d/%d", len(committed), len(rejected))
	}
	if len(store.entries) != 1 || ls.commitIndex != 1 {
		t.Fatalf("commit did not land: store %d commit %d",
			len(store.entries), ls.commitIndex)
	}
}

func TestLogStore_CommitStagedRejectsOutOfOrder(t *testing.T) {
	ls, store := makeTestLogStore()
	ls.stage(1, []byte("a"))

	// the application advanced its store behind our back
	store.entries = append(store.entries, raftpd.LogEntry{ID: 0, Term: 1})

	committed, rejected := ls.commitStaged(1)
	if len(committed) != 0 || len(rejected) != 1 {
		t.Fatalf("expected rejection, got %d/%d", len(committed), len(rejected))
	}
}

func TestLogStore_DropStaged(t *testing.T) {
	ls, store := makeTestLogStore()
	ls.stage(1, []byte("a"))
	ls.stage(1, []byte("b"))

	dropped := ls.dropStaged()
	if len(dropped) != 2 {
		t.Fatalf("expected 2 dropped, got %d", len(dropped))
	}
	if ls.lastCount() != 0 || len(store.entries) != 0 {
		t.Fatalf("staged tail must vanish")
	}
}

func TestLogStore_IsUpToDate(t *testing.T) {
	ls, _ := makeTestLogStore()
	ls.tryAppend(raftpd.NoIndex, raftpd.InvalidTerm, []raftpd.LogEntry{
		{ID: 0, Term: 1}, {ID: 1, Term: 2},
	})

	cases := []struct {
		lastIdx  uint64
		lastTerm uint64
		want     bool
	}{
		{1, 2, true},               // identical
		{5, 3, true},               // higher term wins
		{0, 2, false},              // same term, shorter log
		{9, 1, false},              // longer log, older term
		{raftpd.NoIndex, 0, false}, // empty log
	}
	for i, c := range cases {
		if got := ls.isUpToDate(c.lastIdx, c.lastTerm); got != c.want {
			t.Fatalf("case %d: isUpToDate(%d, %d) = %v, want %v",
				i, c.lastIdx, c.lastTerm, got, c.want)
		}
	}
}
