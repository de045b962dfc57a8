package cluster

import (
	log "github.com/sirupsen/logrus"

	"github.com/huchijwk/foros/raft"
)

// LifecycleState is the role projection exposed to the application.
type LifecycleState int

const (
	LifecycleStandby LifecycleState = iota
	LifecycleActive
	LifecycleInactive
)

var lifecycleString = []string{
	"Standby",
	"Active",
	"Inactive",
}

func (s LifecycleState) String() string {
	return lifecycleString[s]
}

// deriveLifecycle maps a consensus role to its lifecycle state:
// Leader is Active, Follower and Candidate are Inactive, Standby is
// Standby.
func deriveLifecycle(role raft.Role) LifecycleState {
	switch role {
	case raft.RoleLeader:
		return LifecycleActive
	case raft.RoleFollower, raft.RoleCandidate:
		return LifecycleInactive
	default:
		return LifecycleStandby
	}
}

// lifecycleMachine is the thin derived state machine driving the
// application callbacks. Re-entry of the current state is a no-op, so
// every callback fires exactly once per transition. It is the sole
// subscriber of the raft machine's role changes.
type lifecycleMachine struct {
	id      uint32
	current LifecycleState

	onActivated   func()
	onDeactivated func()
	onStandby     func()
}

func makeLifecycle(id uint32) *lifecycleMachine {
	return &lifecycleMachine{id: id, current: LifecycleStandby}
}

// RoleChanged implements raft.RoleObserver.
func (l *lifecycleMachine) RoleChanged(role raft.Role) {
	next := deriveLifecycle(role)
	if next == l.current {
		return
	}

	log.Infof("%d lifecycle %v => %v", l.id, l.current, next)
	l.current = next

	switch next {
	case LifecycleActive:
		if l.onActivated != nil {
			l.onActivated()
		}
	case LifecycleInactive:
		if l.onDeactivated != nil {
			l.onDeactivated()
		}
	case LifecycleStandby:
		if l.onStandby != nil {
			l.onStandby()
		}
	}
}
