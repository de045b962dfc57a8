package cluster

import (
	"time"
)

const (
	// DefaultElectionTimeoutMin is the lower bound of the randomized
	// election timeout.
	DefaultElectionTimeoutMin = 150 * time.Millisecond

	// DefaultElectionTimeoutMax is the upper bound of the randomized
	// election timeout.
	DefaultElectionTimeoutMax = 300 * time.Millisecond

	// DefaultHeartbeatInterval is the leader heartbeat period.
	DefaultHeartbeatInterval = 50 * time.Millisecond

	// DefaultTickInterval is the granularity of the node's internal
	// timer service.
	DefaultTickInterval = 10 * time.Millisecond
)

// Options is the enumerated configuration of a cluster node. The zero
// value of any field selects its default.
type Options struct {
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
	TickInterval       time.Duration
}

// DefaultOptions return options with every field at its default.
func DefaultOptions() *Options {
	return &Options{
		ElectionTimeoutMin: DefaultElectionTimeoutMin,
		ElectionTimeoutMax: DefaultElectionTimeoutMax,
		HeartbeatInterval:  DefaultHeartbeatInterval,
		TickInterval:       DefaultTickInterval,
	}
}

func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}
	if opts.ElectionTimeoutMin == 0 {
		opts.ElectionTimeoutMin = DefaultElectionTimeoutMin
	}
	if opts.ElectionTimeoutMax == 0 {
		opts.ElectionTimeoutMax = DefaultElectionTimeoutMax
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = DefaultTickInterval
	}
	return opts
}

// validate checks the options together with the cluster membership.
func (o Options) validate(id uint32, ids []uint32) *ConfigError {
	if o.ElectionTimeoutMin <= 0 || o.ElectionTimeoutMax <= 0 ||
		o.HeartbeatInterval <= 0 || o.TickInterval <= 0 {
		return &ConfigError{Reason: "timeouts must be positive"}
	}
	if o.ElectionTimeoutMin > o.ElectionTimeoutMax {
		return &ConfigError{Reason: "election timeout min exceeds max"}
	}
	if o.HeartbeatInterval >= o.ElectionTimeoutMin {
		return &ConfigError{Reason: "heartbeat interval must be below election timeout min"}
	}
	if len(ids) == 0 {
		return &ConfigError{Reason: "empty cluster membership"}
	}

	seen := make(map[uint32]bool, len(ids))
	member := false
	for _, node := range ids {
		if seen[node] {
			return &ConfigError{Reason: "duplicate node id in membership"}
		}
		seen[node] = true
		if node == id {
			member = true
		}
	}
	if !member {
		return &ConfigError{Reason: "node id not in cluster membership"}
	}
	return nil
}
