package cluster

import (
	"testing"
	"time"
)

func TestOptions_Defaults(t *testing.T) {
	opts := (*Options)(nil).withDefaults()
	if opts.ElectionTimeoutMin != DefaultElectionTimeoutMin ||
		opts.ElectionTimeoutMax != DefaultElectionTimeoutMax ||
		opts.HeartbeatInterval != DefaultHeartbeatInterval ||
		opts.TickInterval != DefaultTickInterval {
		t.Fatalf("zero options must resolve to defaults: %+v", opts)
	}

	partial := (&Options{ElectionTimeoutMin: 200 * time.Millisecond}).withDefaults()
	if partial.ElectionTimeoutMin != 200*time.Millisecond {
		t.Fatalf("explicit field overridden: %v", partial.ElectionTimeoutMin)
	}
	if partial.ElectionTimeoutMax != DefaultElectionTimeoutMax {
		t.Fatalf("unset field must default: %v", partial.ElectionTimeoutMax)
	}
}

func TestOptions_Validate(t *testing.T) {
	ids := []uint32{1, 2, 3}
	cases := []struct {
		name string
		opts Options
		id   uint32
		ids  []uint32
		ok   bool
	}{
		{"defaults", (*Options)(nil).withDefaults(), 1, ids, true},
		{"min above max", Options{
			ElectionTimeoutMin: 300 * time.Millisecond,
			ElectionTimeoutMax: 150 * time.Millisecond,
			HeartbeatInterval:  50 * time.Millisecond,
			TickInterval:       10 * time.Millisecond,
		}, 1, ids, false},
		{"heartbeat equal to election min", Options{
			ElectionTimeoutMin: 150 * time.Millisecond,
			ElectionTimeoutMax: 300 * time.Millisecond,
			HeartbeatInterval:  150 * time.Millisecond,
			TickInterval:       10 * time.Millisecond,
		}, 1, ids, false},
		{"negative timeout", Options{
			ElectionTimeoutMin: -time.Millisecond,
			ElectionTimeoutMax: 300 * time.Millisecond,
			HeartbeatInterval:  50 * time.Millisecond,
			TickInterval:       10 * time.Millisecond,
		}, 1, ids, false},
		{"node outside membership", (*Options)(nil).withDefaults(), 9, ids, false},
		{"duplicate member", (*Options)(nil).withDefaults(), 1, []uint32{1, 2, 2}, false},
		{"empty membership", (*Options)(nil).withDefaults(), 1, nil, false},
	}

	for _, c := range cases {
		err := c.opts.validate(c.id, c.ids)
		if c.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", c.name, err)
		}
		if !c.ok && err == nil {
			t.Fatalf("%s: expected a ConfigError", c.name)
		}
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New("test_cluster", 9, []uint32{1, 2, 3}, &stubStore{}, &loopback{}, nil)
	if err == nil {
		t.Fatalf("expected configuration error")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
}
