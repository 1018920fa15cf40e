// Package replication bootstraps GTID auto-positioned source/replica
// replication and tracks whether the replica has converged.
package replication

import (
	"fmt"
	"sync"
	"time"

	"mysql-backup-coordinator/internal/errors"
)

// Role is the side of the topology a server plays
type Role string

const (
	RoleSource  Role = "source"
	RoleReplica Role = "replica"
)

// State is the lifecycle state of a replication topology
type State string

const (
	StateUnconfigured State = "unconfigured"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateDegraded     State = "degraded"
)

// PositioningAutoGTID is the only positioning mode the bootstrapper configures
const PositioningAutoGTID = "auto-gtid"

var transitions = map[State][]State{
	StateUnconfigured: {StateStarting},
	StateStarting:     {StateRunning, StateDegraded},
	StateRunning:      {StateDegraded},
	StateDegraded:     {StateRunning},
}

// Principal is a MySQL account. The password is supplied at call time and
// never serialized.
type Principal struct {
	User     string `json:"user"`
	Password string `json:"-"`
	Host     string `json:"host"`
}

func (p Principal) host() string {
	if p.Host == "" {
		return "%"
	}
	return p.Host
}

// Validate checks that the principal can be created or used
func (p Principal) Validate(what string) error {
	if p.User == "" {
		return errors.NewValidationError(what+" user is required", nil)
	}
	if p.Password == "" {
		return errors.NewValidationError(what+" password is required", nil).
			WithUserMessage(fmt.Sprintf("Provide the %s password through a flag or the environment", what))
	}
	return nil
}

// Endpoint is where the replica connects to the source
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Topology is the replica side of a configured replication link. It is
// only returned to unconfigured by an explicit Reset.
type Topology struct {
	mu sync.Mutex

	Role        Role      `json:"role"`
	Principal   Principal `json:"principal"`
	Source      Endpoint  `json:"source"`
	Positioning string    `json:"positioning"`

	state      State
	lagSeconds *int64
	lastError  string
	updatedAt  time.Time
}

// NewTopology returns an unconfigured replica topology
func NewTopology(source Endpoint, principal Principal) *Topology {
	return &Topology{
		Role:        RoleReplica,
		Principal:   principal,
		Source:      source,
		Positioning: PositioningAutoGTID,
		state:       StateUnconfigured,
		updatedAt:   time.Now(),
	}
}

// State returns the current state
func (t *Topology) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Lag returns the last observed seconds behind the source, nil when unknown
func (t *Topology) Lag() *int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lagSeconds
}

// LastError returns the last IO or SQL thread error seen by a poll
func (t *Topology) LastError() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastError
}

// Transition moves the topology to next. Staying in the same state is a
// no-op; any move not in the state machine is rejected.
func (t *Topology) Transition(next State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(next)
}

func (t *Topology) transitionLocked(next State) error {
	if next == t.state {
		return nil
	}
	for _, allowed := range transitions[t.state] {
		if allowed == next {
			t.state = next
			t.updatedAt = time.Now()
			return nil
		}
	}
	return errors.NewValidationError(
		fmt.Sprintf("invalid replication state transition %s -> %s", t.state, next), nil)
}

// Observe applies one status reading: running when both threads run,
// degraded otherwise.
func (t *Topology) Observe(st *ReplicaStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lagSeconds = st.LagSeconds
	t.lastError = st.LastError()
	if st.Running() {
		return t.transitionLocked(StateRunning)
	}
	return t.transitionLocked(StateDegraded)
}

func (t *Topology) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateUnconfigured
	t.lagSeconds = nil
	t.lastError = ""
	t.updatedAt = time.Now()
}
