// Package match implements the match registry and lifecycle coordination
// engine: the state machine that ties together port allocation, child
// spawn rendezvous, late-joiner buffering, heartbeat liveness and
// uptime-bounded termination for a single host agent.
package match

import "time"

// State is a match's position in its lifecycle state machine.
type State int

const (
	// StateCreating is the instant between a successful reservation and the
	// supervisor reporting a pid.
	StateCreating State = iota
	// StateSpawned means the supervisor has returned a pid but the child has
	// not yet reported ready.
	StateSpawned
	// StateReady means the child called POST /match/{id}/ready and the
	// create_match rendezvous has been released.
	StateReady
	// StateRunning means the child has reported at least one state update
	// since becoming ready.
	StateRunning
	// StateTerminating is declared but never entered by the engine: a
	// heartbeat timeout removes the record at once, and an uptime kill
	// removes it when the exit watcher reports the child's exit.
	StateTerminating
	// StateFinished is terminal; the record is removed from the registry
	// immediately upon entering this state.
	StateFinished
)

// String renders the state for logging.
func (s State) String() string {
	switch s {
	case StateCreating:
		return "Creating"
	case StateSpawned:
		return "Spawned"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateTerminating:
		return "Terminating"
	case StateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Origin is the (host, port) of the backend that created a match; callbacks
// concerning that match are addressed here unless a global engine URL is
// configured.
type Origin struct {
	Host string
	Port int
}

// Instance holds the process-level facts about a spawned child, populated
// once the supervisor reports a pid.
type Instance struct {
	PID        int
	GamePort   int
	BeaconPort int // 0 when beacon mode is disabled
}

// Batch is one buffered add_user call awaiting pickup by the child's
// pending_users drain.
type Batch struct {
	Users      []string
	UserData   []map[string]any
	MatchData  map[string]any
	Completion *Signal
}

// Record is the authoritative per-match record held by the Registry.
type Record struct {
	MatchID       string
	Origin        Origin
	Data          map[string]any
	Instance      Instance
	State         State
	LastHeartbeat int64 // unix seconds, zero until the child reports ready
	Created       int64 // unix seconds

	Ready          *Signal
	PendingBatches []*Batch
}

// HostMatchEntry is the per-match projection published in the host record.
type HostMatchEntry struct {
	PID        int `json:"pid"`
	Port       int `json:"port"`
	BeaconPort int `json:"beacon_port,omitempty"`
}

// HostState is the singleton host record republished on every mutation and
// on a fixed timer.
type HostState struct {
	Matches       map[string]HostMatchEntry `json:"matches"`
	MaxMatches    int                       `json:"max_matches"`
	Timestamp     int64                     `json:"ts"`
	PublicIP      string                    `json:"public_ip"`
	ServerVersion string                    `json:"server_version"`
	InstanceID    string                    `json:"instance_id"`
	Region        string                    `json:"region"`
}

// NullMatchID is the reserved sentinel match id used for the startup-time
// version probe. It bypasses the registry: no port is reserved from the
// pool (it borrows the pool's tail slot) and it needs no cleanup beyond
// releasing the probe signal.
const NullMatchID = "00000000-0000-0000-0000-000000000000"

func nowUnix() int64 { return time.Now().Unix() }
