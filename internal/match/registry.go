package match

import (
	"sync"

	"github.com/iFunFactory/dshostd/internal/apierrors"
)

// PortPoolConfig configures the port pool's allocation strategy.
type PortPoolConfig struct {
	BasePort  int  // first port in the pool, default 7500
	Size      int  // number of match slots, default 500
	UseBeacon bool // when true, beacon = port+1 and ports are allocated in steps of 2
}

// Registry is the authoritative, in-memory map of match_id -> Record plus
// the port pool, guarded by a single mutex. It performs no I/O: every
// mutating method here is O(1); only the snapshot scans
// (SnapshotInstances, HeartbeatDeadlines) walk every record.
type Registry struct {
	mu sync.Mutex

	records  map[string]*Record
	portPool []int

	maxActive int // concurrent_servers: a per-host cap additional to the pool size
}

// NewRegistry builds a Registry with a freshly populated port pool.
// With UseBeacon, ports are allocated [base, base+2, base+4, ...] and the
// beacon for a given port is implicitly port+1.
func NewRegistry(pool PortPoolConfig, maxActive int) *Registry {
	if pool.Size <= 0 {
		pool.Size = 500
	}
	if pool.BasePort <= 0 {
		pool.BasePort = 7500
	}

	ports := make([]int, 0, pool.Size)
	step := 1
	if pool.UseBeacon {
		step = 2
	}
	for i := 0; i < pool.Size; i++ {
		ports = append(ports, pool.BasePort+i*step)
	}

	return &Registry{
		records:   make(map[string]*Record),
		portPool:  ports,
		maxActive: maxActive,
	}
}

// FreePorts returns the number of ports currently sitting in the pool
// (i.e. not assigned to any active match). Exposed for tests verifying
// invariant 1 (port conservation) and the capacity scenario.
func (r *Registry) FreePorts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.portPool)
}

// ActiveCount returns the number of matches currently held in the registry.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Reserve creates a new record for match_id, allocating a port (and a
// beacon port, when the pool was built with UseBeacon). It fails with
// ErrAlreadyCreated if match_id already exists, or ErrCapacityExceeded if
// the active match count is at maxActive or the port pool is empty.
func (r *Registry) Reserve(matchID string, origin Origin, data map[string]any, useBeacon bool) (*Record, int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[matchID]; exists {
		return nil, 0, 0, apierrors.ErrAlreadyCreated
	}
	if (r.maxActive > 0 && len(r.records) >= r.maxActive) || len(r.portPool) == 0 {
		return nil, 0, 0, apierrors.ErrCapacityExceeded
	}

	port := r.portPool[0]
	r.portPool = r.portPool[1:]

	beacon := 0
	if useBeacon {
		beacon = port + 1
	}

	rec := &Record{
		MatchID: matchID,
		Origin:  origin,
		Data:    data,
		State:   StateCreating,
		Created: nowUnix(),
		Ready:   NewSignal(),
	}
	r.records[matchID] = rec

	return rec, port, beacon, nil
}

// ReleasePort returns a previously allocated port to the pool without
// touching the record map. Used to unwind a reservation after SpawnFailure.
func (r *Registry) ReleasePort(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.portPool = append(r.portPool, port)
}

// RemoveReservation deletes a record that was reserved but never
// successfully spawned (SpawnFailure unwind path). No-op if already gone.
func (r *Registry) RemoveReservation(matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, matchID)
}

// AttachInstance records the supervisor's reported pid/ports and moves the
// match to StateSpawned.
func (r *Registry) AttachInstance(matchID string, inst Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[matchID]
	if !ok {
		return
	}
	rec.Instance = inst
	rec.State = StateSpawned
}

// MarkReady transitions Spawned -> Ready, stamps last_heartbeat, and fires
// the ready signal. It is idempotent-on-absence and idempotent-on-repeat:
// a second call for an already-Ready match is a silent no-op (the signal
// fires at most once, per invariant 3).
func (r *Registry) MarkReady(matchID string) *Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[matchID]
	if !ok {
		return nil
	}
	if rec.State == StateCreating || rec.State == StateSpawned {
		rec.State = StateReady
		rec.LastHeartbeat = nowUnix()
		rec.Ready.Fire()
	}
	return rec.Ready
}

// MarkRunning transitions Ready -> Running on the first reported game state
// after readiness. Unknown or already-running matches are left untouched.
func (r *Registry) MarkRunning(matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[matchID]
	if !ok {
		return
	}
	if rec.State == StateReady {
		rec.State = StateRunning
	}
}

// TouchHeartbeat updates last_heartbeat to ts. Unknown match_ids are
// ignored; within a single match's lifetime last_heartbeat only increases
// because callers always pass the current time.
func (r *Registry) TouchHeartbeat(matchID string, ts int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[matchID]
	if !ok {
		return
	}
	if ts > rec.LastHeartbeat {
		rec.LastHeartbeat = ts
	}
}

// SnapshotInstances copies the pid/port projection of every active,
// non-probe match for host-state publication. The copy is taken under the
// lock; publication happens outside it.
func (r *Registry) SnapshotInstances() map[string]HostMatchEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]HostMatchEntry, len(r.records))
	for id, rec := range r.records {
		if id == NullMatchID {
			continue
		}
		out[id] = HostMatchEntry{
			PID:        rec.Instance.PID,
			Port:       rec.Instance.GamePort,
			BeaconPort: rec.Instance.BeaconPort,
		}
	}
	return out
}

// Get returns a shallow copy-safe view of a record for read-only callers.
// The returned pointer aliases live registry state and must not be mutated
// outside the registry's own methods.
func (r *Registry) Get(matchID string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[matchID]
	return rec, ok
}

// HeartbeatDeadlines returns, for every match with a recorded heartbeat,
// its match_id and last_heartbeat. Used by the heartbeat monitor to decide
// which matches have gone silent without holding the lock during the scan.
func (r *Registry) HeartbeatDeadlines() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.records))
	for id, rec := range r.records {
		if rec.LastHeartbeat > 0 {
			out[id] = rec.LastHeartbeat
		}
	}
	return out
}

// Remove deletes match_id's record and returns the ports it held; the
// caller returns the game port to the pool (a beacon port is never
// pooled, being the game port's implicit port+1). It is a no-op (ok=false) if the
// match is already gone, so a heartbeat-timeout removal racing a real
// exit-watcher removal is harmless.
func (r *Registry) Remove(matchID string) (freedPort, freedBeacon int, batches []*Batch, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[matchID]
	if !exists {
		return 0, 0, nil, false
	}
	delete(r.records, matchID)
	rec.State = StateFinished
	return rec.Instance.GamePort, rec.Instance.BeaconPort, rec.PendingBatches, true
}

// AppendBatch buffers a late-joiner batch for match_id. Fails with
// ErrMatchNotFound if the match is unknown.
func (r *Registry) AppendBatch(matchID string, b *Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[matchID]
	if !ok {
		return apierrors.ErrMatchNotFound
	}
	rec.PendingBatches = append(rec.PendingBatches, b)
	return nil
}

// DrainBatches atomically removes every pending batch for match_id
// (take-all-or-none, per invariant 4) and returns them. Completion signals
// must be released by the caller outside the registry lock.
func (r *Registry) DrainBatches(matchID string) []*Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[matchID]
	if !ok || len(rec.PendingBatches) == 0 {
		return nil
	}
	batches := rec.PendingBatches
	rec.PendingBatches = nil
	return batches
}

// TailPort returns the last port in the pool without removing it, for the
// reserved version-probe match, which borrows a port slot but never
// reserves it (invariant 6: the probe bypasses the registry entirely).
func (r *Registry) TailPort() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.portPool) == 0 {
		return 0
	}
	return r.portPool[len(r.portPool)-1]
}

// OriginOf returns matchID's recorded origin, implementing
// callback.OriginLookup without the callback package needing to import
// match's internal types directly.
func (r *Registry) OriginOf(matchID string) (Origin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[matchID]
	if !ok {
		return Origin{}, false
	}
	return rec.Origin, true
}

// GetData returns the opaque match data blob supplied at creation time
// (augmented with port/created), for the child's GET /match/{id}/.
func (r *Registry) GetData(matchID string) (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[matchID]
	if !ok {
		return nil, false
	}
	return rec.Data, true
}
