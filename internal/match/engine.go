package match

import (
	"context"
	"log/slog"
	"time"

	"github.com/iFunFactory/dshostd/internal/apierrors"
	"github.com/iFunFactory/dshostd/internal/supervisor"
	"github.com/iFunFactory/dshostd/internal/telemetry"
)

// Spawner is the subset of supervisor.Supervisor the engine depends on,
// kept narrow so engine tests can fake it without touching os/exec.
type Spawner interface {
	Spawn(req supervisor.SpawnRequest) (pid int, err error)
}

// Publisher is the subset of the publisher package the engine depends on:
// fire-and-forget notification that host (and, indirectly, match) state
// has changed and should be republished. The publisher owns its own retry
// and backoff; the engine never blocks on it.
type Publisher interface {
	PublishHostState(snapshot map[string]HostMatchEntry)
	PublishMatchFinished(matchID string)
	PublishMatchState(matchID string, state map[string]any)
	SetServerVersion(version string)
}

// heartbeatTimeoutFactor is the multiple of HeartbeatInterval a match may
// go silent before the monitor treats it as dead.
const heartbeatTimeoutFactor = 2.5

// EngineConfig bundles the tunables the engine needs beyond its
// collaborators: heartbeat cadence, default uptime cap, and whether this
// host spawns with beacon ports (UE4) or not (Unity).
type EngineConfig struct {
	HeartbeatInterval time.Duration
	DefaultMaxUptime  time.Duration
	UseBeacon         bool
	RestPort          int
	MaxActiveServers  int
	ServerVersion     string
}

// Engine is the match lifecycle coordinator: it composes the Registry
// (pure in-memory state) with the Spawner (process supervision) and
// Publisher (registry-of-record updates), and is the one place request
// handlers and the heartbeat monitor call into.
type Engine struct {
	cfg       EngineConfig
	registry  *Registry
	spawner   Spawner
	publisher Publisher
	logger    *slog.Logger

	versionProbe *Signal
	probeVersion string
	versionSet   bool
}

// NewEngine wires a Registry the engine owns internally, sized from cfg.
func NewEngine(cfg EngineConfig, pool PortPoolConfig, spawner Spawner, publisher Publisher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		registry:  NewRegistry(pool, cfg.MaxActiveServers),
		spawner:   spawner,
		publisher: publisher,
		logger:    logger,
	}
}

// Registry exposes the underlying registry for read-only introspection
// (e.g. the HTTP host-state handler).
func (e *Engine) Registry() *Registry { return e.registry }

// CreateMatch reserves a port (and record) for match_id, spawns its child
// process and returns the allocated ports plus the ready_signal the HTTP
// boundary should wait on before answering the backend. On any failure
// after reservation (spawn error) the reservation and port are rolled
// back so the pool never leaks a slot — invariant 1.
//
// As in the original implementation, data is expected to carry the
// backend's own callback port under "port"; that value becomes
// origin.Port, and data["port"] is then overwritten with the agent's own
// REST port so the child's GET /match/{id}/ sees where to call back.
// This is a surprising coupling, preserved deliberately rather than
// "cleaned up": game backends already depend on it.
func (e *Engine) CreateMatch(matchID string, callerHost string, data map[string]any) (port, beacon int, ready *Signal, err error) {
	origin := Origin{Host: callerHost}
	if p, ok := data["port"]; ok {
		switch v := p.(type) {
		case int:
			origin.Port = v
		case float64:
			origin.Port = int(v)
		}
	}
	data["port"] = e.cfg.RestPort
	data["created"] = nowUnix()

	rec, port, beacon, err := e.registry.Reserve(matchID, origin, data, e.cfg.UseBeacon)
	if err != nil {
		return 0, 0, nil, err
	}

	pid, err := e.spawner.Spawn(supervisor.SpawnRequest{
		MatchID:           matchID,
		Port:              port,
		BeaconPort:        beacon,
		Data:              data,
		RestPort:          e.cfg.RestPort,
		HeartbeatInterval: e.cfg.HeartbeatInterval,
		MaxUptime:         e.cfg.DefaultMaxUptime,
	})
	if err != nil {
		e.registry.RemoveReservation(matchID)
		// Only the game port came from the pool; the beacon port is its
		// implicit port+1 neighbour and is never pooled.
		e.registry.ReleasePort(port)
		telemetry.SpawnTotal.WithLabelValues("failure").Inc()
		return 0, 0, nil, apierrors.ErrSpawnFailure.WithDetails(err.Error())
	}
	telemetry.SpawnTotal.WithLabelValues("success").Inc()

	e.registry.AttachInstance(matchID, Instance{PID: pid, GamePort: port, BeaconPort: beacon})
	e.publishHostState()

	return port, beacon, rec.Ready, nil
}

// NotifyReady fulfils the create_match rendezvous for matchID: it marks
// the record Ready, releases any goroutine blocked on its ready_signal,
// and publishes the match's initial (empty) state, matching the
// original's ready_match handler which calls _update_match_state(id, {})
// immediately after notify_match_spawned.
func (e *Engine) NotifyReady(matchID string) error {
	sig := e.registry.MarkReady(matchID)
	if sig == nil {
		return apierrors.ErrMatchNotFound
	}
	e.publishHostState()
	e.UpdateMatchState(matchID, map[string]any{})
	return nil
}

// UpdateMatchState publishes matchID's child-reported game state to the
// registry client as {svr_id, state}, grounded on the original's
// _update_match_state. Unlike most engine operations this does not return
// an error for an unknown match_id: the original only logs and returns,
// so a late or duplicate state report after a match has already been
// reclaimed is silently dropped rather than surfaced to the caller.
func (e *Engine) UpdateMatchState(matchID string, state map[string]any) {
	if _, ok := e.registry.Get(matchID); !ok {
		e.logger.Error("update match state: match not found", "match_id", matchID)
		return
	}
	if e.publisher != nil {
		e.publisher.PublishMatchState(matchID, state)
	}
}

// WaitReady blocks the calling create_match request until the child
// reports ready or ctx is done. The engine itself imposes no timeout;
// callers bound ctx by their own transport deadline.
func (e *Engine) WaitReady(ctx context.Context, ready *Signal) error {
	select {
	case <-ready.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddUser buffers a late-joiner batch for matchID, to be drained by the
// child's next pending-users poll, and returns the batch's completion
// signal. Missing/null user_data entries are normalized to empty objects
// so the child never has to special-case a nil slot.
func (e *Engine) AddUser(matchID string, users []string, userData []map[string]any, matchData map[string]any) (*Signal, error) {
	normalized := make([]map[string]any, len(users))
	for i := range users {
		if i < len(userData) && userData[i] != nil {
			normalized[i] = userData[i]
		} else {
			normalized[i] = map[string]any{}
		}
	}

	completion := NewSignal()
	batch := &Batch{
		Users:      users,
		UserData:   normalized,
		MatchData:  matchData,
		Completion: completion,
	}
	if err := e.registry.AppendBatch(matchID, batch); err != nil {
		return nil, err
	}
	return completion, nil
}

// GetPendingUsers drains and returns every batch buffered for matchID
// since the last drain, firing each batch's completion signal so any
// synchronous add_user callers can return. Per invariant 4, draining is
// all-or-nothing: a child never observes a partial batch list. Callers at
// the HTTP boundary flatten the returned batches into the parallel
// (users, match_data_list) shape the wire contract specifies.
func (e *Engine) GetPendingUsers(matchID string) ([]*Batch, error) {
	if _, ok := e.registry.Get(matchID); !ok {
		return nil, apierrors.ErrMatchNotFound
	}
	batches := e.registry.DrainBatches(matchID)
	for _, b := range batches {
		b.Completion.Fire()
	}
	return batches, nil
}

// Heartbeat records that matchID's child is alive at time ts (server
// time is used, not the child's clock) and, when hasState is set (a
// POST /match/{id}/state/ report, whatever its body), promotes
// Ready -> Running.
func (e *Engine) Heartbeat(matchID string, ts int64, hasState bool) error {
	if _, ok := e.registry.Get(matchID); !ok {
		return apierrors.ErrMatchNotFound
	}
	e.registry.TouchHeartbeat(matchID, ts)
	if hasState {
		e.registry.MarkRunning(matchID)
	}
	return nil
}

// NotifyFinished implements supervisor.Lifecycle: it is called exactly
// once per spawned child under ordinary operation, whether the child
// exited on its own or was force-killed by the uptime watcher. It also
// tolerates a redundant second call (e.g. after the heartbeat monitor has
// already reclaimed the match) since Registry.Remove is a no-op on an
// absent match_id.
//
// For the reserved version-probe match it only releases the probe signal
// and returns, per invariant 6.
func (e *Engine) NotifyFinished(matchID string) {
	if matchID == NullMatchID {
		if e.versionProbe != nil {
			e.versionProbe.Fire()
		}
		return
	}

	port, _, batches, ok := e.registry.Remove(matchID)
	if !ok {
		return
	}
	e.registry.ReleasePort(port)
	for _, b := range batches {
		b.Completion.Fire()
	}
	e.logger.Info("match finished", "match_id", matchID, "port", port)
	if e.publisher != nil {
		e.publisher.PublishMatchFinished(matchID)
	}
	e.publishHostState()
}

// RunHeartbeatMonitor polls the registry every HeartbeatInterval and
// treats any match whose last heartbeat is older than
// HeartbeatInterval*2.5 as if its child had already exited: it kills the
// underlying process (best-effort) and reclaims the match immediately
// rather than waiting for the exit watcher, which may later deliver a
// redundant, harmless NotifyFinished for the same match_id.
func (e *Engine) RunHeartbeatMonitor(ctx context.Context) {
	if e.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepHeartbeats()
		}
	}
}

func (e *Engine) sweepHeartbeats() {
	timeout := time.Duration(float64(e.cfg.HeartbeatInterval) * heartbeatTimeoutFactor)
	now := time.Now().Unix()
	deadlines := e.registry.HeartbeatDeadlines()
	for matchID, last := range deadlines {
		if now-last <= int64(timeout.Seconds()) {
			continue
		}
		rec, ok := e.registry.Get(matchID)
		if !ok {
			continue
		}
		e.logger.Warn("heartbeat timeout, reclaiming match", "match_id", matchID, "last_heartbeat", last)
		telemetry.HeartbeatTimeoutsTotal.Inc()
		if rec.Instance.PID > 0 {
			_ = supervisor.Kill(rec.Instance.PID)
		}
		e.NotifyFinished(matchID)
	}
}

func (e *Engine) publishHostState() {
	telemetry.ActiveMatches.Set(float64(e.registry.ActiveCount()))
	telemetry.FreePorts.Set(float64(e.registry.FreePorts()))

	if e.publisher == nil {
		return
	}
	if !e.versionSet && e.cfg.ServerVersion == "" {
		return
	}
	e.publisher.PublishHostState(e.registry.SnapshotInstances())
}

// ---- version probe ----
//
// The version probe is a reserved, synthetic "match" (id NullMatchID)
// used at startup to confirm the configured dedicated-server binary
// actually runs and reports its version before the host starts accepting
// real traffic. It deliberately bypasses the registry's Reserve/Remove
// path (invariant 6): it borrows the pool's tail port without popping it,
// since a probe server never competes with real matches for capacity. No
// host state is published until a version has been set.

// CheckVersion spawns the probe server on the pool's tail port, passing
// "-FunapiVersion" as its sole launch argument and a 30s uptime cap, and
// blocks until either the probe reports its version via SetVersion or ctx
// is done. Callers should bound ctx to 30 seconds.
func (e *Engine) CheckVersion(ctx context.Context) (string, error) {
	port := e.registry.TailPort()
	if port == 0 {
		return "", apierrors.ErrCapacityExceeded
	}

	e.versionProbe = NewSignal()
	e.probeVersion = ""

	_, err := e.spawner.Spawn(supervisor.SpawnRequest{
		MatchID:   NullMatchID,
		Port:      port,
		Data:      map[string]any{"args": []string{"-FunapiVersion"}},
		MaxUptime: 30 * time.Second,
	})
	if err != nil {
		return "", apierrors.ErrSpawnFailure.WithDetails(err.Error())
	}

	select {
	case <-e.versionProbe.C():
		return e.probeVersion, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SetVersion is called by the probe server's own version-report callback
// and releases CheckVersion's waiter. It fails on a second call, per the
// version probe's one-shot contract.
func (e *Engine) SetVersion(version string) error {
	if e.versionSet {
		return apierrors.ErrInternal.WithMessage("version already set")
	}
	e.versionSet = true
	e.probeVersion = version
	e.cfg.ServerVersion = version
	if e.publisher != nil {
		e.publisher.SetServerVersion(version)
	}
	if e.versionProbe != nil {
		e.versionProbe.Fire()
	}
	return nil
}
