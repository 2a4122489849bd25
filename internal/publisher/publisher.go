// Package publisher periodically and eagerly pushes host (and per-match)
// state to an external registry of record, retrying transient failures
// with exponential backoff and never surfacing registry errors to the
// match lifecycle engine — publication is fail-soft by design.
package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/iFunFactory/dshostd/internal/match"
	"github.com/iFunFactory/dshostd/internal/registryclient"
	"github.com/iFunFactory/dshostd/internal/telemetry"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 16 * time.Second
	republishEvery = 30 * time.Second
)

// Config bundles the identity fields that go into every published
// HostState blob.
type Config struct {
	HostID        string
	PublicIP      string
	ServerVersion string
	InstanceID    string
	Region        string
	MaxMatches    int
}

// Publisher owns the registry client and republishes host state both on
// mutation (CreateMatch/NotifyFinished call PublishHostState directly)
// and on a fixed 30s timer, in case a prior publish attempt was dropped.
type Publisher struct {
	cfg    Config
	client registryclient.Client
	logger *slog.Logger

	mu       sync.Mutex
	lastSent map[string]match.HostMatchEntry
	backoff  time.Duration
}

// New constructs a Publisher. logger defaults to slog.Default() when nil.
func New(cfg Config, client registryclient.Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:     cfg,
		client:  client,
		logger:  logger,
		backoff: initialBackoff,
	}
}

// SetServerVersion records the dedicated-server binary's confirmed version
// (set once, at startup, after the version probe reports in) so every
// subsequent PublishHostState call carries it. Safe for concurrent use
// with PublishHostState/Run.
func (p *Publisher) SetServerVersion(version string) {
	p.mu.Lock()
	p.cfg.ServerVersion = version
	p.mu.Unlock()
}

func (p *Publisher) serverVersion() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.ServerVersion
}

// PublishHostState pushes the given match snapshot as this host's current
// state. Failures are logged and retried with exponential backoff in the
// background; the call itself never blocks the caller on network I/O
// beyond firing the first attempt.
func (p *Publisher) PublishHostState(snapshot map[string]match.HostMatchEntry) {
	p.mu.Lock()
	p.lastSent = snapshot
	p.mu.Unlock()

	go p.publishOnce(snapshot)
}

// Run republishes the last known host state every 30s until ctx is done.
// Nothing is republished until PublishHostState has supplied a first
// snapshot. Each republish retries until it succeeds, so while the
// registry is failing the next tick waits for that success.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(republishEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			snapshot := p.lastSent
			p.mu.Unlock()
			if snapshot == nil {
				continue
			}
			p.publishOnce(snapshot)
		}
	}
}

// publishOnce publishes snapshot, retrying with backoff until it succeeds;
// each attempt is bounded by retry's per-attempt timeout so a wedged
// registry cannot hang a single attempt.
func (p *Publisher) publishOnce(snapshot map[string]match.HostMatchEntry) {
	state := match.HostState{
		Matches:       snapshot,
		MaxMatches:    p.cfg.MaxMatches,
		Timestamp:     time.Now().Unix(),
		PublicIP:      p.cfg.PublicIP,
		ServerVersion: p.serverVersion(),
		InstanceID:    p.cfg.InstanceID,
		Region:        p.cfg.Region,
	}

	body, err := json.Marshal(state)
	if err != nil {
		p.logger.Error("marshal host state", "err", err)
		return
	}

	p.retry("publish host state failed, retrying", nil, func(ctx context.Context) error {
		return p.client.PutHost(ctx, p.cfg.HostID, body)
	})
}

// PublishMatchFinished deletes matchID's entry from the registry,
// retrying with the same backoff policy as host-state publication.
func (p *Publisher) PublishMatchFinished(matchID string) {
	go p.retry("publish match deletion failed, retrying", []any{"match_id", matchID}, func(ctx context.Context) error {
		return p.client.DeleteMatch(ctx, matchID)
	})
}

// PublishMatchState pushes a single match's child-reported state to the
// registry as {svr_id, state}, retrying with the same backoff policy. It
// is used both for the empty {} state a match publishes the moment it
// becomes ready and for every subsequent game-state update the child
// reports.
func (p *Publisher) PublishMatchState(matchID string, state map[string]any) {
	body, err := json.Marshal(map[string]any{
		"svr_id": p.cfg.HostID,
		"state":  state,
	})
	if err != nil {
		p.logger.Error("marshal match state", "match_id", matchID, "err", err)
		return
	}

	go p.retry("publish match state failed, retrying", []any{"match_id", matchID}, func(ctx context.Context) error {
		return p.client.PutMatch(ctx, matchID, body)
	})
}

// retry runs op with a 5s per-attempt timeout, retrying with the package's
// exponential backoff (1s doubling to a 16s cap) until it succeeds. extra
// is appended to the retry warning's log fields.
func (p *Publisher) retry(warnMsg string, extra []any, op func(ctx context.Context) error) {
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := op(ctx)
		cancel()
		if err == nil {
			return
		}

		fields := append([]any{"attempt", attempt, "backoff", backoff, "err", err}, extra...)
		p.logger.Warn(warnMsg, fields...)
		telemetry.PublishRetriesTotal.Inc()

		timer := time.NewTimer(backoff)
		<-timer.C
		timer.Stop()

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
