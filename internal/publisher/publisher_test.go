package publisher

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/iFunFactory/dshostd/internal/match"
)

// fakeClient is a registryclient.Client test double that records every
// call and can be configured to fail a fixed number of times before
// succeeding, to exercise the retry/backoff path without a real registry.
type fakeClient struct {
	mu sync.Mutex

	putHostFailures int
	putHostCalls    [][]byte

	deleteMatchFailures int
	deleteMatchCalls    []string

	putMatchFailures int
	putMatchCalls    []putMatchCall
}

type putMatchCall struct {
	matchID string
	state   []byte
}

func (f *fakeClient) PutHost(ctx context.Context, hostID string, state []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putHostCalls = append(f.putHostCalls, state)
	if f.putHostFailures > 0 {
		f.putHostFailures--
		return context.DeadlineExceeded
	}
	return nil
}

func (f *fakeClient) PutMatch(ctx context.Context, matchID string, state []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putMatchCalls = append(f.putMatchCalls, putMatchCall{matchID: matchID, state: state})
	if f.putMatchFailures > 0 {
		f.putMatchFailures--
		return context.DeadlineExceeded
	}
	return nil
}

func (f *fakeClient) DeleteMatch(ctx context.Context, matchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteMatchCalls = append(f.deleteMatchCalls, matchID)
	if f.deleteMatchFailures > 0 {
		f.deleteMatchFailures--
		return context.DeadlineExceeded
	}
	return nil
}

func (f *fakeClient) AuthHeader(ctx context.Context) (string, error) {
	return "", nil
}

func (f *fakeClient) snapshotPutHostCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.putHostCalls)
}

func (f *fakeClient) snapshotDeleteCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deleteMatchCalls))
	copy(out, f.deleteMatchCalls)
	return out
}

func (f *fakeClient) snapshotPutMatchCalls() []putMatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]putMatchCall, len(f.putMatchCalls))
	copy(out, f.putMatchCalls)
	return out
}

func TestPublisher_PublishHostStatePublishesImmediately(t *testing.T) {
	client := &fakeClient{}
	p := New(Config{HostID: "host-1", MaxMatches: 4}, client, nil)

	p.PublishHostState(map[string]match.HostMatchEntry{
		"match-1": {PID: 1, Port: 7500},
	})

	deadline := time.After(2 * time.Second)
	for client.snapshotPutHostCalls() == 0 {
		select {
		case <-deadline:
			t.Fatalf("expected PublishHostState to call PutHost")
		case <-time.After(10 * time.Millisecond):
		}
	}

	var state match.HostState
	client.mu.Lock()
	body := client.putHostCalls[0]
	client.mu.Unlock()
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatalf("unmarshal published state: %v", err)
	}
	if state.MaxMatches != 4 {
		t.Fatalf("expected max_matches=4 in the published state, got %d", state.MaxMatches)
	}
	if _, ok := state.Matches["match-1"]; !ok {
		t.Fatalf("expected match-1 present in the published snapshot")
	}
}

func TestPublisher_PublishHostStateRetriesOnFailure(t *testing.T) {
	client := &fakeClient{putHostFailures: 1}
	p := New(Config{HostID: "host-1"}, client, nil)

	p.PublishHostState(map[string]match.HostMatchEntry{})

	deadline := time.After(5 * time.Second)
	for client.snapshotPutHostCalls() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected a retried PutHost call after the first failure")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPublisher_PublishMatchFinishedDeletesWithRetry(t *testing.T) {
	client := &fakeClient{deleteMatchFailures: 1}
	p := New(Config{HostID: "host-1"}, client, nil)

	p.PublishMatchFinished("match-1")

	deadline := time.After(5 * time.Second)
	for len(client.snapshotDeleteCalls()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected DeleteMatch to be retried after the first failure")
		case <-time.After(10 * time.Millisecond):
		}
	}
	calls := client.snapshotDeleteCalls()
	if calls[0] != "match-1" || calls[1] != "match-1" {
		t.Fatalf("expected both delete attempts to target match-1, got %v", calls)
	}
}

func TestPublisher_PublishMatchStatePutsSvrIDAndState(t *testing.T) {
	client := &fakeClient{}
	p := New(Config{HostID: "host-1"}, client, nil)

	p.PublishMatchState("match-1", map[string]any{"round": float64(3)})

	deadline := time.After(2 * time.Second)
	for len(client.snapshotPutMatchCalls()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("expected PublishMatchState to call PutMatch")
		case <-time.After(10 * time.Millisecond):
		}
	}

	calls := client.snapshotPutMatchCalls()
	if calls[0].matchID != "match-1" {
		t.Fatalf("expected match-1, got %q", calls[0].matchID)
	}
	var body struct {
		SvrID string         `json:"svr_id"`
		State map[string]any `json:"state"`
	}
	if err := json.Unmarshal(calls[0].state, &body); err != nil {
		t.Fatalf("unmarshal published match state: %v", err)
	}
	if body.SvrID != "host-1" {
		t.Fatalf("expected svr_id=host-1, got %q", body.SvrID)
	}
	if body.State["round"] != float64(3) {
		t.Fatalf("expected state.round=3, got %v", body.State["round"])
	}
}

func TestPublisher_PublishMatchStateRetriesOnFailure(t *testing.T) {
	client := &fakeClient{putMatchFailures: 1}
	p := New(Config{HostID: "host-1"}, client, nil)

	p.PublishMatchState("match-1", map[string]any{})

	deadline := time.After(5 * time.Second)
	for len(client.snapshotPutMatchCalls()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected a retried PutMatch call after the first failure")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPublisher_SetServerVersionAppearsInNextPublish(t *testing.T) {
	client := &fakeClient{}
	p := New(Config{HostID: "host-1"}, client, nil)

	p.SetServerVersion("2.7.18")
	p.PublishHostState(map[string]match.HostMatchEntry{})

	deadline := time.After(2 * time.Second)
	for client.snapshotPutHostCalls() == 0 {
		select {
		case <-deadline:
			t.Fatalf("expected PublishHostState to call PutHost")
		case <-time.After(10 * time.Millisecond):
		}
	}

	var state match.HostState
	client.mu.Lock()
	body := client.putHostCalls[0]
	client.mu.Unlock()
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatalf("unmarshal published state: %v", err)
	}
	if state.ServerVersion != "2.7.18" {
		t.Fatalf("expected server_version=2.7.18, got %q", state.ServerVersion)
	}
}

func TestPublisher_RunStopsWhenContextDone(t *testing.T) {
	client := &fakeClient{}
	p := New(Config{HostID: "host-1"}, client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to return once ctx is cancelled")
	}
}
