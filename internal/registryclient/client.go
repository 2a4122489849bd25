// Package registryclient defines the pluggable interface the publisher
// uses to persist host/match state to an external registry, plus two
// concrete implementations: a Redis-backed key/value store (kv.go) and an
// HTTP/OAuth2 client-credentials backed REST registry (httpoauth.go).
package registryclient

import "context"

// Client is the minimal surface the publisher needs. Implementations must
// be safe for concurrent use; the publisher calls PutHost from its
// republish ticker and PutMatch/DeleteMatch from per-match mutation
// hooks, all without external synchronization.
type Client interface {
	// PutHost upserts the host's state blob, keyed by hostID.
	PutHost(ctx context.Context, hostID string, state []byte) error
	// PutMatch upserts a single match's state blob, keyed by matchID.
	PutMatch(ctx context.Context, matchID string, state []byte) error
	// DeleteMatch removes a match's entry, called once a match finishes.
	DeleteMatch(ctx context.Context, matchID string) error
	// AuthHeader returns the Authorization header value this backend wants
	// attached to outbound engine callbacks, or "" when none is needed.
	AuthHeader(ctx context.Context) (string, error)
}
