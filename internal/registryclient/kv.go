package registryclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Well-known hash keys the host-state and match-state variants of the
// registry use, mirroring the two top-level keys the original backend
// kept in its shared key/value store.
const (
	hostsHashKey   = "ife-dedi-hosts"
	matchesHashKey = "ife-dedi-matches"
)

// KVConfig configures the Redis-backed registry client.
type KVConfig struct {
	Addr     string
	Password string
	DB       int
}

// KVClient is a Redis-backed Client: host and match state are stored as
// fields of two well-known hashes, one entry per host/match id, so a
// single GET of either hash gives any reader the full fleet snapshot.
type KVClient struct {
	rdb *redis.Client
}

// NewKVClient dials Redis and verifies connectivity with a bounded ping.
func NewKVClient(cfg KVConfig) (*KVClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to registry redis: %w", err)
	}

	return &KVClient{rdb: rdb}, nil
}

// PutHost upserts the host's serialized state into the hosts hash.
func (c *KVClient) PutHost(ctx context.Context, hostID string, state []byte) error {
	return c.rdb.HSet(ctx, hostsHashKey, hostID, state).Err()
}

// PutMatch upserts a match's serialized state into the matches hash.
func (c *KVClient) PutMatch(ctx context.Context, matchID string, state []byte) error {
	return c.rdb.HSet(ctx, matchesHashKey, matchID, state).Err()
}

// DeleteMatch removes matchID's field from the matches hash.
func (c *KVClient) DeleteMatch(ctx context.Context, matchID string) error {
	return c.rdb.HDel(ctx, matchesHashKey, matchID).Err()
}

// Close releases the underlying Redis connection pool.
func (c *KVClient) Close() error {
	return c.rdb.Close()
}

// AuthHeader returns "", nil: the Redis-backed registry carries no
// credential for the engine callback client to reuse.
func (c *KVClient) AuthHeader(ctx context.Context) (string, error) {
	return "", nil
}
