// Package callback implements the HTTP client the host agent uses to call
// back into the game backend that created a match: user_joined,
// user_left, match_result and a generic engine_callback passthrough.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/iFunFactory/dshostd/internal/match"
)

// Origin is the (host, port) a callback should be addressed to.
type Origin = match.Origin

// Resolver picks the origin to address a given match's callbacks to (a
// configured Client.GlobalURL overrides the origin when the URL is built).
// The default resolver, FallbackResolver, returns the match's own recorded
// origin, and — when that origin is unknown — the last origin observed
// for any match on this host, including one that has since finished.
// That last fallback is fragile (a single other match's backend
// may not actually be reachable from this match's perspective) but
// mirrors behavior the original coordination layer depended on, so it is
// preserved here rather than "fixed".
type Resolver interface {
	Resolve(matchID string) (Origin, bool)
}

// AuthSource supplies the Authorization header value the registry client
// is configured with, if any, so engine callbacks reuse the same
// credential rather than going out unauthenticated. registryclient.Client
// satisfies this directly via its AuthHeader method.
type AuthSource interface {
	AuthHeader(ctx context.Context) (string, error)
}

// Client posts engine callbacks over HTTP. One Client is shared by every
// match on a host.
type Client struct {
	GlobalURL string // when set, every callback is addressed here instead of per-match origin
	HTTP      *http.Client
	Logger    *slog.Logger
	Auth      AuthSource // nil when the registry backend has no credential to share
}

// New builds a Client with a bounded per-request timeout.
func New(globalURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		GlobalURL: globalURL,
		HTTP:      &http.Client{Timeout: timeout},
		Logger:    logger,
	}
}

// engineURL builds the full callback URL for matchID/suffix. When GlobalURL
// is configured, the path is "{match_id}/{suffix}" rooted at it; otherwise
// it is "v1/dedicated_server/{match_id}/{suffix}" rooted at the origin
// resolved for matchID.
func (c *Client) engineURL(origin Origin, matchID, suffix string) string {
	if c.GlobalURL != "" {
		return strings.TrimRight(c.GlobalURL, "/") + "/" + matchID + "/" + suffix
	}
	base := fmt.Sprintf("http://%s:%d/v1/dedicated_server/%s/", origin.Host, origin.Port, matchID)
	return base + suffix
}

func (c *Client) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyAuthHeader(ctx, req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback %s returned status %d", url, resp.StatusCode)
	}
	return nil
}

// applyAuthHeader attaches the registry client's Authorization header, if
// configured, to an outbound engine callback. A failure to fetch the
// header is logged and otherwise ignored: the callback still goes out,
// matching the original's fail-soft treatment of the registry client.
func (c *Client) applyAuthHeader(ctx context.Context, req *http.Request) {
	if c.Auth == nil {
		return
	}
	header, err := c.Auth.AuthHeader(ctx)
	if err != nil {
		c.Logger.Warn("fetch registry auth header failed", "err", err)
		return
	}
	if header != "" {
		req.Header.Set("Authorization", header)
	}
}

// UserJoined notifies the backend a user entered matchID, at
// user_joined/{uid}/.
func (c *Client) UserJoined(ctx context.Context, origin Origin, matchID, userID string) error {
	url := c.engineURL(origin, matchID, "user_joined/"+userID+"/")
	return c.post(ctx, url, map[string]string{"user_id": userID})
}

// UserLeft notifies the backend a user left matchID, at user_left/{uid}.
//
// Note: unlike UserJoined, this suffix carries no trailing slash after the
// uid segment — a long-standing asymmetry in the callback contract that
// backends already depend on; changing it would break existing
// integrations, so it is kept exactly as-is.
func (c *Client) UserLeft(ctx context.Context, origin Origin, matchID, userID string) error {
	url := c.engineURL(origin, matchID, "user_left/"+userID)
	return c.post(ctx, url, map[string]string{"user_id": userID})
}

// MatchResult reports final match outcome data to the backend.
func (c *Client) MatchResult(ctx context.Context, origin Origin, matchID string, result map[string]any) error {
	url := c.engineURL(origin, matchID, "result/")
	return c.post(ctx, url, result)
}

// EngineCallback forwards an arbitrary child-originated callback payload
// to the backend at a caller-supplied relative suffix, for engine-specific
// hooks neither UserJoined/UserLeft/MatchResult anticipate.
func (c *Client) EngineCallback(ctx context.Context, origin Origin, matchID, suffix string, payload map[string]any) error {
	url := c.engineURL(origin, matchID, suffix)
	return c.post(ctx, url, payload)
}
