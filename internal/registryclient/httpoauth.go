package registryclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// HTTPConfig configures the OAuth2/REST-backed registry client: a
// client-credentials flow obtains a bearer token, cached and refreshed
// automatically by the oauth2 token source once it is within the oauth2
// package's default 10s expiry margin (no longer margin is configured
// here), and state is POST/DELETEd
// against the registry's host/{id}/ and match/{id}/ endpoints under
// BaseURL.
type HTTPConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// HTTPClient is an HTTP/OAuth2-backed Client, used when the deployment's
// registry of record is a REST service rather than a shared Redis
// instance (e.g. a managed matchmaking control plane).
type HTTPClient struct {
	baseURL string
	hc      *http.Client
	ts      oauth2.TokenSource
}

// NewHTTPClient builds the client-credentials oauth2.TokenSource and wraps
// it in an *http.Client that attaches a fresh bearer token to every
// request automatically. The same token source backs AuthHeader, so the
// engine callback client can reuse this backend's credential instead of
// going out unauthenticated.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	ccCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	base := &http.Client{Timeout: timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	ts := ccCfg.TokenSource(ctx)

	return &HTTPClient{
		baseURL: cfg.BaseURL,
		hc:      oauth2.NewClient(ctx, ts),
		ts:      ts,
	}
}

// AuthHeader returns the current client-credentials bearer token as an
// Authorization header value, refreshing it via the cached TokenSource
// when it has expired (the same token this client attaches to its own
// PutHost/PutMatch/DeleteMatch requests).
func (c *HTTPClient) AuthHeader(ctx context.Context) (string, error) {
	tok, err := c.ts.Token()
	if err != nil {
		return "", fmt.Errorf("fetch registry auth token: %w", err)
	}
	return tok.Type() + " " + tok.AccessToken, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("registry returned status %d", resp.StatusCode)
	}
	return nil
}

// PutHost issues POST /host/{url-escaped hostID}/ with state as the JSON body.
func (c *HTTPClient) PutHost(ctx context.Context, hostID string, state []byte) error {
	return c.do(ctx, http.MethodPost, "/host/"+url.PathEscape(hostID)+"/", state)
}

// PutMatch issues POST /match/{matchID}/ with state as the JSON body.
func (c *HTTPClient) PutMatch(ctx context.Context, matchID string, state []byte) error {
	return c.do(ctx, http.MethodPost, "/match/"+url.PathEscape(matchID)+"/", state)
}

// DeleteMatch issues DELETE /match/{matchID}/.
func (c *HTTPClient) DeleteMatch(ctx context.Context, matchID string) error {
	return c.do(ctx, http.MethodDelete, "/match/"+url.PathEscape(matchID)+"/", nil)
}
