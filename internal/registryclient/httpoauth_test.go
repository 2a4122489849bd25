package registryclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOAuthTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *httptest.Server) {
	t.Helper()
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"test-token","token_type":"bearer","expires_in":3600}`))
	}))
	t.Cleanup(tokenSrv.Close)

	apiSrv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(apiSrv.Close)
	return tokenSrv, apiSrv
}

func TestHTTPClient_PutHostPostsToEscapedHostPath(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	tokenSrv, apiSrv := newOAuthTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})

	client := NewHTTPClient(HTTPConfig{
		BaseURL:  apiSrv.URL,
		TokenURL: tokenSrv.URL,
		ClientID: "id", ClientSecret: "secret",
		Timeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.PutHost(ctx, "host one", []byte(`{}`)))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/host/host%20one/", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
}

func TestHTTPClient_DeleteMatchUsesDeleteVerb(t *testing.T) {
	var gotMethod, gotPath string
	tokenSrv, apiSrv := newOAuthTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	client := NewHTTPClient(HTTPConfig{BaseURL: apiSrv.URL, TokenURL: tokenSrv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.DeleteMatch(ctx, "match-1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/match/match-1/", gotPath)
}

func TestHTTPClient_NonSuccessStatusIsError(t *testing.T) {
	tokenSrv, apiSrv := newOAuthTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client := NewHTTPClient(HTTPConfig{BaseURL: apiSrv.URL, TokenURL: tokenSrv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, client.PutMatch(ctx, "match-1", []byte(`{}`)))
}
