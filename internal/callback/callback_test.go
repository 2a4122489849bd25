package callback

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func TestClient_UserJoinedURLHasTrailingSlash(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	if err := c.UserJoined(context.Background(), Origin{}, "match-1", "alice"); err != nil {
		t.Fatalf("UserJoined: %v", err)
	}
	want := "/match-1/user_joined/alice/"
	if gotPath != want {
		t.Fatalf("expected path %q, got %q", want, gotPath)
	}
}

func TestClient_UserLeftURLHasNoTrailingSlash(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	if err := c.UserLeft(context.Background(), Origin{}, "match-1", "alice"); err != nil {
		t.Fatalf("UserLeft: %v", err)
	}
	want := "/match-1/user_left/alice"
	if gotPath != want {
		t.Fatalf("expected path %q (no trailing slash), got %q", want, gotPath)
	}
}

func TestClient_AddressesPerMatchOriginWhenNoGlobalURL(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New("", time.Second, nil)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	if err := c.MatchResult(context.Background(), Origin{Host: host, Port: port}, "match-9", map[string]any{"winner": "alice"}); err != nil {
		t.Fatalf("MatchResult: %v", err)
	}
	want := "/v1/dedicated_server/match-9/result/"
	if gotPath != want {
		t.Fatalf("expected path %q, got %q", want, gotPath)
	}
}

type fakeAuthSource struct {
	header string
	err    error
}

func (f fakeAuthSource) AuthHeader(ctx context.Context) (string, error) {
	return f.header, f.err
}

func TestClient_AttachesAuthHeaderWhenConfigured(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	c.Auth = fakeAuthSource{header: "Bearer abc123"}
	if err := c.UserJoined(context.Background(), Origin{}, "match-1", "alice"); err != nil {
		t.Fatalf("UserJoined: %v", err)
	}
	if gotAuth != "Bearer abc123" {
		t.Fatalf("expected Authorization header to be attached, got %q", gotAuth)
	}
}

func TestClient_NoAuthHeaderWhenAuthSourceNil(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	if err := c.UserJoined(context.Background(), Origin{}, "match-1", "alice"); err != nil {
		t.Fatalf("UserJoined: %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("expected no Authorization header without an Auth source, got %q", gotAuth)
	}
}

func TestClient_NonSuccessStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	if err := c.UserJoined(context.Background(), Origin{}, "match-1", "alice"); err == nil {
		t.Fatalf("expected a 500 response to surface as an error")
	}
}
