package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/iFunFactory/dshostd/internal/apierrors"
	"github.com/iFunFactory/dshostd/internal/apiresponse"
)

type contextKey string

const bearerTokenKey contextKey = "bearer_token"

// TokenValidator verifies a bearer token, returning an error if it is
// invalid or expired. A nil validator disables bearer verification
// entirely (matching the original's token_endpoint-unset bypass).
type TokenValidator func(ctx context.Context, token string) error

// RequireBearer enforces a valid "Authorization: Bearer <token>" header on
// backend-facing routes (create_match and add_user, i.e. POST/PUT
// /match/{id}/). When validator is nil every request passes through unchecked,
// matching the original behavior of skipping auth when no token endpoint
// is configured.
func RequireBearer(validator TokenValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validator == nil {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
				apiresponse.Error(w, apierrors.ErrUnauthorized.WithMessage("requires access token"))
				return
			}
			token := auth[7:]

			if err := validator(r.Context(), token); err != nil {
				apiresponse.Error(w, apierrors.ErrUnauthorized.WithMessage("requires valid bearer token"))
				return
			}

			ctx := context.WithValue(r.Context(), bearerTokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireLocalhost restricts a route to callers connecting from
// 127.0.0.1/::1, matching the original from_localhost decorator used on
// every route the spawned child itself calls (match data, ready,
// heartbeat, state, pending_users, result/callback, joined/left, version).
func RequireLocalhost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			apiresponse.Error(w, apierrors.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
