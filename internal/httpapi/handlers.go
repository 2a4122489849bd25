package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iFunFactory/dshostd/internal/apierrors"
	"github.com/iFunFactory/dshostd/internal/apiresponse"
	"github.com/iFunFactory/dshostd/internal/callback"
	"github.com/iFunFactory/dshostd/internal/match"
)

type handlers struct {
	engine     *match.Engine
	callback   *callback.Client
	resolver   callback.Resolver
	observer   *callback.FallbackResolver // non-nil only when resolver is a *FallbackResolver
	logger     *slog.Logger
	createWait time.Duration
	publicIP   string
}

// createOrAddUser implements POST/PUT /match/{id}/. POST creates a new
// match and blocks (bounded by createWait) until the child reports ready;
// PUT buffers an add_user batch for an existing match and blocks until
// the child drains it or the request's own context expires.
func (h *handlers) createOrAddUser(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")

	var body struct {
		Args      []string         `json:"args"`
		Port      int              `json:"port"`
		Users     []string         `json:"users"`
		UserData  []map[string]any `json:"user_data"`
		MatchData map[string]any   `json:"match_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err.Error() != "EOF" {
		apiresponse.Error(w, apierrors.ErrInvalidRequest.WithDetails(err.Error()))
		return
	}

	if r.Method == http.MethodPost {
		data := map[string]any{
			"args":       body.Args,
			"port":       body.Port,
			"match_data": body.MatchData,
		}
		port, _, ready, err := h.engine.CreateMatch(matchID, hostOf(r), data)
		if err != nil {
			apiresponse.Error(w, err)
			return
		}
		if h.observer != nil {
			h.observer.Observe(callback.Origin{Host: hostOf(r), Port: body.Port})
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.createWait)
		defer cancel()
		if err := h.engine.WaitReady(ctx, ready); err != nil {
			apiresponse.Error(w, apierrors.ErrInternal.WithMessage("timed out waiting for match to become ready"))
			return
		}

		apiresponse.OK(w, map[string]any{"host": h.publicHost(), "port": port})
		return
	}

	completion, err := h.engine.AddUser(matchID, body.Users, body.UserData, body.MatchData)
	if err != nil {
		apiresponse.Error(w, err)
		return
	}
	select {
	case <-completion.C():
	case <-r.Context().Done():
		apiresponse.Error(w, apierrors.ErrInternal.WithMessage("request cancelled while waiting for drain"))
		return
	}
	apiresponse.OK(w, map[string]any{"host": h.publicHost()})
}

// getMatchData implements GET /match/{id}/.
func (h *handlers) getMatchData(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	data, ok := h.engine.Registry().GetData(matchID)
	if !ok {
		apiresponse.Error(w, apierrors.ErrMatchNotFound)
		return
	}
	apiresponse.OK(w, map[string]any{"data": data})
}

// ready implements POST /match/{id}/ready.
func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	if err := h.engine.NotifyReady(matchID); err != nil {
		apiresponse.Error(w, err)
		return
	}
	apiresponse.OK(w, nil)
}

// heartbeat implements POST /match/{id}/heartbeat/.
func (h *handlers) heartbeat(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	if err := h.engine.Heartbeat(matchID, time.Now().Unix(), false); err != nil {
		apiresponse.Error(w, err)
		return
	}
	apiresponse.OK(w, nil)
}

// state implements POST /match/{id}/state/: a child-reported game state
// update, which also promotes the match Ready -> Running and is pushed to
// the registry as the match's {svr_id, state} blob (original
// _update_match_state).
func (h *handlers) state(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	if err := h.engine.Heartbeat(matchID, time.Now().Unix(), true); err != nil {
		apiresponse.Error(w, err)
		return
	}

	var payload map[string]any
	_ = json.NewDecoder(r.Body).Decode(&payload)
	h.engine.UpdateMatchState(matchID, payload)
	apiresponse.OK(w, nil)
}

// result implements POST /match/{id}/result/, forwarding the payload to
// the backend. Forwarding failures bubble up as 500 so the child may retry.
func (h *handlers) result(w http.ResponseWriter, r *http.Request) {
	h.forwardToBackend(w, r, func(ctx context.Context, origin callback.Origin, matchID string, payload map[string]any) error {
		return h.callback.MatchResult(ctx, origin, matchID, payload)
	})
}

// engineCallback implements POST /match/{id}/callback/, forwarding an
// arbitrary payload to the backend's generic callback endpoint.
func (h *handlers) engineCallback(w http.ResponseWriter, r *http.Request) {
	h.forwardToBackend(w, r, func(ctx context.Context, origin callback.Origin, matchID string, payload map[string]any) error {
		return h.callback.EngineCallback(ctx, origin, matchID, "callback/", payload)
	})
}

func (h *handlers) forwardToBackend(w http.ResponseWriter, r *http.Request, send func(context.Context, callback.Origin, string, map[string]any) error) {
	matchID := chi.URLParam(r, "matchID")

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && err.Error() != "EOF" {
		apiresponse.Error(w, apierrors.ErrInvalidRequest)
		return
	}

	origin, ok := h.resolver.Resolve(matchID)
	if !ok {
		apiresponse.Error(w, apierrors.ErrBackendUnreachable)
		return
	}

	if err := send(r.Context(), origin, matchID, payload); err != nil {
		h.logger.Error("backend callback failed", "match_id", matchID, "err", err)
		apiresponse.Error(w, apierrors.ErrBackendUnreachable)
		return
	}
	apiresponse.OK(w, nil)
}

// pendingUsers implements POST /match/{id}/pending_users/: the child's
// drain operation.
func (h *handlers) pendingUsers(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	batches, err := h.engine.GetPendingUsers(matchID)
	if err != nil {
		apiresponse.Error(w, err)
		return
	}
	if len(batches) == 0 {
		apiresponse.OK(w, nil)
		return
	}

	var users []string
	var userData []map[string]any
	var matchDataList []map[string]any
	for _, b := range batches {
		users = append(users, b.Users...)
		userData = append(userData, b.UserData...)
		matchDataList = append(matchDataList, b.MatchData)
	}

	apiresponse.OK(w, map[string]any{
		"users":      users,
		"user_data":  userData,
		"match_data": matchDataList,
	})
}

// userJoined implements POST /match/{id}/joined/, forwarding to the
// backend's user_joined callback.
func (h *handlers) userJoined(w http.ResponseWriter, r *http.Request) {
	h.forwardUser(w, r, func(ctx context.Context, origin callback.Origin, matchID, uid string) error {
		return h.callback.UserJoined(ctx, origin, matchID, uid)
	})
}

// userLeft implements POST /match/{id}/left/, forwarding to the backend's
// user_left callback.
func (h *handlers) userLeft(w http.ResponseWriter, r *http.Request) {
	h.forwardUser(w, r, func(ctx context.Context, origin callback.Origin, matchID, uid string) error {
		return h.callback.UserLeft(ctx, origin, matchID, uid)
	})
}

func (h *handlers) forwardUser(w http.ResponseWriter, r *http.Request, send func(context.Context, callback.Origin, string, string) error) {
	matchID := chi.URLParam(r, "matchID")

	var body struct {
		UID string `json:"uid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apiresponse.Error(w, apierrors.ErrInvalidRequest)
		return
	}

	origin, ok := h.resolver.Resolve(matchID)
	if !ok {
		apiresponse.Error(w, apierrors.ErrBackendUnreachable)
		return
	}

	if err := send(r.Context(), origin, matchID, body.UID); err != nil {
		h.logger.Warn("user callback failed", "match_id", matchID, "err", err)
	}
	apiresponse.OK(w, nil)
}

// serverVersion implements POST /server/version/: the version-probe
// child reports its version here exactly once.
func (h *handlers) serverVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apiresponse.Error(w, apierrors.ErrInvalidRequest)
		return
	}
	if err := h.engine.SetVersion(body.Version); err != nil {
		apiresponse.Error(w, err)
		return
	}
	apiresponse.JSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (h *handlers) publicHost() string {
	return h.publicIP
}

func hostOf(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
