// Package httpapi wires the host agent's REST surface: the backend-facing
// match lifecycle routes (create/add-user) and the child-facing routes a
// spawned dedicated server calls back into (ready, heartbeat, state,
// pending users, result/callback, version report).
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iFunFactory/dshostd/internal/callback"
	"github.com/iFunFactory/dshostd/internal/httpapi/middleware"
	"github.com/iFunFactory/dshostd/internal/match"
)

// Options configures the router's collaborators and policy knobs.
type Options struct {
	Engine      *match.Engine
	Callback    *callback.Client
	Resolver    callback.Resolver
	Logger      *slog.Logger
	BearerAuth  middleware.TokenValidator // nil disables bearer enforcement
	AllowedCORS []string
	CreateWait  time.Duration // bound on how long POST /match/{id}/ waits for ready
	PublicIP    string
}

// NewRouter builds the full chi.Router for the agent.
func NewRouter(opts Options) chi.Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CreateWait <= 0 {
		opts.CreateWait = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(opts.Logger))
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(opts.AllowedCORS))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	h := &handlers{
		engine:     opts.Engine,
		callback:   opts.Callback,
		resolver:   opts.Resolver,
		logger:     opts.Logger,
		createWait: opts.CreateWait,
		publicIP:   opts.PublicIP,
	}
	if fr, ok := opts.Resolver.(*callback.FallbackResolver); ok {
		h.observer = fr
	}

	r.Get("/", h.index)
	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/match/{matchID}", func(r chi.Router) {
		// backend-facing: requires a valid bearer token when configured.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireBearer(opts.BearerAuth))
			r.Post("/", h.createOrAddUser)
			r.Put("/", h.createOrAddUser)
		})

		// child-facing: restricted to callers on loopback.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireLocalhost)
			r.Get("/", h.getMatchData)
			r.Post("/ready", h.ready)
			r.Post("/heartbeat/", h.heartbeat)
			r.Post("/state/", h.state)
			r.Post("/result/", h.result)
			r.Post("/callback/", h.engineCallback)
			r.Post("/pending_users/", h.pendingUsers)
			r.Post("/joined/", h.userJoined)
			r.Post("/left/", h.userLeft)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireLocalhost)
		r.Post("/server/version/", h.serverVersion)
	})

	return r
}

func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK"))
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
