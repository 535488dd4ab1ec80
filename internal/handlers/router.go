package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/ukydev/fleet-replay/internal/middleware"
	"github.com/ukydev/fleet-replay/internal/models"
)

// RouterConfig holds everything NewRouter mounts. Stream and Metrics are
// optional.
type RouterConfig struct {
	Auth         *middleware.AuthMiddleware
	AuthHandler  *AuthHandler
	Playback     *PlaybackHandler
	LoginLimiter *middleware.RateLimiter
	Stream       http.Handler
	Metrics      http.Handler
}

// NewRouter builds the HTTP surface of the replay service
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(cfg.Auth.Authenticate)

	r.Get("/health", Health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	login := http.Handler(http.HandlerFunc(cfg.AuthHandler.Login))
	if cfg.LoginLimiter != nil {
		login = cfg.LoginLimiter.Limit(login)
	}
	r.Method(http.MethodPost, "/api/auth/login", login)
	r.Get("/api/auth/me", cfg.AuthHandler.Me)

	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth.RequirePermission(models.ActionViewFleet))
		r.Get("/api/fleet", cfg.Playback.Fleet)
		r.Get("/api/trips/{id}", cfg.Playback.Trip)
		r.Get("/api/events", cfg.Playback.Events)
		if cfg.Stream != nil {
			r.Method(http.MethodGet, "/api/stream", cfg.Stream)
		}
	})

	r.Route("/api/playback", func(r chi.Router) {
		r.Use(cfg.Auth.RequirePermission(models.ActionControlPlayback))
		r.Post("/play", cfg.Playback.Play)
		r.Post("/pause", cfg.Playback.Pause)
		r.Post("/reset", cfg.Playback.Reset)
		r.Post("/skip", cfg.Playback.Skip)
		r.Post("/speed", cfg.Playback.Speed)
	})

	return r
}

// Health reports liveness
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
