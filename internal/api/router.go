// Package api exposes the REST session surface and mounts the websocket
// gateway alongside it.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tripweave/tripweave/internal/auth"
	"github.com/tripweave/tripweave/internal/gateway"
	"github.com/tripweave/tripweave/internal/resolver"
	"github.com/tripweave/tripweave/internal/sessions"
)

// Deps carries everything the router needs, injected by the composition
// root.
type Deps struct {
	Registry *sessions.Registry
	Resolver *resolver.Resolver
	Bridge   *gateway.Bridge
	Verifier auth.TokenVerifier
	Gateway  http.Handler
	Version  string
}

// NewRouter assembles the full HTTP surface.
func NewRouter(deps Deps) http.Handler {
	h := &handlers{
		registry: deps.Registry,
		resolver: deps.Resolver,
		bridge:   deps.Bridge,
		version:  deps.Version,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.health)
	r.Get("/version", h.versionInfo)

	// The gateway does its own token handshake over the socket.
	r.Handle("/ws", deps.Gateway)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(bearerAuth(deps.Verifier))

		r.Get("/models", h.listModels)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.createSession)
			r.Get("/", h.listSessions)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.getSession)
				r.Patch("/", h.updateSession)
				r.Delete("/", h.deleteSession)
				r.Get("/history", h.getHistory)
				r.Post("/chat", h.chat)
			})
		})
	})

	return r
}
