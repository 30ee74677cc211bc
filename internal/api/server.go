// SPDX-License-Identifier: MIT

// Package api exposes the session coordinator and the mission-note
// workflow over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/missionops/voicesync/internal/domain/notes"
	"github.com/missionops/voicesync/internal/domain/session"
)

// Server bundles the HTTP surface over the two domain cores.
type Server struct {
	sessions *session.Coordinator
	notes    *notes.Workflow
	// requests per minute per client IP; 0 disables the limiter
	rateLimit int
}

// New builds a server; pass rateLimit 0 to run without throttling.
func New(sessions *session.Coordinator, workflow *notes.Workflow, rateLimit int) *Server {
	return &Server{sessions: sessions, notes: workflow, rateLimit: rateLimit}
}

// Routes assembles the router with the canonical middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestID)
	r.Use(requestLogger)
	if s.rateLimit > 0 {
		r.Use(rateLimit(s.rateLimit))
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Patch("/", s.handleUpdateSession)
				r.Delete("/", s.handleEndSession)
				r.Post("/devices", s.handleAddDevice)
				r.Delete("/devices/{deviceID}", s.handleRemoveDevice)
				r.Post("/reconnect", s.handleReconnect)
				r.Post("/transcript", s.handleBumpTranscript)
				r.Post("/queue", s.handleQueueAction)
				r.Post("/replay", s.handleReplayQueue)
				r.Get("/snapshots", s.handleListSnapshots)
			})
		})
		r.Route("/missions/{missionID}/notes/{noteID}", func(r chi.Router) {
			r.Get("/", s.handleGetNote)
			r.Put("/", s.handleUpdateNote)
			r.Post("/resolve", s.handleResolveNote)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
