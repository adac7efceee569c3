package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Sessions
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Post("/sessions/{id}/abort", h.AbortSession)
		r.Post("/sessions/{id}/resume", h.ResumeSession)
		r.Get("/sessions/{id}/logs", h.GetSessionLogs)

		// Targets
		r.Post("/targets", h.CreateTarget)
		r.Get("/targets", h.ListTargets)
		r.Get("/targets/{id}", h.GetTarget)
		r.Patch("/targets/{id}", h.UpdateTarget)
		r.Delete("/targets/{id}", h.DeleteTarget)
		r.Get("/targets/{id}/queue", h.GetTargetQueue)

		// Providers
		r.Get("/providers", h.ListProviders)
		r.Get("/providers/{kind}", h.ListProvidersByKind)
	})

	// Health and live updates sit outside the versioned API group.
	r.Get("/health", h.Health)
	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}
}
