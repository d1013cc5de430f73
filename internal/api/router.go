// Package api implements the ingester's status API using chi.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/models"
)

// Finder looks up stored entities.
type Finder interface {
	FindBySlug(ctx context.Context, kind models.Kind, slug string) (*models.Entity, error)
}

// NewRouter creates a chi router with all API routes mounted.
// sseHandler, if non-nil, is mounted at GET /events.
func NewRouter(tracker *Tracker, finder Finder, sseHandler http.Handler) chi.Router {
	h := NewHandler(tracker, finder)

	r := chi.NewRouter()
	r.Get("/status", h.Status)
	r.Get("/entities/{kind}/*", h.GetEntity)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

// Health mounts GET /health/live and GET /health/ready on r. Readiness
// waits for the first finished run.
func Health(r chi.Router, tracker *Tracker) {
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !tracker.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
