package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	tracker *Tracker
	finder  Finder
}

// NewHandler creates a new Handler.
func NewHandler(tracker *Tracker, finder Finder) *Handler {
	return &Handler{tracker: tracker, finder: finder}
}

// EntityResponse is the payload of GET /api/entities/{kind}/{slug}.
type EntityResponse struct {
	Kind string `json:"kind"`
	models.Entity
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Status())
}

// GetEntity handles GET /api/entities/{kind}/*. Slugs may contain slashes;
// encoded slashes are accepted too.
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if decoded, err := url.PathUnescape(slug); err == nil {
		slug = decoded
	}

	e, err := h.lookup(r.Context(), chi.URLParam(r, "kind"), slug)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EntityResponse{Kind: e.Kind.String(), Entity: *e})
}

func (h *Handler) lookup(ctx context.Context, kindName, slug string) (*models.Entity, error) {
	kind, ok := models.ParseKind(kindName)
	if !ok {
		return nil, fmt.Errorf("unknown kind %q: %w", kindName, apperr.ErrInvalidInput)
	}
	if slug == "" {
		return nil, fmt.Errorf("empty slug: %w", apperr.ErrInvalidInput)
	}
	e, err := h.finder.FindBySlug(ctx, kind, slug)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%s %q: %w", kind, slug, apperr.ErrNotFound)
	}
	return e, nil
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	default:
		slog.Error("api: request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
