package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/pipeline"
	"github.com/starford/ansuz/internal/testutil"
)

// testEnv sets up a temp SQLite DB, a tracker and the full router.
func testEnv(t *testing.T) (http.Handler, *Tracker, Finder) {
	t.Helper()
	db := testutil.TestDB(t)
	tracker := NewTracker(0)

	r := chi.NewRouter()
	Health(r, tracker)
	r.Mount("/api", NewRouter(tracker, db, nil))

	ctx := context.Background()
	if _, err := db.UpsertEntity(ctx, models.Entity{Kind: models.KindPost, Slug: "nested/hello", Title: "Hello", CreatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.UpsertEntity(ctx, models.Entity{Kind: models.KindTag, Slug: "go", Title: "Go", Icon: "nf-go"}); err != nil {
		t.Fatal(err)
	}
	return r, tracker, db
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, tracker, _ := testEnv(t)

	if w := get(t, router, "/health/live"); w.Code != http.StatusOK {
		t.Errorf("live status = %d", w.Code)
	}
	if w := get(t, router, "/health/ready"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready before first run = %d, want 503", w.Code)
	}
	tracker.Start()
	tracker.Finish(pipeline.Report{Completed: 1}, nil)
	if w := get(t, router, "/health/ready"); w.Code != http.StatusOK {
		t.Errorf("ready after run = %d, want 200", w.Code)
	}
}

func TestStatus(t *testing.T) {
	router, tracker, _ := testEnv(t)
	tracker.Start()
	tracker.Finish(pipeline.Report{Submitted: 4, Completed: 3, Failed: 1}, errors.New("pipeline: timeout"))

	w := get(t, router, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	var got Status
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Running || got.Runs != 1 || got.LastErr != "pipeline: timeout" {
		t.Errorf("status = %+v", got)
	}
	if got.LastRun == nil || got.LastRun.Completed != 3 || got.LastRun.Failed != 1 {
		t.Errorf("last run = %+v", got.LastRun)
	}
}

func TestGetEntity(t *testing.T) {
	router, _, _ := testEnv(t)

	tests := []struct {
		name string
		path string
		code int
		slug string
	}{
		{"nested slug", "/api/entities/post/nested/hello", http.StatusOK, "nested/hello"},
		{"encoded slash", "/api/entities/posts/nested%2Fhello", http.StatusOK, "nested/hello"},
		{"tag", "/api/entities/tag/go", http.StatusOK, "go"},
		{"missing", "/api/entities/project/nope", http.StatusNotFound, ""},
		{"bad kind", "/api/entities/widget/go", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, router, tt.path)
			if w.Code != tt.code {
				t.Fatalf("code = %d, want %d, body = %s", w.Code, tt.code, w.Body.String())
			}
			if tt.slug == "" {
				return
			}
			var got EntityResponse
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Slug != tt.slug {
				t.Errorf("slug = %q, want %q", got.Slug, tt.slug)
			}
		})
	}
}

func TestGetEntity_TagIcon(t *testing.T) {
	router, _, _ := testEnv(t)
	w := get(t, router, "/api/entities/tag/go")
	var got map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["kind"] != "tag" || got["icon"] != "nf-go" {
		t.Errorf("body = %v", got)
	}
}
