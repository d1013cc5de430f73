package index

import (
	"context"

	"github.com/starford/ansuz/internal/models"
)

// Store defines the persistence contract used by the pipeline and resolver.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type Store interface {
	UpsertEntity(ctx context.Context, e models.Entity) (int64, error)
	FindBySlug(ctx context.Context, kind models.Kind, slug string) (*models.Entity, error)
	InsertEdge(ctx context.Context, kind models.EdgeKind, a, b int64) error
	GetCache(ctx context.Context, path string) (*models.CacheEntry, error)
	PutCache(ctx context.Context, c models.CacheEntry) error
	CacheEntries(ctx context.Context) ([]models.CacheEntry, error)
	DeleteEntity(ctx context.Context, kind models.Kind, slug string) (bool, error)
	DeleteCache(ctx context.Context, path string) error
	SetReferences(ctx context.Context, src models.Entity, linked, missing []models.Reference) error
	Pending(ctx context.Context) ([]models.Reference, error)
	MarkLinked(ctx context.Context, ref models.Reference) error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
