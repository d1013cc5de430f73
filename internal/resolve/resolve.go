// Package resolve turns slug references in parsed documents into
// association rows.
package resolve

import (
	"context"
	"log/slog"

	"github.com/starford/ansuz/internal/models"
)

// Store is the subset of the persistence layer the resolver needs.
type Store interface {
	FindBySlug(ctx context.Context, kind models.Kind, slug string) (*models.Entity, error)
	InsertEdge(ctx context.Context, kind models.EdgeKind, a, b int64) error
}

// Result summarizes one Resolve call.
type Result struct {
	Linked   int
	Resolved []models.Reference
	Missing  []models.Reference
}

// Resolver links entities to the entities their documents reference.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// New creates a Resolver over store.
func New(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve links src (which must already carry its store id) to every tag,
// post and project doc references. References to slugs not yet stored are
// dropped and returned in Result.Missing; linked ones are returned in
// Result.Resolved. Store errors are returned as is.
func (r *Resolver) Resolve(ctx context.Context, src models.Entity, doc *models.Document) (Result, error) {
	var res Result
	for _, target := range []models.Kind{models.KindTag, models.KindPost, models.KindProject} {
		for _, slug := range doc.References(target) {
			if slug == "" {
				continue
			}
			ok, err := r.link(ctx, src, target, slug)
			if err != nil {
				return res, err
			}
			ref := models.Reference{Source: src, Kind: target, Slug: slug}
			if !ok {
				r.logger.Debug("resolve: reference dropped",
					slog.String("source", src.Slug),
					slog.String("kind", target.String()),
					slog.String("slug", slug))
				res.Missing = append(res.Missing, ref)
				continue
			}
			res.Linked++
			res.Resolved = append(res.Resolved, ref)
		}
	}
	return res, nil
}

// Reconcile retries references that could not be linked earlier, in this
// run or a previous one. It returns the references it linked and the ones
// whose target is still missing.
func (r *Resolver) Reconcile(ctx context.Context, refs []models.Reference) (linked, missing []models.Reference, err error) {
	for _, ref := range refs {
		ok, err := r.link(ctx, ref.Source, ref.Kind, ref.Slug)
		if err != nil {
			return linked, missing, err
		}
		if !ok {
			r.logger.Debug("resolve: reference still missing",
				slog.String("source", ref.Source.Slug),
				slog.String("kind", ref.Kind.String()),
				slog.String("slug", ref.Slug))
			missing = append(missing, ref)
			continue
		}
		linked = append(linked, ref)
	}
	return linked, missing, nil
}

// link looks up the target and inserts the oriented edge. It reports false
// when the target does not exist.
func (r *Resolver) link(ctx context.Context, src models.Entity, target models.Kind, slug string) (bool, error) {
	dst, err := r.store.FindBySlug(ctx, target, slug)
	if err != nil {
		return false, err
	}
	if dst == nil {
		return false, nil
	}
	kind, forward := models.EdgeBetween(src.Kind, target)
	a, b := src.ID, dst.ID
	if !forward {
		a, b = b, a
	}
	if err := r.store.InsertEdge(ctx, kind, a, b); err != nil {
		return false, err
	}
	return true, nil
}
