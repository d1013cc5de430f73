// Package pipeline scans a vault and ingests its files into the store
// through a pool of workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/resolve"
)

// Config controls a run.
type Config struct {
	Workers int
	// Timeout bounds the whole run; zero means no limit.
	Timeout time.Duration
	// Reconcile retries pending references whose target did not exist
	// when their source was stored, in this run or an earlier one.
	Reconcile bool
	// Prune removes entities and cache rows of files no longer in the vault.
	Prune bool
}

// Ingester runs scan, pool, prune and reconcile over one vault.
type Ingester struct {
	cfg  Config
	deps Deps
}

// NewIngester creates an Ingester.
func NewIngester(cfg Config, deps Deps) *Ingester {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Ingester{cfg: cfg, deps: deps}
}

// Run ingests the vault once. If ctx is cancelled the partial report is
// returned with Interrupted set and a nil error. If the timeout expires the
// partial report is returned with ErrTimeout. A store failure aborts the run
// and is returned as is. Writes already made are kept in every case.
func (in *Ingester) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	runCtx := ctx
	if in.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, in.cfg.Timeout)
		defer cancel()
	}

	q := NewQueue()
	pool := NewPool(in.cfg.Workers, in.deps)
	logger := in.deps.Logger

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return Scan(gctx, in.deps.FS, q, logger) })
	g.Go(func() error {
		_, err := pool.Run(gctx, q)
		return err
	})
	err := g.Wait()
	rep := pool.Report()

	if err == nil && in.cfg.Prune {
		var n int
		n, err = in.prune(runCtx, pool)
		rep.Pruned = int64(n)
	}
	if err == nil && in.cfg.Reconcile {
		var n int
		n, err = in.reconcile(runCtx)
		rep.Reconciled = int64(n)
	}
	rep.Duration = time.Since(start)

	switch {
	case err == nil:
		return rep, nil
	case ctx.Err() != nil:
		rep.Interrupted = true
		logger.Warn("pipeline: interrupted", slog.Any("report", rep))
		return rep, nil
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return rep, fmt.Errorf("%w after %s", ErrTimeout, in.cfg.Timeout)
	default:
		return rep, err
	}
}

// reconcile retries every pending reference in the store, including those
// left by earlier runs whose sources are unchanged now.
func (in *Ingester) reconcile(ctx context.Context) (int, error) {
	refs, err := in.deps.Store.Pending(ctx)
	if err != nil || len(refs) == 0 {
		return 0, err
	}
	linked, still, err := resolve.New(in.deps.Store, in.deps.Logger).Reconcile(ctx, refs)
	if err != nil {
		return 0, err
	}
	for i, ref := range linked {
		if err := in.deps.Store.MarkLinked(ctx, ref); err != nil {
			return i, err
		}
	}
	in.deps.Logger.Info("pipeline: reconciled references",
		slog.Int("linked", len(linked)),
		slog.Int("missing", len(still)))
	return len(linked), nil
}

// prune deletes the cache rows of paths the scan no longer found and the
// entity each of those documents produced. Entities a document stopped
// producing this run, because its slug changed, are deleted too. An entity
// is kept while a path still in the vault records it.
func (in *Ingester) prune(ctx context.Context, pool *Pool) (int, error) {
	entries, err := in.deps.Store.CacheEntries(ctx)
	if err != nil {
		return 0, err
	}

	type key struct {
		kind models.Kind
		slug string
	}
	pool.mu.Lock()
	seen := pool.seen
	released := pool.released
	pool.mu.Unlock()

	claimed := make(map[key]bool)
	for _, c := range entries {
		if seen[c.Path] && c.Slug != "" {
			claimed[key{c.Kind, c.Slug}] = true
		}
	}

	pruned := 0
	drop := func(c models.CacheEntry) error {
		k := key{c.Kind, c.Slug}
		if c.Slug == "" || claimed[k] {
			return nil
		}
		// Claim it so a second stale path for the same entity is a no-op.
		claimed[k] = true
		deleted, err := in.deps.Store.DeleteEntity(ctx, c.Kind, c.Slug)
		if err != nil {
			return err
		}
		if deleted {
			pruned++
			in.deps.Logger.Info("pipeline: pruned entity",
				slog.String("path", c.Path),
				slog.String("kind", c.Kind.String()),
				slog.String("slug", c.Slug))
		}
		return nil
	}

	for _, c := range released {
		if err := drop(c); err != nil {
			return pruned, err
		}
	}
	for _, c := range entries {
		if seen[c.Path] {
			continue
		}
		if err := drop(c); err != nil {
			return pruned, err
		}
		if err := in.deps.Store.DeleteCache(ctx, c.Path); err != nil {
			return pruned, err
		}
		in.deps.Logger.Debug("pipeline: pruned cache", slog.String("path", c.Path))
	}
	return pruned, nil
}
