package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/frontmatter"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/resolve"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/upload"
	"github.com/starford/ansuz/internal/vault"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 8

// Deps are the collaborators a pool works with.
type Deps struct {
	FS       storage.Provider
	Store    index.Store
	Uploader upload.Uploader
	Parser   frontmatter.Parser
	Logger   *slog.Logger
	// Observer, if set, is told about entity writes, task failures and
	// progress.
	Observer Observer
	// Now supplies created_at for new documents that carry none.
	Now func() time.Time
}

// Observer receives events from a running pool. Methods are called from
// worker goroutines and must not block.
type Observer interface {
	EntityWritten(e models.Entity)
	TaskFailed(path, kind string, err error)
	Progress(r Report)
}

type nopObserver struct{}

func (nopObserver) EntityWritten(models.Entity) {}

func (nopObserver) TaskFailed(string, string, error) {}

func (nopObserver) Progress(Report) {}

type counters struct {
	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	uploaded  atomic.Int64
	written   atomic.Int64
	linked    atomic.Int64
	dropped   atomic.Int64
}

// Pool runs tasks from a Queue over a fixed number of workers.
type Pool struct {
	Workers int

	deps     Deps
	resolver *resolve.Resolver
	logger   *slog.Logger
	counters counters
	queue    *Queue

	mu       sync.Mutex
	seen     map[string]bool
	released []models.CacheEntry
}

// NewPool builds a pool of the given size; sizes below 1 are raised to 1.
func NewPool(workers int, deps Deps) *Pool {
	if workers < 1 {
		workers = 1
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Uploader == nil {
		deps.Uploader = upload.Noop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	return &Pool{
		Workers:  workers,
		deps:     deps,
		resolver: resolve.New(deps.Store, deps.Logger),
		logger:   deps.Logger,
		seen:     make(map[string]bool),
	}
}

// Run starts the workers and blocks until q is closed and drained, a worker
// hits a store failure, or ctx is done. The returned report reflects every
// task finished up to that point.
func (p *Pool) Run(ctx context.Context, q *Queue) (Report, error) {
	p.queue = q
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.Workers; i++ {
		g.Go(func() error { return p.work(gctx, q) })
	}
	err := g.Wait()
	return p.Report(), err
}

func (p *Pool) work(ctx context.Context, q *Queue) error {
	for {
		t, ok := q.Pop(ctx)
		if !ok {
			return ctx.Err()
		}
		p.markSeen(t.Path)

		err := p.process(ctx, t)
		switch {
		case err == nil:
			p.counters.completed.Add(1)
			p.deps.Observer.Progress(p.Report())
		case ctx.Err() != nil:
			// Abandoned: neither completed nor failed.
			return ctx.Err()
		default:
			p.counters.failed.Add(1)
			kind := FailureKind(err)
			p.logger.Warn("pipeline: task failed",
				slog.String("path", t.Path),
				slog.String("kind", kind),
				slog.String("error", err.Error()))
			p.deps.Observer.TaskFailed(t.Path, kind, err)
			p.deps.Observer.Progress(p.Report())
			if errors.Is(err, index.ErrStore) {
				return err
			}
		}
	}
}

func (p *Pool) process(ctx context.Context, t Task) error {
	data, err := p.deps.FS.Read(t.Path)
	if err != nil {
		return err
	}
	hash := checksum.Sum(data)

	cached, err := p.deps.Store.GetCache(ctx, t.Path)
	if err != nil {
		return err
	}
	if cached != nil && cached.Hash == hash {
		p.counters.skipped.Add(1)
		p.logger.Debug("pipeline: unchanged", slog.String("path", t.Path))
		return nil
	}

	switch t.Class {
	case vault.ClassMedia:
		return p.processMedia(ctx, t, data, hash)
	case vault.ClassDocument:
		return p.processDocument(ctx, t, data, hash, cached)
	default:
		return fmt.Errorf("pipeline: unexpected class %s for %s", t.Class, t.Path)
	}
}

func (p *Pool) processMedia(ctx context.Context, t Task, data []byte, hash string) error {
	key, err := vault.Slugify(t.Path)
	if err != nil {
		return err
	}
	if err := p.deps.Uploader.Upload(ctx, key, data); err != nil {
		return err
	}
	p.counters.uploaded.Add(1)
	return p.deps.Store.PutCache(ctx, models.CacheEntry{Path: t.Path, Hash: hash})
}

func (p *Pool) processDocument(ctx context.Context, t Task, data []byte, hash string, prev *models.CacheEntry) error {
	doc, err := p.deps.Parser.Parse(data)
	if err != nil {
		return fmt.Errorf("pipeline: parse %s: %w", t.Path, err)
	}
	kind, err := vault.KindOf(t.Path)
	if err != nil {
		return err
	}
	if doc.Slug == "" {
		if doc.Slug, err = vault.Slugify(t.Path); err != nil {
			return err
		}
	}

	e := doc.Entity(kind)
	if e.CreatedAt == 0 {
		if e.CreatedAt, err = p.createdAt(ctx, kind, e.Slug); err != nil {
			return err
		}
	}
	id, err := p.deps.Store.UpsertEntity(ctx, e)
	if err != nil {
		return err
	}
	e.ID = id
	p.counters.written.Add(1)
	p.deps.Observer.EntityWritten(e)

	res, err := p.resolver.Resolve(ctx, e, doc)
	if err != nil {
		return err
	}
	p.counters.linked.Add(int64(res.Linked))
	p.counters.dropped.Add(int64(len(res.Missing)))
	if err := p.deps.Store.SetReferences(ctx, e, res.Resolved, res.Missing); err != nil {
		return err
	}

	if err := p.deps.Store.PutCache(ctx, models.CacheEntry{
		Path: t.Path,
		Hash: hash,
		Kind: kind,
		Slug: e.Slug,
		X:    doc.X,
		Y:    doc.Y,
		Z:    doc.Z,
	}); err != nil {
		return err
	}
	if prev != nil && prev.Slug != "" && (prev.Kind != kind || prev.Slug != e.Slug) {
		p.mu.Lock()
		p.released = append(p.released, *prev)
		p.mu.Unlock()
	}
	return nil
}

// createdAt keeps the stored creation time of an existing entity and falls
// back to the run clock for a new one.
func (p *Pool) createdAt(ctx context.Context, kind models.Kind, slug string) (int64, error) {
	existing, err := p.deps.Store.FindBySlug(ctx, kind, slug)
	if err != nil {
		return 0, err
	}
	if existing != nil && existing.CreatedAt != 0 {
		return existing.CreatedAt, nil
	}
	return p.deps.Now().Unix(), nil
}

func (p *Pool) markSeen(path string) {
	p.mu.Lock()
	p.seen[path] = true
	p.mu.Unlock()
}

// Report returns a snapshot of the pool counters.
func (p *Pool) Report() Report {
	r := Report{
		Completed: p.counters.completed.Load(),
		Failed:    p.counters.failed.Load(),
		Skipped:   p.counters.skipped.Load(),
		Uploaded:  p.counters.uploaded.Load(),
		Written:   p.counters.written.Load(),
		Linked:    p.counters.linked.Load(),
		Dropped:   p.counters.dropped.Load(),
	}
	if p.queue != nil {
		r.Submitted = p.queue.Pushed()
	}
	return r
}
