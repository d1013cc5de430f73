package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/starford/ansuz/internal/models"
)

// Stats counts the writes the store has performed since Open.
type Stats struct {
	EntityWrites int64
	EdgeWrites   int64
	CacheWrites  int64
	RefWrites    int64
	Deletes      int64
}

type counters struct {
	entity atomic.Int64
	edge   atomic.Int64
	cache  atomic.Int64
	refs   atomic.Int64
	delete atomic.Int64
}

// Stats returns a snapshot of the write counters.
func (db *DB) Stats() Stats {
	return Stats{
		EntityWrites: db.stats.entity.Load(),
		EdgeWrites:   db.stats.edge.Load(),
		CacheWrites:  db.stats.cache.Load(),
		RefWrites:    db.stats.refs.Load(),
		Deletes:      db.stats.delete.Load(),
	}
}

// Writes returns the number of entity rows written since Open.
func (db *DB) Writes() int64 { return db.stats.entity.Load() }

func entityColumns(kind models.Kind) []string {
	cols := []string{"title", "slug", "description", "content", "banner_path"}
	if kind == models.KindTag {
		cols = append(cols, "icon")
	}
	return append(cols, "created_at", "x", "y", "z")
}

func entityArgs(e models.Entity) []any {
	args := []any{e.Title, e.Slug, e.Description, e.Content, e.BannerPath}
	if e.Kind == models.KindTag {
		args = append(args, e.Icon)
	}
	return append(args, e.CreatedAt, e.X, e.Y, e.Z)
}

// upsertSQL builds the insert-or-overwrite statement for a kind. Every
// mutable column is replaced on slug conflict; the id is kept.
func upsertSQL(kind models.Kind) string {
	cols := entityColumns(kind)
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols {
		if c != "slug" {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (slug) DO UPDATE SET %s RETURNING id",
		kind.Table(),
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(sets, ", "),
	)
}

// UpsertEntity inserts the entity or, if its slug exists, overwrites every
// mutable field. It returns the id, which is stable across updates.
func (db *DB) UpsertEntity(ctx context.Context, e models.Entity) (int64, error) {
	var id int64
	query := upsertSQL(e.Kind)
	err := db.do(ctx, "upsert "+e.Kind.String(), func(ctx context.Context, conn *sql.DB) error {
		return conn.QueryRowContext(ctx, query, entityArgs(e)...).Scan(&id)
	})
	if err != nil {
		return 0, err
	}
	db.stats.entity.Add(1)
	return id, nil
}

// FindBySlug returns the entity of the given kind with slug, or nil.
func (db *DB) FindBySlug(ctx context.Context, kind models.Kind, slug string) (*models.Entity, error) {
	cols := append([]string{"id"}, entityColumns(kind)...)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE slug = ?", strings.Join(cols, ", "), kind.Table())

	var (
		e      = models.Entity{Kind: kind}
		banner sql.NullString
		icon   sql.NullString
		found  bool
	)
	err := db.do(ctx, "find "+kind.String(), func(ctx context.Context, conn *sql.DB) error {
		dest := []any{&e.ID, &e.Title, &e.Slug, &e.Description, &e.Content, &banner}
		if kind == models.KindTag {
			dest = append(dest, &icon)
		}
		dest = append(dest, &e.CreatedAt, &e.X, &e.Y, &e.Z)
		err := conn.QueryRowContext(ctx, query, slug).Scan(dest...)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, err
	}
	e.BannerPath = banner.String
	e.Icon = icon.String
	return &e, nil
}

// InsertEdge stores the (a, b) pair. Inserting an existing pair is a no-op.
func (db *DB) InsertEdge(ctx context.Context, kind models.EdgeKind, a, b int64) error {
	colA, colB := kind.Columns()
	query := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s, %s) VALUES (?, ?)", kind.Table(), colA, colB)
	err := db.do(ctx, "insert "+kind.Table(), func(ctx context.Context, conn *sql.DB) error {
		_, err := conn.ExecContext(ctx, query, a, b)
		return err
	})
	if err != nil {
		return err
	}
	db.stats.edge.Add(1)
	return nil
}

const cacheSelect = `SELECT path, hashed, kind, slug, x, y, z FROM caches`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCache(row rowScanner) (models.CacheEntry, error) {
	var (
		c          models.CacheEntry
		kind, slug sql.NullString
		x, y, z    sql.NullFloat64
	)
	if err := row.Scan(&c.Path, &c.Hash, &kind, &slug, &x, &y, &z); err != nil {
		return c, err
	}
	if k, ok := models.ParseKind(kind.String); ok && slug.Valid {
		c.Kind, c.Slug = k, slug.String
	}
	c.X, c.Y, c.Z = x.Float64, y.Float64, z.Float64
	return c, nil
}

// GetCache returns the cache entry for path, or nil.
func (db *DB) GetCache(ctx context.Context, path string) (*models.CacheEntry, error) {
	var (
		c     models.CacheEntry
		found bool
	)
	err := db.do(ctx, "get cache", func(ctx context.Context, conn *sql.DB) error {
		var err error
		c, err = scanCache(conn.QueryRowContext(ctx, cacheSelect+` WHERE path = ?`, path))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, err
	}
	return &c, nil
}

// CacheEntries returns every cache entry.
func (db *DB) CacheEntries(ctx context.Context) ([]models.CacheEntry, error) {
	var out []models.CacheEntry
	err := db.do(ctx, "cache entries", func(ctx context.Context, conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, cacheSelect+` ORDER BY path`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanCache(rows)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// PutCache inserts or replaces the cache entry for c.Path.
func (db *DB) PutCache(ctx context.Context, c models.CacheEntry) error {
	var kind, slug sql.NullString
	if c.Slug != "" {
		kind = sql.NullString{String: c.Kind.String(), Valid: true}
		slug = sql.NullString{String: c.Slug, Valid: true}
	}
	err := db.do(ctx, "put cache", func(ctx context.Context, conn *sql.DB) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO caches (path, hashed, kind, slug, x, y, z)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (path) DO UPDATE SET
				hashed = excluded.hashed,
				kind   = excluded.kind,
				slug   = excluded.slug,
				x      = excluded.x,
				y      = excluded.y,
				z      = excluded.z
		`, c.Path, c.Hash, kind, slug, c.X, c.Y, c.Z)
		return err
	})
	if err != nil {
		return err
	}
	db.stats.cache.Add(1)
	return nil
}

// Slugs returns every slug stored for kind.
func (db *DB) Slugs(ctx context.Context, kind models.Kind) ([]string, error) {
	var out []string
	err := db.do(ctx, "slugs "+kind.String(), func(ctx context.Context, conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, "SELECT slug FROM "+kind.Table()+" ORDER BY slug")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var s string
			if err := rows.Scan(&s); err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	return out, err
}

// DeleteEntity removes the entity with slug and the references it declared.
// Its edges go through the cascading foreign keys; references other
// entities declared to it become pending again. It reports whether a row
// existed.
func (db *DB) DeleteEntity(ctx context.Context, kind models.Kind, slug string) (bool, error) {
	var n int64
	err := db.do(ctx, "delete "+kind.String(), func(ctx context.Context, conn *sql.DB) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM refs
			WHERE source_kind = ? AND source_id IN (SELECT id FROM `+kind.Table()+` WHERE slug = ?)
		`, kind.String(), slug); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE refs SET linked = 0 WHERE target_kind = ? AND slug = ?`,
			kind.String(), slug); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM "+kind.Table()+" WHERE slug = ?", slug)
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return false, err
	}
	db.stats.delete.Add(n)
	return n > 0, nil
}

// DeleteCache removes the cache entry for path.
func (db *DB) DeleteCache(ctx context.Context, path string) error {
	err := db.do(ctx, "delete cache", func(ctx context.Context, conn *sql.DB) error {
		_, err := conn.ExecContext(ctx, `DELETE FROM caches WHERE path = ?`, path)
		return err
	})
	if err != nil {
		return err
	}
	db.stats.delete.Add(1)
	return nil
}

// SetReferences replaces the references recorded for src. Linked ones are
// stored as resolved, missing ones as pending.
func (db *DB) SetReferences(ctx context.Context, src models.Entity, linked, missing []models.Reference) error {
	var wrote bool
	err := db.do(ctx, "set references", func(ctx context.Context, conn *sql.DB) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx,
			`DELETE FROM refs WHERE source_kind = ? AND source_id = ?`,
			src.Kind.String(), src.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 && len(linked)+len(missing) == 0 {
			return nil
		}
		insert := func(ref models.Reference, state int) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO refs (source_kind, source_id, source_slug, target_kind, slug, linked)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (source_kind, source_id, target_kind, slug)
				DO UPDATE SET linked = max(linked, excluded.linked)
			`, src.Kind.String(), src.ID, src.Slug, ref.Kind.String(), ref.Slug, state)
			return err
		}
		for _, ref := range linked {
			if err := insert(ref, 1); err != nil {
				return err
			}
		}
		for _, ref := range missing {
			if err := insert(ref, 0); err != nil {
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		wrote = true
		return nil
	})
	if err != nil {
		return err
	}
	if wrote {
		db.stats.refs.Add(1)
	}
	return nil
}

// Pending returns every recorded reference whose target was missing.
func (db *DB) Pending(ctx context.Context) ([]models.Reference, error) {
	var out []models.Reference
	err := db.do(ctx, "pending", func(ctx context.Context, conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT source_kind, source_id, source_slug, target_kind, slug
			FROM refs
			WHERE linked = 0
			ORDER BY source_kind, source_id, target_kind, slug
		`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				ref           models.Reference
				srcKind, kind string
			)
			if err := rows.Scan(&srcKind, &ref.Source.ID, &ref.Source.Slug, &kind, &ref.Slug); err != nil {
				return err
			}
			sk, ok1 := models.ParseKind(srcKind)
			tk, ok2 := models.ParseKind(kind)
			if !ok1 || !ok2 {
				return fmt.Errorf("bad kind in refs: %q -> %q", srcKind, kind)
			}
			ref.Source.Kind, ref.Kind = sk, tk
			out = append(out, ref)
		}
		return rows.Err()
	})
	return out, err
}

// MarkLinked records that a pending reference now has its edge.
func (db *DB) MarkLinked(ctx context.Context, ref models.Reference) error {
	err := db.do(ctx, "mark linked", func(ctx context.Context, conn *sql.DB) error {
		_, err := conn.ExecContext(ctx, `
			UPDATE refs SET linked = 1
			WHERE source_kind = ? AND source_id = ? AND target_kind = ? AND slug = ?
		`, ref.Source.Kind.String(), ref.Source.ID, ref.Kind.String(), ref.Slug)
		return err
	})
	if err != nil {
		return err
	}
	db.stats.refs.Add(1)
	return nil
}

var countable = map[string]bool{"caches": true, "refs": true}

func init() {
	for _, k := range models.Kinds {
		countable[k.Table()] = true
	}
	for _, k := range models.EdgeKinds {
		countable[k.Table()] = true
	}
}

// Count returns the number of rows in one of the schema tables.
func (db *DB) Count(ctx context.Context, table string) (int, error) {
	if !countable[table] {
		return 0, fmt.Errorf("index: count: unknown table %q", table)
	}
	var n int
	err := db.do(ctx, "count "+table, func(ctx context.Context, conn *sql.DB) error {
		return conn.QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&n)
	})
	return n, err
}
