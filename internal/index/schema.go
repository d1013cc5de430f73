// Package index is the SQLite persistence layer. A single writer goroutine
// owns the connection; every operation is sent to it and runs in turn.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

const entitySchemaSQL = `
CREATE TABLE IF NOT EXISTS posts (
	id          INTEGER PRIMARY KEY,
	title       TEXT NOT NULL,
	slug        TEXT UNIQUE NOT NULL,
	description TEXT NOT NULL,
	content     TEXT NOT NULL,
	banner_path TEXT,
	created_at  INTEGER NOT NULL,
	x           REAL,
	y           REAL,
	z           REAL
);

CREATE TABLE IF NOT EXISTS projects (
	id          INTEGER PRIMARY KEY,
	title       TEXT NOT NULL,
	slug        TEXT UNIQUE NOT NULL,
	description TEXT NOT NULL,
	content     TEXT NOT NULL,
	banner_path TEXT,
	created_at  INTEGER NOT NULL,
	x           REAL,
	y           REAL,
	z           REAL
);

CREATE TABLE IF NOT EXISTS tags (
	id          INTEGER PRIMARY KEY,
	title       TEXT NOT NULL,
	slug        TEXT UNIQUE NOT NULL,
	description TEXT NOT NULL,
	content     TEXT NOT NULL,
	banner_path TEXT,
	icon        TEXT,
	created_at  INTEGER NOT NULL,
	x           REAL,
	y           REAL,
	z           REAL
);

CREATE TABLE IF NOT EXISTS caches (
	id     INTEGER PRIMARY KEY,
	path   TEXT UNIQUE NOT NULL,
	hashed TEXT NOT NULL,
	kind   TEXT,
	slug   TEXT,
	x      REAL,
	y      REAL,
	z      REAL
);

CREATE TABLE IF NOT EXISTS refs (
	source_kind TEXT NOT NULL,
	source_id   INTEGER NOT NULL,
	source_slug TEXT NOT NULL,
	target_kind TEXT NOT NULL,
	slug        TEXT NOT NULL,
	linked      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source_kind, source_id, target_kind, slug)
);

CREATE INDEX IF NOT EXISTS refs_pending ON refs (linked) WHERE linked = 0;
CREATE INDEX IF NOT EXISTS refs_target ON refs (target_kind, slug);
`

// cacheColumns are added to caches tables created before documents
// recorded the entity they produced.
var cacheColumns = []string{"kind", "slug"}

const edgeSchemaSQL = `
CREATE TABLE IF NOT EXISTS post_to_tags (
	post_id INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	tag_id  INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (post_id, tag_id)
);

CREATE TABLE IF NOT EXISTS post_to_posts (
	source_post_id INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	target_post_id INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	PRIMARY KEY (source_post_id, target_post_id)
);

CREATE TABLE IF NOT EXISTS post_to_projects (
	post_id    INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	PRIMARY KEY (post_id, project_id)
);

CREATE TABLE IF NOT EXISTS project_to_tags (
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	tag_id     INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (project_id, tag_id)
);

CREATE TABLE IF NOT EXISTS project_to_projects (
	source_project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	target_project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	PRIMARY KEY (source_project_id, target_project_id)
);

CREATE TABLE IF NOT EXISTS tag_to_tags (
	source_tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	target_tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (source_tag_id, target_tag_id)
);
`

const pragmaSQL = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA cache_size = 10000;
PRAGMA temp_store = MEMORY;
`

type request struct {
	ctx  context.Context
	fn   func(ctx context.Context, conn *sql.DB) error
	done chan error
}

// DB is the handle to the store. It is safe for concurrent use; operations
// are serialized through the writer goroutine.
type DB struct {
	reqCh   chan request
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
	stats   counters

	closeErr error
}

// Open opens (or creates) the SQLite database, applies pragmas and the
// schema, and starts the writer goroutine.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("index: create db dir: %w", err)
		}
	}
	conn, err := sql.Open(driverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	for _, stmt := range []string{pragmaSQL, entitySchemaSQL, edgeSchemaSQL} {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("index: apply schema: %w", err)
		}
	}
	if err := migrateCaches(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: migrate caches: %w", err)
	}

	db := &DB{
		reqCh:   make(chan request),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go db.run(conn)
	return db, nil
}

func migrateCaches(conn *sql.DB) error {
	rows, err := conn.Query(`SELECT name FROM pragma_table_info('caches')`)
	if err != nil {
		return err
	}
	have := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		have[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, col := range cacheColumns {
		if have[col] {
			continue
		}
		if _, err := conn.Exec("ALTER TABLE caches ADD COLUMN " + col + " TEXT"); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) run(conn *sql.DB) {
	defer close(db.stopped)
	for {
		select {
		case <-db.stopCh:
			db.closeErr = conn.Close()
			return
		case req := <-db.reqCh:
			req.done <- req.fn(req.ctx, conn)
		}
	}
}

// do hands fn to the writer goroutine and waits for its result.
func (db *DB) do(ctx context.Context, op string, fn func(ctx context.Context, conn *sql.DB) error) error {
	if db.closed.Load() {
		return &StoreError{Op: op, Err: ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	req := request{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case db.reqCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-db.stopped:
		return &StoreError{Op: op, Err: ErrClosed}
	}
	select {
	case err := <-req.done:
		if err != nil && ctx.Err() == nil {
			return &StoreError{Op: op, Err: err}
		}
		if err != nil {
			return ctx.Err()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the writer goroutine and closes the connection.
func (db *DB) Close() error {
	if db.closed.CompareAndSwap(false, true) {
		close(db.stopCh)
	}
	<-db.stopped
	return db.closeErr
}
