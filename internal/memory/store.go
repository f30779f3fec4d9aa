// Package memory implements the persistent Document Store for turnloop.
//
// It uses SQLite with FTS5 full-text search to store and retrieve scoped,
// typed documents (research evidence, preferences, site patterns, turn
// records) along with the per-user turn archive and its cold tier.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds document store configuration.
type Config struct {
	DataDir          string
	MaxContentLength int
	MaxSearchResults int
	// PromoteAfter is the number of consecutive positive outcomes that
	// lift a document one scope level.
	PromoteAfter int
	// DemoteAfter is the number of consecutive negative outcomes that
	// drop a document one scope level.
	DemoteAfter int
}

// DefaultConfig returns the default configuration for the document store.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:          filepath.Join(home, ".turnloop"),
		MaxContentLength: 8000,
		MaxSearchResults: 50,
		PromoteAfter:     3,
		DemoteAfter:      2,
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the persistent document engine backed by SQLite + FTS5.
type Store struct {
	db    *sql.DB
	cfg   Config
	hooks storeHooks
	now   func() time.Time
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

type sqlRowScanner struct {
	rows *sql.Rows
}

func (r sqlRowScanner) Next() bool             { return r.rows.Next() }
func (r sqlRowScanner) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r sqlRowScanner) Err() error             { return r.rows.Err() }
func (r sqlRowScanner) Close() error           { return r.rows.Close() }

type storeHooks struct {
	exec    func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	queryIt func(ctx context.Context, db queryer, query string, args ...any) (rowScanner, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func defaultStoreHooks() storeHooks {
	return storeHooks{
		exec: func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
			return db.ExecContext(ctx, query, args...)
		},
		queryIt: func(ctx context.Context, db queryer, query string, args ...any) (rowScanner, error) {
			rows, err := db.QueryContext(ctx, query, args...)
			if err != nil {
				return nil, err
			}
			return sqlRowScanner{rows: rows}, nil
		},
		beginTx: func(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
			return db.BeginTx(ctx, nil)
		},
		commit: func(tx *sql.Tx) error {
			return tx.Commit()
		},
	}
}

func (s *Store) execHook(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(ctx, db, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func (s *Store) queryItHook(ctx context.Context, db queryer, query string, args ...any) (rowScanner, error) {
	if s.hooks.queryIt != nil {
		return s.hooks.queryIt(ctx, db, query, args...)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRowScanner{rows: rows}, nil
}

func (s *Store) beginTxHook(ctx context.Context) (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(ctx, s.db)
	}
	return s.db.BeginTx(ctx, nil)
}

func (s *Store) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// New creates a new Store with the given configuration.
// It creates the data directory if needed, opens SQLite with WAL mode,
// and runs migrations.
func New(cfg Config) (*Store, error) {
	if cfg.MaxSearchResults <= 0 {
		cfg.MaxSearchResults = DefaultConfig().MaxSearchResults
	}
	if cfg.PromoteAfter <= 0 {
		cfg.PromoteAfter = DefaultConfig().PromoteAfter
	}
	if cfg.DemoteAfter <= 0 {
		cfg.DemoteAfter = DefaultConfig().DemoteAfter
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	// Immediate transactions take the write lock up front and wait on
	// busy_timeout instead of failing on lock upgrade.
	pragmas := []string{
		"journal_mode(WAL)",
		"busy_timeout(5000)",
		"synchronous(NORMAL)",
		"foreign_keys(1)",
	}
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	q.Set("_txlock", "immediate")

	dbPath := filepath.Join(cfg.DataDir, "turnloop.db")
	db, err := openDB("sqlite", "file:"+dbPath+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: ping database: %w", err)
	}

	s := &Store{db: db, cfg: cfg, hooks: defaultStoreHooks(), now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: migration: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Config returns the configuration the store was opened with.
func (s *Store) Config() Config {
	return s.cfg
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT    NOT NULL UNIQUE,
			topic           TEXT    NOT NULL,
			keywords        TEXT    NOT NULL DEFAULT '',
			purpose         TEXT    NOT NULL DEFAULT '',
			content         TEXT    NOT NULL,
			scope           TEXT    NOT NULL DEFAULT 'new',
			quality         REAL    NOT NULL DEFAULT 0.5,
			owner           TEXT,
			origin          TEXT    NOT NULL DEFAULT '',
			created_at      TEXT    NOT NULL,
			updated_at      TEXT    NOT NULL,
			expires_at      TEXT,
			version         INTEGER NOT NULL DEFAULT 1,
			positive_streak INTEGER NOT NULL DEFAULT 0,
			negative_streak INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_doc_topic   ON documents(topic);
		CREATE INDEX IF NOT EXISTS idx_doc_scope   ON documents(scope, owner);
		CREATE INDEX IF NOT EXISTS idx_doc_created ON documents(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_doc_expires ON documents(expires_at);

		CREATE TABLE IF NOT EXISTS document_types (
			doc_id       TEXT NOT NULL,
			content_type TEXT NOT NULL,
			PRIMARY KEY (doc_id, content_type),
			FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_doctype_type ON document_types(content_type);

		CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
			topic,
			keywords,
			purpose,
			content,
			content='documents',
			content_rowid='seq'
		);
	`
	if _, err := s.execHook(ctx, s.db, schema); err != nil {
		return err
	}

	// Turn archive. Active rows carry the full record; archived rows keep
	// the summary index and their record moves to turn_cold.
	if _, err := s.execHook(ctx, s.db, `
		CREATE TABLE IF NOT EXISTS turn_counters (
			user_id     TEXT    PRIMARY KEY,
			last_number INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS turns (
			user_id        TEXT    NOT NULL,
			number         INTEGER NOT NULL,
			trace_id       TEXT    NOT NULL UNIQUE,
			outcome        TEXT    NOT NULL,
			query          TEXT    NOT NULL,
			resolved_query TEXT    NOT NULL DEFAULT '',
			answer         TEXT    NOT NULL DEFAULT '',
			summary        TEXT    NOT NULL,
			record         TEXT,
			tier           TEXT    NOT NULL DEFAULT 'active',
			created_at     TEXT    NOT NULL,
			archived_at    TEXT,
			PRIMARY KEY (user_id, number)
		);

		CREATE INDEX IF NOT EXISTS idx_turns_tier ON turns(tier, created_at);

		CREATE TABLE IF NOT EXISTS turn_cold (
			trace_id    TEXT PRIMARY KEY,
			record      BLOB NOT NULL,
			archived_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS checkpoints (
			trace_id   TEXT    PRIMARY KEY,
			user_id    TEXT    NOT NULL,
			number     INTEGER NOT NULL,
			stage      TEXT    NOT NULL,
			record     TEXT    NOT NULL,
			updated_at TEXT    NOT NULL
		);
	`); err != nil {
		return err
	}

	// Create FTS triggers (idempotent)
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='trigger' AND name='doc_fts_insert'",
	).Scan(&name)

	if err == sql.ErrNoRows {
		triggers := `
			CREATE TRIGGER doc_fts_insert AFTER INSERT ON documents BEGIN
				INSERT INTO documents_fts(rowid, topic, keywords, purpose, content)
				VALUES (new.seq, new.topic, new.keywords, new.purpose, new.content);
			END;

			CREATE TRIGGER doc_fts_delete AFTER DELETE ON documents BEGIN
				INSERT INTO documents_fts(documents_fts, rowid, topic, keywords, purpose, content)
				VALUES ('delete', old.seq, old.topic, old.keywords, old.purpose, old.content);
			END;

			CREATE TRIGGER doc_fts_update AFTER UPDATE ON documents BEGIN
				INSERT INTO documents_fts(documents_fts, rowid, topic, keywords, purpose, content)
				VALUES ('delete', old.seq, old.topic, old.keywords, old.purpose, old.content);
				INSERT INTO documents_fts(rowid, topic, keywords, purpose, content)
				VALUES (new.seq, new.topic, new.keywords, new.purpose, new.content);
			END;
		`
		if _, err := s.execHook(ctx, s.db, triggers); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	return nil
}
