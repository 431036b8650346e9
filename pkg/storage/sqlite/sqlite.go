// Package sqlite implements storage.Store on SQLite via database/sql with the
// github.com/mattn/go-sqlite3 driver. Full-text search uses an FTS5 table over
// node content, maintained in the same transaction as the row it describes.
//
// All mutations flow through a single writer goroutine (see writer.go) so
// there is exactly one order of truth for writes; reads go straight to the
// connection pool.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	content       TEXT NOT NULL,
	event_time    DATETIME NOT NULL,
	created_at    DATETIME NOT NULL,
	valid_from    DATETIME NOT NULL,
	valid_until   DATETIME,
	confidence    REAL NOT NULL,
	access_count  INTEGER NOT NULL DEFAULT 0,
	last_accessed DATETIME NOT NULL,
	decay_rate    REAL NOT NULL,
	source_kind   TEXT NOT NULL DEFAULT '',
	source_role   TEXT NOT NULL DEFAULT '',
	session_id    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_nodes_session ON nodes(session_id, kind, event_time);
CREATE INDEX IF NOT EXISTS idx_nodes_kind ON nodes(kind, valid_until);
CREATE INDEX IF NOT EXISTS idx_nodes_decay ON nodes(decay_rate, valid_until);

CREATE TABLE IF NOT EXISTS edges (
	id          TEXT PRIMARY KEY,
	source_id   TEXT NOT NULL REFERENCES nodes(id),
	target_id   TEXT NOT NULL REFERENCES nodes(id),
	relation    TEXT NOT NULL,
	predicate   TEXT NOT NULL DEFAULT '',
	weight      REAL NOT NULL,
	confidence  REAL NOT NULL,
	valid_from  DATETIME NOT NULL,
	valid_until DATETIME,
	evidence    TEXT NOT NULL DEFAULT '[]',
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id, relation);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id, relation);

CREATE TABLE IF NOT EXISTS entities (
	id             TEXT PRIMARY KEY,
	canonical_name TEXT NOT NULL UNIQUE,
	type           TEXT NOT NULL,
	summary        TEXT NOT NULL DEFAULT '',
	first_seen     DATETIME NOT NULL,
	last_updated   DATETIME NOT NULL,
	mention_count  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS entity_aliases (
	entity_id TEXT NOT NULL REFERENCES entities(id),
	alias     TEXT NOT NULL,
	PRIMARY KEY (alias, entity_id)
);

CREATE TABLE IF NOT EXISTS node_entities (
	node_id   TEXT NOT NULL REFERENCES nodes(id),
	entity_id TEXT NOT NULL REFERENCES entities(id),
	PRIMARY KEY (node_id, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_node_entities_entity ON node_entities(entity_id);

CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	first_seen      DATETIME NOT NULL,
	consolidated_at DATETIME
);

CREATE VIRTUAL TABLE IF NOT EXISTS nodes_fts USING fts5(id UNINDEXED, content);
`

// Store implements storage.Store backed by SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	writes chan writeReq
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store at dbPath. ":memory:" opens a private
// in-memory database shared across the connection pool.
func Open(dbPath string, logger *zap.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := dbPath
	if dbPath == ":memory:" {
		// database/sql pools connections; a plain :memory: DSN would give
		// every pooled connection its own empty database.
		dsn = "file:engram?mode=memory&cache=shared"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxIdleConns(1)
		db.SetConnMaxIdleTime(0)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
		writes: make(chan writeReq, writeQueueSize),
	}

	if err := s.verifyFulltextIndex(); err != nil {
		logger.Warn("full-text index corrupt, rebuilding from node table", zap.Error(err))
		if err := s.rebuildFulltextIndex(); err != nil {
			db.Close()
			return nil, fmt.Errorf("rebuilding full-text index: %w", err)
		}
	}

	s.wg.Add(1)
	go s.writer()

	logger.Info("sqlite store opened", zap.String("db_path", dbPath))

	return s, nil
}

// verifyFulltextIndex probes the FTS table so a corrupt index is detected at
// startup instead of at first query.
func (s *Store) verifyFulltextIndex() error {
	if _, err := s.db.Exec(`INSERT INTO nodes_fts(nodes_fts) VALUES('integrity-check')`); err != nil {
		return err
	}

	var n int
	return s.db.QueryRow(`SELECT count(*) FROM nodes_fts`).Scan(&n)
}

// rebuildFulltextIndex derives the FTS table from the node table. The index
// holds every node, active or not; validity filtering happens at query time.
func (s *Store) rebuildFulltextIndex() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DROP TABLE IF EXISTS nodes_fts`); err != nil {
		return fmt.Errorf("dropping fts table: %w", err)
	}
	if _, err := tx.Exec(`CREATE VIRTUAL TABLE nodes_fts USING fts5(id UNINDEXED, content)`); err != nil {
		return fmt.Errorf("recreating fts table: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO nodes_fts(id, content) SELECT id, content FROM nodes`); err != nil {
		return fmt.Errorf("repopulating fts table: %w", err)
	}

	return tx.Commit()
}

// Close drains the writer queue and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.writes)
	s.wg.Wait()

	return s.db.Close()
}

// ftsMatchExpr turns free query text into an FTS5 MATCH expression. Each
// token is quoted so user input cannot inject FTS syntax; tokens are OR-ed
// for recall, with bm25 ranking doing precision.
func ftsMatchExpr(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	})

	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+f+`"`)
	}

	return strings.Join(quoted, " OR ")
}

var _ storage.Store = (*Store)(nil)
