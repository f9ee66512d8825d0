// Package memory implements the SQLite-backed long-term memory store,
// with FTS5 full-text search and an optional embedding cache for
// semantic recall.
package memory

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory (
	key       TEXT PRIMARY KEY,
	value     TEXT NOT NULL,
	tags_json TEXT NOT NULL DEFAULT '[]',
	timestamp INTEGER NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
	key UNINDEXED,
	value,
	tags_json,
	content='memory',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS memory_ai AFTER INSERT ON memory BEGIN
	INSERT INTO memory_fts(rowid, key, value, tags_json)
	VALUES (new.rowid, new.key, new.value, new.tags_json);
END;

CREATE TRIGGER IF NOT EXISTS memory_ad AFTER DELETE ON memory BEGIN
	INSERT INTO memory_fts(memory_fts, rowid, key, value, tags_json)
	VALUES ('delete', old.rowid, old.key, old.value, old.tags_json);
END;

CREATE TRIGGER IF NOT EXISTS memory_au AFTER UPDATE ON memory BEGIN
	INSERT INTO memory_fts(memory_fts, rowid, key, value, tags_json)
	VALUES ('delete', old.rowid, old.key, old.value, old.tags_json);
	INSERT INTO memory_fts(rowid, key, value, tags_json)
	VALUES (new.rowid, new.key, new.value, new.tags_json);
END;

CREATE TABLE IF NOT EXISTS memory_embeddings (
	key TEXT PRIMARY KEY REFERENCES memory(key) ON DELETE CASCADE,
	dim INTEGER NOT NULL,
	vector BLOB NOT NULL
);
`

// Store is a SQLite-backed memory store, one per agent workspace.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the memory database at path and
// applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite has no internal connection pooling story for writers
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply memory schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
