package pg

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/pinchy/internal/memory"
	"github.com/nextlevelbuilder/pinchy/internal/store"
)

const memorySchemaSQL = `
CREATE TABLE IF NOT EXISTS memory_entries (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '',
	ts BIGINT NOT NULL
);
`

// tagSep joins/splits the comma-free tag list stored in the flat tags
// column; tags themselves may not contain this separator.
const tagSep = "\x1f"

// MemoryStore implements store.MemoryStore against a flat key/value table,
// the Postgres analogue of internal/memory's SQLite-backed Store.
type MemoryStore struct {
	db *sql.DB
}

func NewMemoryStore(db *sql.DB) (*MemoryStore, error) {
	if _, err := db.Exec(memorySchemaSQL); err != nil {
		return nil, fmt.Errorf("create memory schema: %w", err)
	}
	return &MemoryStore{db: db}, nil
}

func (m *MemoryStore) Save(key, value string, tags []string) error {
	_, err := m.db.Exec(
		`INSERT INTO memory_entries (key, value, tags, ts) VALUES ($1,$2,$3,extract(epoch from now())::bigint)
		 ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, tags=EXCLUDED.tags, ts=EXCLUDED.ts`,
		key, value, strings.Join(tags, tagSep),
	)
	return err
}

func (m *MemoryStore) Forget(key string) (bool, error) {
	res, err := m.db.Exec(`DELETE FROM memory_entries WHERE key=$1`, key)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (m *MemoryStore) Search(query, tag string, limit int) ([]memory.ScoredEntry, error) {
	rows, err := m.db.Query(`SELECT key, value, tags, ts FROM memory_entries ORDER BY ts DESC`)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	defer rows.Close()

	var out []memory.ScoredEntry
	q := strings.ToLower(query)
	for rows.Next() {
		var e memory.Entry
		var tagsJoined string
		if err := rows.Scan(&e.Key, &e.Value, &tagsJoined, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		var tags []string
		if tagsJoined != "" {
			tags = strings.Split(tagsJoined, tagSep)
		}
		e.Tags = tags
		if tag != "" && !containsString(tags, tag) {
			continue
		}
		score := 0.0
		if q != "" {
			if strings.Contains(strings.ToLower(e.Key), q) {
				score += 2
			}
			if strings.Contains(strings.ToLower(e.Value), q) {
				score += 1
			}
			if score == 0 {
				continue
			}
		}
		out = append(out, memory.ScoredEntry{Entry: e, Score: score})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func (m *MemoryStore) PromptBlock(maxChars int) (string, error) {
	entries, err := m.Search("", "", 0)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("<memory>\n")
	for _, e := range entries {
		line := fmt.Sprintf("- %s: %s\n", e.Key, e.Value)
		if maxChars > 0 && b.Len()+len(line) > maxChars {
			break
		}
		b.WriteString(line)
	}
	b.WriteString("</memory>")
	return b.String(), nil
}

func containsString(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}

var _ store.MemoryStore = (*MemoryStore)(nil)
