package memory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Entry is one row of the memory table.
type Entry struct {
	Key       string   `json:"key"`
	Value     string   `json:"value"`
	Tags      []string `json:"tags"`
	Timestamp int64    `json:"timestamp"`
}

// ScoredEntry is an Entry annotated with a search relevance score.
type ScoredEntry struct {
	Entry
	Score float64 `json:"score"`
}

func marshalTags(tags []string) (string, error) {
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	b, err := json.Marshal(sorted)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalTags(raw string) []string {
	var tags []string
	if raw == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(raw), &tags)
	return tags
}

// Save upserts a memory entry, refreshing its timestamp and invalidating
// any cached embedding for the key.
func (s *Store) Save(key, value string, tags []string) error {
	tagsJSON, err := marshalTags(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	now := time.Now().Unix()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO memory(key, value, tags_json, timestamp) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, tags_json=excluded.tags_json, timestamp=excluded.timestamp
	`, key, value, tagsJSON, now); err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM memory_embeddings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("invalidate embedding: %w", err)
	}
	return tx.Commit()
}

// Forget deletes key from all tables, reporting whether it existed.
func (s *Store) Forget(key string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM memory WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Get returns the entry stored under key, reporting whether it exists.
func (s *Store) Get(key string) (Entry, bool, error) {
	var e Entry
	var tagsJSON string
	err := s.db.QueryRow(`SELECT key, value, tags_json, timestamp FROM memory WHERE key = ?`, key).
		Scan(&e.Key, &e.Value, &tagsJSON, &e.Timestamp)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get memory: %w", err)
	}
	e.Tags = unmarshalTags(tagsJSON)
	return e, true, nil
}

// Search returns entries matching query (FTS5 MATCH + BM25 ranking), or,
// when query is empty, the most recently touched entries. An optional
// tag filters the result set.
func (s *Store) Search(query, tag string, limit int) ([]ScoredEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	if strings.TrimSpace(query) == "" {
		rows, err := s.db.Query(`
			SELECT key, value, tags_json, timestamp FROM memory
			ORDER BY timestamp DESC LIMIT ?
		`, limit*4)
		if err != nil {
			return nil, fmt.Errorf("list memory: %w", err)
		}
		defer rows.Close()
		return scanScored(rows, tag, limit, 0)
	}

	rows, err := s.db.Query(`
		SELECT m.key, m.value, m.tags_json, m.timestamp, bm25(memory_fts) AS rank
		FROM memory_fts
		JOIN memory m ON m.key = memory_fts.key
		WHERE memory_fts MATCH ?
		ORDER BY rank LIMIT ?
	`, query, limit*4)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()
	return scanScoredRanked(rows, tag, limit)
}

func scanScored(rows *sql.Rows, tag string, limit int, score float64) ([]ScoredEntry, error) {
	var out []ScoredEntry
	for rows.Next() {
		var e Entry
		var tagsJSON string
		if err := rows.Scan(&e.Key, &e.Value, &tagsJSON, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		e.Tags = unmarshalTags(tagsJSON)
		if tag != "" && !hasTag(e.Tags, tag) {
			continue
		}
		out = append(out, ScoredEntry{Entry: e, Score: score})
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func scanScoredRanked(rows *sql.Rows, tag string, limit int) ([]ScoredEntry, error) {
	var out []ScoredEntry
	for rows.Next() {
		var e Entry
		var tagsJSON string
		var rank float64
		if err := rows.Scan(&e.Key, &e.Value, &tagsJSON, &e.Timestamp, &rank); err != nil {
			return nil, fmt.Errorf("scan fts row: %w", err)
		}
		e.Tags = unmarshalTags(tagsJSON)
		if tag != "" && !hasTag(e.Tags, tag) {
			continue
		}
		// bm25() returns lower-is-better; flip sign so higher score means better match.
		out = append(out, ScoredEntry{Entry: e, Score: -rank})
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ErrDimensionMismatch is returned by SearchSemantic when a cached
// embedding's dimension disagrees with the query vector's.
var ErrDimensionMismatch = errors.New("memory: embedding dimension mismatch")

// PromptBlock renders the most recent entries as a compact block, UTF-8
// truncated to fit within maxChars.
func (s *Store) PromptBlock(maxChars int) (string, error) {
	rows, err := s.db.Query(`SELECT key, value, timestamp FROM memory ORDER BY timestamp DESC LIMIT 200`)
	if err != nil {
		return "", fmt.Errorf("list memory for prompt: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var key, value string
		var ts int64
		if err := rows.Scan(&key, &value, &ts); err != nil {
			return "", fmt.Errorf("scan memory row: %w", err)
		}
		line := fmt.Sprintf("- %s: %s\n", key, value)
		if b.Len()+len(line) > maxChars {
			break
		}
		b.WriteString(line)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return truncateUTF8(b.String(), maxChars), nil
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	b := []byte(s)[:max]
	for len(b) > 0 && !isUTF8Boundary(b) {
		b = b[:len(b)-1]
	}
	return string(b)
}

func isUTF8Boundary(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	return b[len(b)-1]&0xC0 != 0x80
}
