package memory

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// SaveEmbedding caches a vector for key.
func (s *Store) SaveEmbedding(key string, vec []float32) error {
	blob := encodeVector(vec)
	_, err := s.db.Exec(`
		INSERT INTO memory_embeddings(key, dim, vector) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET dim=excluded.dim, vector=excluded.vector
	`, key, len(vec), blob)
	if err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	return nil
}

// DeleteEmbedding removes a cached embedding, if any.
func (s *Store) DeleteEmbedding(key string) error {
	if _, err := s.db.Exec(`DELETE FROM memory_embeddings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}
	return nil
}

// KeysWithoutEmbeddings returns memory keys that have no cached
// embedding, for callers that want to backfill the cache.
func (s *Store) KeysWithoutEmbeddings() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT m.key FROM memory m
		LEFT JOIN memory_embeddings e ON e.key = m.key
		WHERE e.key IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("keys without embeddings: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SearchSemantic ranks cached embeddings by cosine similarity against
// queryVec, returning the top limit with an optional tag filter.
func (s *Store) SearchSemantic(queryVec []float32, tag string, limit int) ([]ScoredEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT m.key, m.value, m.tags_json, m.timestamp, e.dim, e.vector
		FROM memory_embeddings e
		JOIN memory m ON m.key = e.key
	`)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	defer rows.Close()

	var candidates []ScoredEntry
	for rows.Next() {
		var e Entry
		var tagsJSON string
		var dim int
		var blob []byte
		if err := rows.Scan(&e.Key, &e.Value, &tagsJSON, &e.Timestamp, &dim, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		e.Tags = unmarshalTags(tagsJSON)
		if tag != "" && !hasTag(e.Tags, tag) {
			continue
		}
		vec := decodeVector(blob, dim)
		if len(vec) != len(queryVec) {
			// A cached vector from a different embedding model would poison
			// the whole ranking; fail loudly so the caller can fall back to
			// text search.
			return nil, fmt.Errorf("key %q: cached dim %d vs query dim %d: %w",
				e.Key, len(vec), len(queryVec), ErrDimensionMismatch)
		}
		candidates = append(candidates, ScoredEntry{Entry: e, Score: cosineSimilarity(queryVec, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte, dim int) []float32 {
	if len(buf) < dim*4 {
		return nil
	}
	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
