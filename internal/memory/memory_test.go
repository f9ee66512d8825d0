package memory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndSearchByKeyword(t *testing.T) {
	s := newTestDB(t)
	if err := s.Save("fav_color", "the user's favorite color is teal", []string{"preference"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("fav_food", "the user likes ramen", []string{"preference"}); err != nil {
		t.Fatal(err)
	}
	results, err := s.Search("teal", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Key != "fav_color" {
		t.Fatalf("got %+v", results)
	}
}

func TestSearchEmptyQueryListsByRecency(t *testing.T) {
	s := newTestDB(t)
	if err := s.Save("a", "first", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("b", "second", nil); err != nil {
		t.Fatal(err)
	}
	results, err := s.Search("", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %+v", results)
	}
}

func TestSearchFiltersByTag(t *testing.T) {
	s := newTestDB(t)
	if err := s.Save("k1", "project deadline is Friday", []string{"work"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("k2", "project deadline is flexible", []string{"personal"}); err != nil {
		t.Fatal(err)
	}
	results, err := s.Search("deadline", "work", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Key != "k1" {
		t.Fatalf("got %+v", results)
	}
}

func TestForgetDeletesAndReportsExistence(t *testing.T) {
	s := newTestDB(t)
	if err := s.Save("x", "y", nil); err != nil {
		t.Fatal(err)
	}
	existed, err := s.Forget("x")
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Fatal("expected key to have existed")
	}
	existed, err = s.Forget("x")
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Fatal("expected key to no longer exist")
	}
}

func TestSaveInvalidatesEmbedding(t *testing.T) {
	s := newTestDB(t)
	if err := s.Save("k", "v1", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveEmbedding("k", []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("k", "v2", nil); err != nil {
		t.Fatal(err)
	}
	keys, err := s.KeysWithoutEmbeddings()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "k" {
		t.Fatalf("got %+v", keys)
	}
}

func TestSearchSemanticRanksByCosineSimilarity(t *testing.T) {
	s := newTestDB(t)
	if err := s.Save("close", "near", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("far", "distant", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveEmbedding("close", []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveEmbedding("far", []float32{0, 1, 0}); err != nil {
		t.Fatal(err)
	}
	results, err := s.SearchSemantic([]float32{1, 0, 0}, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Key != "close" {
		t.Fatalf("got %+v", results)
	}
}

func TestSearchSemanticFailsOnDimensionMismatch(t *testing.T) {
	s := newTestDB(t)
	if err := s.Save("stale", "cached under an older embedding model", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveEmbedding("stale", []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	_, err := s.SearchSemantic([]float32{1, 0}, "", 10)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestPromptBlockTruncatesAtCharLimit(t *testing.T) {
	s := newTestDB(t)
	for i := 0; i < 50; i++ {
		if err := s.Save("k"+string(rune('a'+i%26)), "a reasonably long memory value to pad things out", nil); err != nil {
			t.Fatal(err)
		}
	}
	block, err := s.PromptBlock(200)
	if err != nil {
		t.Fatal(err)
	}
	if len(block) > 200 {
		t.Fatalf("block exceeds max chars: %d", len(block))
	}
}

func TestMigrateFromJSONLImportsLegacyFile(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"key":"old1","value":"hello","tags":["a"],"timestamp":100}
{"key":"old2","value":"world","tags":[],"timestamp":200}
`
	if err := os.WriteFile(filepath.Join(dir, "memory.jsonl"), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.MigrateFromJSONL(dir); err != nil {
		t.Fatal(err)
	}
	results, err := s.Search("", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %+v", results)
	}
}

func TestMigrateFromJSONLSkipsWhenAlreadyPopulated(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "memory.jsonl"), []byte(`{"key":"legacy","value":"x","timestamp":1}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Save("fresh", "already here", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.MigrateFromJSONL(dir); err != nil {
		t.Fatal(err)
	}
	results, err := s.Search("", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Key != "fresh" {
		t.Fatalf("got %+v", results)
	}
}
