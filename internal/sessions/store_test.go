package sessions

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return New(dir, dir), dir
}

func TestLoadCurrentReturnsFalseWhenMissing(t *testing.T) {
	s, _ := newTestStore(t)
	if _, ok := s.LoadCurrent(); ok {
		t.Fatal("expected no current session")
	}
}

func TestSetThenLoadCurrent(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.SetCurrent("sess-abc"); err != nil {
		t.Fatal(err)
	}
	id, ok := s.LoadCurrent()
	if !ok || id != "sess-abc" {
		t.Fatalf("got %q, %v", id, ok)
	}
}

func TestClearCurrentIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.ClearCurrent(); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearCurrent(); err != nil {
		t.Fatal(err)
	}
}

func TestAppendCreatesFileAndLoadsBack(t *testing.T) {
	s, _ := newTestStore(t)
	id := "sess-1"
	if err := s.Append(id, Exchange{Timestamp: 1000, Role: "user", Content: "ping"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(id, Exchange{Timestamp: 1001, Role: "assistant", Content: "pong"}); err != nil {
		t.Fatal(err)
	}
	history, err := s.LoadHistory(id, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Content != "pong" {
		t.Fatalf("got %+v", history)
	}
}

func TestLoadHistoryRespectsLimit(t *testing.T) {
	s, _ := newTestStore(t)
	id := "sess-lim"
	for i := 0; i < 20; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := s.Append(id, Exchange{Timestamp: int64(i), Role: role, Content: "msg"}); err != nil {
			t.Fatal(err)
		}
	}
	history, err := s.LoadHistory(id, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 5 {
		t.Fatalf("got %d", len(history))
	}
	if history[0].Timestamp != 15 || history[4].Timestamp != 19 {
		t.Fatalf("got %+v", history)
	}
}

func TestLoadHistoryReturnsEmptyForMissingFile(t *testing.T) {
	s, _ := newTestStore(t)
	history, err := s.LoadHistory("ghost", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Fatalf("got %+v", history)
	}
}

func TestNewSessionSetsCurrentAndIndex(t *testing.T) {
	s, dir := newTestStore(t)
	id, err := s.NewSession("agent-1", "tui", 42)
	if err != nil {
		t.Fatal(err)
	}
	cur, ok := s.LoadCurrent()
	if !ok || cur != id {
		t.Fatalf("got %q, %v", cur, ok)
	}
	data, err := os.ReadFile(filepath.Join(dir, "sessions", "index.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("expected index entry to be written")
	}
}

func TestResolveSessionIDPrefersExplicit(t *testing.T) {
	s, _ := newTestStore(t)
	id, isNew, err := s.ResolveSessionID("explicit-id", "a1", "tui", 1)
	if err != nil {
		t.Fatal(err)
	}
	if id != "explicit-id" || isNew {
		t.Fatalf("got %q %v", id, isNew)
	}
}

func TestResolveSessionIDCreatesWhenNoCurrent(t *testing.T) {
	s, _ := newTestStore(t)
	id, isNew, err := s.ResolveSessionID("", "a1", "tui", 1)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" || !isNew {
		t.Fatalf("got %q %v", id, isNew)
	}
}

func TestMetadataRoundTrips(t *testing.T) {
	s, _ := newTestStore(t)
	id := "sess-meta"
	if err := s.UpdateMeta(id, func(m *Meta) {
		m.Model = "gpt-4o"
		m.Provider = "openai"
	}); err != nil {
		t.Fatal(err)
	}
	m, err := s.LoadMeta(id)
	if err != nil {
		t.Fatal(err)
	}
	if m.Model != "gpt-4o" || m.Provider != "openai" {
		t.Fatalf("got %+v", m)
	}
}

func TestAppendReceiptAndLoad(t *testing.T) {
	s, _ := newTestStore(t)
	id := "sess-recv"
	if err := s.AppendReceipt(id, Receipt{Timestamp: 1, CallID: "c1", Name: "read_file", OK: true}); err != nil {
		t.Fatal(err)
	}
	receipts, err := s.LoadReceipts(id, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(receipts) != 1 || receipts[0].Name != "read_file" {
		t.Fatalf("got %+v", receipts)
	}
}
