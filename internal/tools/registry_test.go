package tools

import (
	"context"
	"strings"
	"testing"
)

type fakeTool struct {
	name string
	desc string
	out  string
}

func (f fakeTool) Name() string                       { return f.name }
func (f fakeTool) Description() string                { return f.desc }
func (f fakeTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }
func (f fakeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return NewResult(f.out)
}

func TestRegisterToolFirstRegistrationWins(t *testing.T) {
	r := NewRegistry()
	r.RegisterTool(fakeTool{name: "echo", out: "first"})
	r.RegisterTool(fakeTool{name: "echo", out: "second"})

	res := r.Execute(context.Background(), "echo", nil)
	if res.ForLLM != "first" {
		t.Fatalf("expected first registration to win, got %q", res.ForLLM)
	}
	if n := len(r.List()); n != 1 {
		t.Fatalf("expected 1 tool, got %d", n)
	}
}

func TestListPreservesInsertionOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"c_tool", "a_tool", "b_tool"} {
		r.RegisterTool(fakeTool{name: name})
	}
	got := r.List()
	want := []string{"c_tool", "a_tool", "b_tool"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v", i, got)
		}
	}
}

func TestListCoreFiltersToAlwaysOnSet(t *testing.T) {
	r := NewRegistry()
	r.RegisterTool(fakeTool{name: "read_file"})
	r.RegisterTool(fakeTool{name: "weather"})
	r.RegisterTool(fakeTool{name: "save_memory"})

	core := r.ListCore()
	if len(core) != 2 {
		t.Fatalf("expected 2 core tools, got %v", core)
	}
	for _, n := range core {
		if n == "weather" {
			t.Fatal("non-core tool leaked into ListCore")
		}
	}
}

func TestExecuteUnknownToolFails(t *testing.T) {
	r := NewRegistry()
	res := r.Execute(context.Background(), "nope", nil)
	if !res.IsError || !strings.Contains(res.ForLLM, "UnknownTool") {
		t.Fatalf("expected UnknownTool error, got %+v", res)
	}
}

func TestSearchMatchesSynonyms(t *testing.T) {
	r := NewRegistry()
	r.RegisterTool(fakeTool{name: "create_cron_job", desc: "Create a recurring cron job"})
	r.RegisterTool(fakeTool{name: "read_file", desc: "Read a file"})

	got := r.Search("schedule", 5)
	if len(got) == 0 || got[0] != "create_cron_job" {
		t.Fatalf("expected synonym match for schedule->cron, got %v", got)
	}
}

func TestSearchAppliesPluralStemming(t *testing.T) {
	r := NewRegistry()
	r.RegisterTool(fakeTool{name: "new_session", desc: "Start a new session"})

	got := r.Search("sessions", 5)
	if len(got) == 0 || got[0] != "new_session" {
		t.Fatalf("expected plural stem sessions->session to match, got %v", got)
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	r := NewRegistry()
	r.RegisterTool(fakeTool{name: "memory_one", desc: "memory"})
	r.RegisterTool(fakeTool{name: "memory_two", desc: "memory"})
	r.RegisterTool(fakeTool{name: "memory_three", desc: "memory"})

	if got := r.Search("memory", 2); len(got) != 2 {
		t.Fatalf("expected 2 results, got %v", got)
	}
}

func TestSearchRanksByTokenOverlap(t *testing.T) {
	r := NewRegistry()
	r.RegisterTool(fakeTool{name: "save_memory", desc: "Save a memory entry with a key"})
	r.RegisterTool(fakeTool{name: "exec_shell", desc: "Run a shell command"})

	got := r.Search("remember key", 5)
	if len(got) == 0 || got[0] != "save_memory" {
		t.Fatalf("expected save_memory ranked first, got %v", got)
	}
}
