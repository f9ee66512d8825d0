package contextmgr

import (
	"context"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/pinchy/internal/providers"
)

func TestEstimateTokensNonEmpty(t *testing.T) {
	if EstimateTokens("") != 0 {
		t.Fatal("empty string should estimate to 0 tokens")
	}
	if EstimateTokens("hello world") <= 0 {
		t.Fatal("expected positive token estimate")
	}
}

func TestTrimIsNoopUnderBudget(t *testing.T) {
	msgs := []providers.Message{
		{Role: "system", Content: "you are an assistant"},
		{Role: "user", Content: "hi"},
	}
	budget := Budget{MaxTokens: 100000, PruneThreshold: 90000, CompactThreshold: 95000}
	out := Trim(context.Background(), msgs, budget, nil)
	if len(out) != len(msgs) {
		t.Fatalf("expected no change, got %+v", out)
	}
}

func TestTrimPrunesOversizedToolResults(t *testing.T) {
	var msgs []providers.Message
	msgs = append(msgs, providers.Message{Role: "system", Content: "sys"})
	for i := 0; i < 20; i++ {
		msgs = append(msgs, providers.Message{Role: "user", Content: "hello there, this is a reasonably sized message " + strings.Repeat("x", 50)})
		msgs = append(msgs, providers.Message{Role: "tool", Content: strings.Repeat("y", 500), ToolCallID: "c1"})
	}
	budget := Budget{MaxTokens: 100000, PruneThreshold: 10, CompactThreshold: 99999}
	out := Trim(context.Background(), msgs, budget, nil)

	prunedSomething := false
	for _, m := range out[:len(out)-keepRecent] {
		if m.Role == "tool" && strings.Contains(m.Content, "[tool result pruned") {
			prunedSomething = true
		}
	}
	if !prunedSomething {
		t.Fatal("expected at least one oversized tool result to be pruned")
	}
	// tool results within the last keepRecent messages should remain untouched
	tail := out[len(out)-keepRecent:]
	for _, m := range tail {
		if m.Role == "tool" && strings.Contains(m.Content, "[tool result pruned") {
			t.Fatal("recent tool result should not be pruned")
		}
	}
}

func TestTrimRunsLLMCompactionWhenOverThreshold(t *testing.T) {
	var msgs []providers.Message
	msgs = append(msgs, providers.Message{Role: "system", Content: "sys"})
	for i := 0; i < 30; i++ {
		msgs = append(msgs, providers.Message{Role: "user", Content: strings.Repeat("word ", 200)})
		msgs = append(msgs, providers.Message{Role: "assistant", Content: strings.Repeat("reply ", 200)})
	}
	budget := Budget{MaxTokens: 1000000, PruneThreshold: 10, CompactThreshold: 20}
	called := false
	summarize := func(_ context.Context, toSummarize []providers.Message, _ string) (string, error) {
		called = true
		return "summary of the middle", nil
	}
	out := Trim(context.Background(), msgs, budget, summarize)
	if !called {
		t.Fatal("expected summarize to be invoked")
	}
	found := false
	for _, m := range out {
		if strings.Contains(m.Content, "<compacted_history>") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a compacted_history system message in output")
	}
}

func TestTrimHardTruncatesWhenSummarizeFails(t *testing.T) {
	var msgs []providers.Message
	msgs = append(msgs, providers.Message{Role: "system", Content: "sys"})
	for i := 0; i < 50; i++ {
		msgs = append(msgs, providers.Message{Role: "user", Content: strings.Repeat("word ", 500)})
	}
	budget := Budget{MaxTokens: 2000, PruneThreshold: 10, CompactThreshold: 20}
	summarize := func(context.Context, []providers.Message, string) (string, error) {
		return "", context.DeadlineExceeded
	}
	out := Trim(context.Background(), msgs, budget, summarize)
	if len(out) >= len(msgs) {
		t.Fatalf("expected truncation to shrink message count, got %d from %d", len(out), len(msgs))
	}
	if out[0].Role != "system" {
		t.Fatal("expected leading system message preserved")
	}
}

func TestTrimIsIdempotentWhenAlreadyUnderBudget(t *testing.T) {
	msgs := []providers.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	budget := Budget{MaxTokens: 100000, PruneThreshold: 90000, CompactThreshold: 95000}
	first := Trim(context.Background(), msgs, budget, nil)
	second := Trim(context.Background(), first, budget, nil)
	if len(first) != len(second) {
		t.Fatalf("expected idempotent trim, got %d vs %d", len(first), len(second))
	}
}
