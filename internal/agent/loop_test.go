package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/pinchy/internal/config"
	"github.com/nextlevelbuilder/pinchy/internal/contextmgr"
	"github.com/nextlevelbuilder/pinchy/internal/providers"
	"github.com/nextlevelbuilder/pinchy/internal/sessions"
	"github.com/nextlevelbuilder/pinchy/internal/tools"
	"github.com/nextlevelbuilder/pinchy/internal/tracing"
)

// scriptedProvider replays a fixed sequence of responses, one per Chat
// call.
type scriptedProvider struct {
	responses []string
	calls     int
}

func (s *scriptedProvider) Name() string         { return "scripted" }
func (s *scriptedProvider) DefaultModel() string { return "scripted-model" }
func (s *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return &providers.ChatResponse{Content: s.responses[idx]}, nil
}
func (s *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return s.Chat(ctx, req)
}

func newTestLoop(t *testing.T, p providers.Provider) (*Loop, string) {
	t.Helper()
	home := t.TempDir()
	workspace := filepath.Join(home, "agents", "tester", "workspace")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatal(err)
	}

	registry := tools.NewRegistry()
	registry.RegisterTool(tools.NewReadFileTool(workspace, true))
	registry.RegisterTool(tools.NewWriteFileTool(workspace, true))

	sessStore := sessions.New(workspace, home)
	manager := providers.NewManager([]providers.Provider{p}, 1, true)

	loop := NewLoop(
		config.AgentConfig{ID: "tester"},
		workspace,
		sessStore,
		nil,
		registry,
		manager,
		nil,
		tracing.NewCollector(nil),
		contextmgr.Budget{MaxTokens: 64000, PruneThreshold: 32000, CompactThreshold: 48000},
	)
	return loop, workspace
}

func countSessionLines(t *testing.T, workspace, sessionID string) []sessions.Exchange {
	t.Helper()
	store := sessions.New(workspace, filepath.Dir(workspace))
	history, err := store.LoadHistory(sessionID, 0)
	if err != nil {
		t.Fatal(err)
	}
	return history
}

func TestRunTurnExecutesFencedToolCallThenFinalReply(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		"```json\n{\"name\":\"read_file\",\"args\":{\"path\":\"test.txt\"}}\n```",
		"Here is the content you asked for.",
	}}
	loop, workspace := newTestLoop(t, p)
	if err := os.WriteFile(filepath.Join(workspace, "test.txt"), []byte("hello from test"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := loop.RunTurn(context.Background(), IncomingMessage{
		AgentID: "tester", Author: "alice", Content: "read test.txt", Channel: "chat",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Reply != "Here is the content you asked for." {
		t.Fatalf("got reply %q", result.Reply)
	}
	if result.ToolCalls != 1 {
		t.Fatalf("expected 1 tool call, got %d", result.ToolCalls)
	}

	history := countSessionLines(t, workspace, result.SessionID)
	if len(history) != 2 {
		t.Fatalf("expected exactly 2 session lines, got %d: %+v", len(history), history)
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Fatalf("unexpected roles: %s, %s", history[0].Role, history[1].Role)
	}
	if history[1].Content != result.Reply {
		t.Fatalf("assistant line %q != reply %q", history[1].Content, result.Reply)
	}
}

func TestRunTurnEnforcementRetry(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		"Sure, I can help with that!",
		"```json\n{\"name\":\"write_file\",\"args\":{\"path\":\"output.txt\",\"content\":\"enforcement retry worked\"}}\n```",
		"Done! The file has been written.",
	}}
	loop, workspace := newTestLoop(t, p)

	result, err := loop.RunTurn(context.Background(), IncomingMessage{
		AgentID: "tester", Author: "alice", Content: "write the file", Channel: "chat",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Reply != "Done! The file has been written." {
		t.Fatalf("got reply %q", result.Reply)
	}

	data, err := os.ReadFile(filepath.Join(workspace, "output.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "enforcement retry worked" {
		t.Fatalf("file content %q", string(data))
	}
}

func TestRunTurnAcceptsPlainTextWithoutRetryAfterToolCall(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		"```json\n{\"name\":\"read_file\",\"args\":{\"path\":\"missing.txt\"}}\n```",
		"The file does not exist.",
	}}
	loop, _ := newTestLoop(t, p)

	result, err := loop.RunTurn(context.Background(), IncomingMessage{
		AgentID: "tester", Author: "alice", Content: "read it", Channel: "chat",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Reply != "The file does not exist." {
		t.Fatalf("got %q", result.Reply)
	}
	if p.calls != 2 {
		t.Fatalf("expected 2 provider calls, got %d", p.calls)
	}
}

func TestRunTurnExhaustsToolLoop(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		"```json\n{\"name\":\"read_file\",\"args\":{\"path\":\"loop.txt\"}}\n```",
	}}
	loop, workspace := newTestLoop(t, p)
	if err := os.WriteFile(filepath.Join(workspace, "loop.txt"), []byte("again"), 0o644); err != nil {
		t.Fatal(err)
	}
	loop.MaxToolIterations = 3

	result, err := loop.RunTurn(context.Background(), IncomingMessage{
		AgentID: "tester", Author: "alice", Content: "loop forever", Channel: "chat",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Reply, "tool loop exhausted") {
		t.Fatalf("got %q", result.Reply)
	}
	if result.ToolCalls != 3 {
		t.Fatalf("expected 3 tool calls, got %d", result.ToolCalls)
	}
}

func TestRunTurnPersistsReceipts(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		"```json\n{\"name\":\"read_file\",\"args\":{\"path\":\"r.txt\"}}\n```",
		"done",
	}}
	loop, workspace := newTestLoop(t, p)
	if err := os.WriteFile(filepath.Join(workspace, "r.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := loop.RunTurn(context.Background(), IncomingMessage{
		AgentID: "tester", Author: "alice", Content: "go", Channel: "chat",
	})
	if err != nil {
		t.Fatal(err)
	}

	store := sessions.New(workspace, filepath.Dir(workspace))
	receipts, err := store.LoadReceipts(result.SessionID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(receipts) != 1 {
		t.Fatalf("expected 1 receipt, got %d", len(receipts))
	}
	if receipts[0].Name != "read_file" || !receipts[0].OK {
		t.Fatalf("unexpected receipt %+v", receipts[0])
	}
}

func TestRunTurnUsesExplicitSessionID(t *testing.T) {
	p := &scriptedProvider{responses: []string{"hi there"}}
	loop, _ := newTestLoop(t, p)

	result, err := loop.RunTurn(context.Background(), IncomingMessage{
		AgentID: "tester", Author: "alice", Content: "hello", Channel: "chat",
		SessionID: "pinned-session",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.SessionID != "pinned-session" {
		t.Fatalf("got session %q", result.SessionID)
	}
}
