package providers

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubProvider struct {
	name  string
	calls int
	fn    func(calls int) (*ChatResponse, error)
}

func (s *stubProvider) Name() string        { return s.name }
func (s *stubProvider) DefaultModel() string { return "stub-model" }
func (s *stubProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.calls++
	return s.fn(s.calls)
}
func (s *stubProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	return s.Chat(ctx, req)
}

func TestSendChatWithRetrySucceedsOnFirstProvider(t *testing.T) {
	p := &stubProvider{name: "p1", fn: func(int) (*ChatResponse, error) {
		return &ChatResponse{Content: "ok"}, nil
	}}
	m := NewManager([]Provider{p}, 3, true)
	resp, err := m.SendChatWithRetry(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok" {
		t.Fatalf("got %+v", resp)
	}
}

func TestSendChatWithRetryStopsOnPermanentError(t *testing.T) {
	p := &stubProvider{name: "p1", fn: func(int) (*ChatResponse, error) {
		return nil, &HTTPError{Status: 401, Body: "unauthorized"}
	}}
	m := NewManager([]Provider{p}, 3, true)
	_, err := m.SendChatWithRetry(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if p.calls != 1 {
		t.Fatalf("expected exactly 1 call on permanent error, got %d", p.calls)
	}
}

func TestSendChatWithRetryFallsThroughToNextProvider(t *testing.T) {
	failing := &stubProvider{name: "p1", fn: func(int) (*ChatResponse, error) {
		return nil, errors.New("transient failure")
	}}
	succeeding := &stubProvider{name: "p2", fn: func(int) (*ChatResponse, error) {
		return &ChatResponse{Content: "from p2"}, nil
	}}
	m := NewManager([]Provider{failing, succeeding}, 1, true)
	resp, err := m.SendChatWithRetry(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "from p2" {
		t.Fatalf("got %+v", resp)
	}
}

func TestParseToolCallsFromJSONModernShape(t *testing.T) {
	raw := []byte(`{"choices":[{"message":{"tool_calls":[{"id":"c1","function":{"name":"read_file","arguments":"{\"path\":\"x\"}"}}]}}]}`)
	resp, ok := ParseToolCallsFromJSON(raw)
	if !ok || resp.Kind != SingleFunctionCall || resp.Call.Name != "read_file" {
		t.Fatalf("got %+v, ok=%v", resp, ok)
	}
}

func TestParseToolCallsFromJSONLegacyShape(t *testing.T) {
	raw := []byte(`{"choices":[{"message":{"function_call":{"name":"legacy_tool","arguments":"{}"}}}]}`)
	resp, ok := ParseToolCallsFromJSON(raw)
	if !ok || resp.Kind != SingleFunctionCall || resp.Call.Name != "legacy_tool" {
		t.Fatalf("got %+v, ok=%v", resp, ok)
	}
}

func TestParseToolCallsFromJSONNoneReturnsFalse(t *testing.T) {
	raw := []byte(`{"choices":[{"message":{"content":"just text"}}]}`)
	_, ok := ParseToolCallsFromJSON(raw)
	if ok {
		t.Fatal("expected no tool call parsed")
	}
}

func TestSerializeMessagesNullsContentForToolCalls(t *testing.T) {
	msgs := []Message{
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "c1", Name: "t", Arguments: map[string]interface{}{}}}},
	}
	out := SerializeMessages(msgs)
	if out[0]["content"] != nil {
		t.Fatalf("expected nil content, got %v", out[0]["content"])
	}
}

func TestSerializeMessagesToolCallIDOnlyOnToolRole(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "hi", ToolCallID: "leaked"},
		{Role: "tool", Content: "result", ToolCallID: "c1"},
	}
	out := SerializeMessages(msgs)
	if _, present := out[0]["tool_call_id"]; present {
		t.Fatal("tool_call_id should not appear on non-tool messages")
	}
	if out[1]["tool_call_id"] != "c1" {
		t.Fatalf("got %v", out[1]["tool_call_id"])
	}
}

func TestSendChatWithRetryStubWhenNothingConfigured(t *testing.T) {
	t.Setenv("PINCHY_FALLBACK_PROVIDER", "")
	t.Setenv("PINCHY_FALLBACK_API_KEY", "")
	m := NewManager(nil, 1, true)
	resp, err := m.SendChatWithRetry(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.Content, "[stub]") {
		t.Fatalf("expected stub reply, got %q", resp.Content)
	}
}

func TestSendChatWithFunctionsPinsToPrimaryProvider(t *testing.T) {
	failing := &stubProvider{name: "p1", fn: func(int) (*ChatResponse, error) {
		return nil, errors.New("primary down")
	}}
	fallback := &stubProvider{name: "p2", fn: func(int) (*ChatResponse, error) {
		return &ChatResponse{Content: "from p2"}, nil
	}}
	m := NewManager([]Provider{failing, fallback}, 3, true)

	req := ChatRequest{Tools: []ToolDefinition{{Type: "function"}}}
	_, err := m.SendChat(context.Background(), req)
	if err == nil {
		t.Fatal("expected the primary provider's error to surface")
	}
	if failing.calls != 1 {
		t.Fatalf("expected exactly 1 primary call, got %d", failing.calls)
	}
	if fallback.calls != 0 {
		t.Fatalf("function-calling dispatch must not fall over to provider 2, got %d calls", fallback.calls)
	}
}

func TestSendChatWithoutFunctionsStripsToolsAndFallsBack(t *testing.T) {
	failing := &stubProvider{name: "p1", fn: func(int) (*ChatResponse, error) {
		return nil, errors.New("transient")
	}}
	succeeding := &stubProvider{name: "p2", fn: func(int) (*ChatResponse, error) {
		return &ChatResponse{Content: "plain"}, nil
	}}
	m := NewManager([]Provider{failing, succeeding}, 1, false)

	req := ChatRequest{Tools: []ToolDefinition{{Type: "function"}}}
	resp, err := m.SendChat(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "plain" {
		t.Fatalf("got %+v", resp)
	}
}
