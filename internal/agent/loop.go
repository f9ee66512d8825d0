// Package agent runs one conversational turn: resolving the session,
// assembling the prompt, dispatching to a provider, executing any tool
// calls the model requests, and persisting the exchange.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/pinchy/internal/bootstrap"
	"github.com/nextlevelbuilder/pinchy/internal/bus"
	"github.com/nextlevelbuilder/pinchy/internal/config"
	"github.com/nextlevelbuilder/pinchy/internal/contextmgr"
	"github.com/nextlevelbuilder/pinchy/internal/providers"
	"github.com/nextlevelbuilder/pinchy/internal/sessions"
	"github.com/nextlevelbuilder/pinchy/internal/store"
	"github.com/nextlevelbuilder/pinchy/internal/toolcall"
	"github.com/nextlevelbuilder/pinchy/internal/tools"
	"github.com/nextlevelbuilder/pinchy/internal/tracing"
	"github.com/nextlevelbuilder/pinchy/pkg/protocol"
)

const (
	defaultMaxToolIterations = 8
	defaultHistoryLimit      = 40
	defaultMemoryPromptChars = 2000
)

// IncomingMessage is one inbound turn request: a message for an agent to
// respond to, on a given channel, optionally pinned to an explicit
// session.
type IncomingMessage struct {
	AgentID   string
	Author    string
	Content   string
	Channel   string
	Timestamp int64
	SessionID string
	Media     []string // local paths of attached images, if any
}

// TurnResult is what a completed turn produced.
type TurnResult struct {
	SessionID string
	Reply     string
	ToolCalls int
}

// leaser is satisfied by store.SessionStore implementations (currently
// only *sessions.Store) that support per-session exclusive turn
// serialization. Implementations without it (e.g. the pg backend, which
// relies on transactional writes instead) simply skip the lease.
type leaser interface {
	Lease(id string) (unlock func())
}

// metaUpdater is satisfied by session stores that keep the rewritable
// per-session meta side-file (currently only *sessions.Store).
type metaUpdater interface {
	UpdateMeta(id string, fn func(*sessions.Meta)) error
}

// Loop runs turns for one agent.
type Loop struct {
	Config    config.AgentConfig
	Workspace string

	Sessions  store.SessionStore
	Memory    store.MemoryStore
	Tools     *tools.Registry
	Policy    *tools.PolicyEngine // optional; nil means every registered tool is offered
	Providers *providers.ProviderManager
	Bus       *bus.MessageBus
	Tracer    *tracing.Collector

	Budget            contextmgr.Budget
	MaxToolIterations int
	HistoryLimit      int
}

// NewLoop builds a Loop wiring the already-constructed components
// together. budget is used as given; MaxToolIterations comes from cfg
// when set and positive, else defaultMaxToolIterations.
func NewLoop(cfg config.AgentConfig, workspace string, sessionStore store.SessionStore, memoryStore store.MemoryStore, registry *tools.Registry, providerManager *providers.ProviderManager, msgBus *bus.MessageBus, tracer *tracing.Collector, budget contextmgr.Budget) *Loop {
	maxIter := defaultMaxToolIterations
	if cfg.MaxToolIterations != nil && *cfg.MaxToolIterations > 0 {
		maxIter = *cfg.MaxToolIterations
	}
	return &Loop{
		Config:            cfg,
		Workspace:         workspace,
		Sessions:          sessionStore,
		Memory:            memoryStore,
		Tools:             registry,
		Providers:         providerManager,
		Bus:               msgBus,
		Tracer:            tracer,
		Budget:            budget,
		MaxToolIterations: maxIter,
		HistoryLimit:      defaultHistoryLimit,
	}
}

// RunTurn executes the full agent turn loop for one inbound message.
func (l *Loop) RunTurn(ctx context.Context, msg IncomingMessage) (TurnResult, error) {
	traceID := uuid.New()
	turnSpanID := uuid.New()
	ctx = tracing.WithTraceID(ctx, traceID)
	ctx = tracing.WithCollector(ctx, l.Tracer)
	ctx = tracing.WithParentSpanID(ctx, turnSpanID)

	turnStart := time.Now().Unix()
	defer func() {
		l.Tracer.Record(ctx, tracing.Span{
			TraceID: traceID, SpanID: turnSpanID, Name: "agent.turn",
			StartedAt: turnStart, EndedAt: time.Now().Unix(),
			Attrs: map[string]interface{}{"agent_id": msg.AgentID, "channel": msg.Channel},
		})
	}()

	now := msg.Timestamp
	if now == 0 {
		now = time.Now().Unix()
	}

	// Step 1: resolve session id.
	sessionID, _, err := l.Sessions.ResolveSessionID(msg.SessionID, msg.AgentID, msg.Channel, now)
	if err != nil {
		return TurnResult{}, fmt.Errorf("resolve session: %w", err)
	}
	if ls, ok := l.Sessions.(leaser); ok {
		unlock := ls.Lease(sessionID)
		defer unlock()
	}

	// Step 2: load history.
	history, err := l.Sessions.LoadHistory(sessionID, l.HistoryLimit)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load history: %w", err)
	}

	// Step 3: assemble prompt.
	nonce := uuid.NewString()
	messages, err := l.assemblePrompt(history, msg, nonce)
	if err != nil {
		return TurnResult{}, fmt.Errorf("assemble prompt: %w", err)
	}

	userExchange := sessions.Exchange{Timestamp: now, Role: "user", Content: msg.Content}
	if err := l.Sessions.Append(sessionID, userExchange); err != nil {
		return TurnResult{}, fmt.Errorf("persist user exchange: %w", err)
	}
	l.publish(msg.AgentID, sessionID, "user", msg.Content, "", true)

	toolDefs := l.Tools.ProviderDefs()
	if l.Policy != nil {
		toolDefs = l.Policy.FilterTools(l.Tools, l.Config.ID, "", l.Config.ToolPolicy, nil, false, false)
	}

	var finalReply string
	toolCallCount := 0
	enforcementRetried := false
	var inputTokens, outputTokens int64
	var lastPromptTokens int

	for iteration := 0; iteration < l.MaxToolIterations; iteration++ {
		messages = contextmgr.Trim(ctx, messages, l.Budget, l.summarize)

		req := providers.ChatRequest{Messages: messages}
		if len(toolDefs) > 0 {
			req.Tools = toolDefs
		}

		// SendChat routes tool-bearing requests to the primary provider's
		// function-calling path; tool-free requests get retry+fallback.
		resp, err := l.Providers.SendChat(ctx, req)
		if err != nil {
			return TurnResult{}, fmt.Errorf("provider dispatch: %w", err)
		}
		if resp.Usage != nil {
			inputTokens += int64(resp.Usage.PromptTokens)
			outputTokens += int64(resp.Usage.CompletionTokens)
			lastPromptTokens = resp.Usage.PromptTokens
		}

		calls := resp.ToolCalls
		if len(calls) == 0 {
			if fenced, ok := toolcall.ParseRequest(resp.Content); ok {
				calls = []providers.ToolCall{{ID: fenced.Nonce, Name: fenced.Name, Arguments: fenced.Args}}
				if calls[0].ID == "" {
					calls[0].ID = uuid.NewString()
				}
			}
		}

		if len(calls) == 0 {
			// Enforcement retry: only when the turn has not progressed at
			// all yet — no tool call executed and no fenced call in the
			// text. Plain text after a successful tool call is simply the
			// final answer.
			supportsFunctions := len(toolDefs) > 0
			if supportsFunctions && !enforcementRetried && toolCallCount == 0 && !toolcall.IsToolCallOnly(resp.Content) && strings.TrimSpace(resp.Content) != "" {
				enforcementRetried = true
				messages = append(messages, providers.Message{Role: "assistant", Content: resp.Content})
				messages = append(messages, providers.Message{
					Role: "system",
					Content: fmt.Sprintf(
						"Reminder: respond either with a concrete final answer, or a single fenced ```json tool call block of the form {\"name\":..., \"args\":..., \"nonce\":%q}.",
						nonce,
					),
				})
				continue
			}
			finalReply = resp.Content
			break
		}

		messages = append(messages, providers.Message{Role: "assistant", Content: "", ToolCalls: calls})

		for _, call := range calls {
			toolCallCount++
			callStart := time.Now()
			result := l.dispatchTool(ctx, traceID, msg, sessionID, call)

			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: call.ID,
			})

			receipt := sessions.Receipt{
				Timestamp:     time.Now().Unix(),
				CallID:        call.ID,
				Name:          call.Name,
				ArgsPreview:   previewArgs(call.Arguments),
				ResultSummary: previewText(result.ForLLM, 200),
				DurationMS:    time.Since(callStart).Milliseconds(),
				OK:            !result.IsError,
			}
			_ = l.Sessions.AppendReceipt(sessionID, receipt)
			l.publish(msg.AgentID, sessionID, "tool", result.ForLLM, call.Name, !result.IsError)
		}

		if iteration == l.MaxToolIterations-1 {
			finalReply = "[tool loop exhausted]"
		}
	}

	finalReply = SanitizeAssistantContent(finalReply)
	if finalReply == "" {
		finalReply = "[tool loop exhausted]"
	}

	assistantExchange := sessions.Exchange{Timestamp: time.Now().Unix(), Role: "assistant", Content: finalReply}
	if err := l.Sessions.Append(sessionID, assistantExchange); err != nil {
		return TurnResult{}, fmt.Errorf("persist assistant exchange: %w", err)
	}
	if !IsSilentReply(finalReply) {
		l.publish(msg.AgentID, sessionID, "assistant", finalReply, "", true)
	}

	// Per-session bookkeeping rides in the rewritable meta side-file so
	// the exchange log itself stays append-only.
	if ms, ok := l.Sessions.(metaUpdater); ok {
		_ = ms.UpdateMeta(sessionID, func(m *sessions.Meta) {
			m.Channel = msg.Channel
			m.InputTokens += inputTokens
			m.OutputTokens += outputTokens
			if lastPromptTokens > 0 {
				m.LastPromptTokens = lastPromptTokens
			}
			m.LastMessageCount = len(messages)
		})
	}

	return TurnResult{SessionID: sessionID, Reply: finalReply, ToolCalls: toolCallCount}, nil
}

// assemblePrompt builds the leading system messages (bootstrap context,
// active skills, the memory block), followed by loaded history and the
// incoming user message.
func (l *Loop) assemblePrompt(history []sessions.Exchange, msg IncomingMessage, nonce string) ([]providers.Message, error) {
	var out []providers.Message

	files, err := bootstrap.Load(l.Workspace)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		out = append(out, providers.Message{Role: "system", Content: f.Content})
	}

	skills, err := bootstrap.LoadSkills(l.Workspace, l.Config.EnabledSkills)
	if err != nil {
		return nil, err
	}
	for _, s := range skills {
		out = append(out, providers.Message{Role: "system", Content: fmt.Sprintf("## Skill: %s\n\n%s", s.Path, s.Content)})
	}

	if l.Memory != nil {
		block, err := l.Memory.PromptBlock(defaultMemoryPromptChars)
		if err == nil && strings.TrimSpace(block) != "" {
			out = append(out, providers.Message{Role: "system", Content: block})
		}
	}

	out = append(out, providers.Message{Role: "system", Content: fmt.Sprintf("turn-nonce: %s", nonce)})

	for _, ex := range history {
		role := ex.Role
		if role == "" {
			role = "user"
		}
		out = append(out, providers.Message{Role: role, Content: ex.Content})
	}

	userMsg := providers.Message{Role: "user", Content: msg.Content}
	if imgs := loadImages(msg.Media); len(imgs) > 0 {
		userMsg.Images = imgs
	}
	out = append(out, userMsg)
	return out, nil
}

// summarize performs the context manager's LLM-compaction stage: one
// extra, tool-free provider call asking for a summary of the messages
// being dropped. A provider error just means compaction is skipped for
// this turn and the next pipeline stage (hard truncation) takes over.
func (l *Loop) summarize(ctx context.Context, toSummarize []providers.Message, existingSummary string) (string, error) {
	prompt := "Summarize the following conversation excerpt concisely, preserving facts and decisions a later turn would need."
	if existingSummary != "" {
		prompt += "\n\nExisting summary so far:\n" + existingSummary
	}
	req := providers.ChatRequest{Messages: append([]providers.Message{
		{Role: "system", Content: prompt},
	}, toSummarize...)}
	resp, err := l.Providers.SendChat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("compact summarize: %w", err)
	}
	return resp.Content, nil
}

func (l *Loop) dispatchTool(ctx context.Context, traceID uuid.UUID, msg IncomingMessage, sessionID string, call providers.ToolCall) *tools.Result {
	toolSpanID := uuid.New()
	start := time.Now().Unix()
	defer func() {
		l.Tracer.Record(ctx, tracing.Span{
			TraceID: traceID, SpanID: toolSpanID, ParentID: tracing.ParentSpanIDFromContext(ctx),
			Name: "agent.tool_call", StartedAt: start, EndedAt: time.Now().Unix(),
			Attrs: map[string]interface{}{"tool": call.Name},
		})
	}()

	ctx = tools.WithToolWorkspace(ctx, l.Workspace)
	return l.Tools.ExecuteWithContext(ctx, call.Name, call.Arguments, msg.Channel, msg.Author, "direct", sessionID, nil)
}

// publish emits a turn event to the bus when one is configured. Broadcast
// runs the subscribers synchronously, so the turn continues once they
// have returned.
func (l *Loop) publish(agentID, sessionID, role, content, tool string, ok bool) {
	if l.Bus == nil {
		return
	}
	kind := protocol.TurnEventTurn
	if tool != "" {
		kind = protocol.TurnEventToolResult
	}
	l.Bus.Broadcast(bus.Event{
		Name: protocol.EventAgent,
		Payload: protocol.TurnEvent{
			Type:      kind,
			AgentID:   agentID,
			SessionID: sessionID,
			Role:      role,
			Content:   content,
			Tool:      tool,
			OK:        ok,
			TS:        time.Now().Unix(),
		},
	})
}

func previewArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	var parts []string
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return previewText(strings.Join(parts, ", "), 160)
}

func previewText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
