package tools

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/pinchy/internal/providers"
)

// Tool is the contract every built-in or skill-backed tool implements.
// Execute receives per-call routing (channel/session/workspace/...) via
// context, injected by Registry.ExecuteWithContext, so Tool instances
// stay immutable and safe for concurrent calls.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// coreToolNames is the built-in subset ListCore reports. PolicyEngine
// does not consult it, so a profile or deny list can still filter these.
var coreToolNames = map[string]bool{
	"read_file":      true,
	"write_file":     true,
	"exec_shell":     true,
	"save_memory":    true,
	"recall_memory":  true,
	"forget_memory":  true,
	"search_tools":   true,
	"new_session":    true,
}

// toolSynonyms maps a query token to additional tokens it should also
// match against tool name/description during tool search.
var toolSynonyms = map[string][]string{
	"schedule": {"cron"},
	"cron":     {"schedule"},
	"remember": {"memory"},
	"memory":   {"remember", "recall"},
	"recall":   {"memory"},
	"job":      {"cron_job"},
	"forget":   {"delete"},
}

// pluralStems are trivial plural->singular stems applied to query
// tokens before matching (agents->agent, sessions->session).
var pluralStems = map[string]string{
	"agents":   "agent",
	"sessions": "session",
	"tools":    "tool",
	"skills":   "skill",
	"jobs":     "job",
	"memories": "memory",
}

// Registry is the process-wide tool lookup: name -> {metadata,
// dispatcher}. First registration for a given name wins.
type Registry struct {
	mu    sync.RWMutex
	byName map[string]Tool
	order  []string
	skills map[string]*Skill // name -> definition, for sync_skills
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Tool),
		skills: make(map[string]*Skill),
	}
}

// RegisterTool adds a tool. Idempotent: the first registration for a
// name wins and later ones are silently ignored.
func (r *Registry) RegisterTool(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.byName[name]; exists {
		return
	}
	r.byName[name] = t
	r.order = append(r.order, name)
}

// Unregister removes a tool entirely (used by the MCP manager when a
// server's tools are dropped).
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return
	}
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// List returns all tool names in insertion order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ListCore returns the always-on subset of tool names.
func (r *Registry) ListCore() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, n := range r.order {
		if coreToolNames[n] {
			out = append(out, n)
		}
	}
	return out
}

// ToProviderDef renders a Tool as the wire-format ToolDefinition sent
// to LLM providers.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// ProviderDefs returns every registered tool's wire definition,
// insertion order, unfiltered by policy (callers needing policy
// filtering should go through PolicyEngine.FilterTools instead).
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	names := r.List()
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, n := range names {
		if t, ok := r.Get(n); ok {
			defs = append(defs, ToProviderDef(t))
		}
	}
	return defs
}

// Execute dispatches to the registered tool without injecting per-call
// routing context, or fails with an UnknownTool-shaped error result.
// Used by callers that don't carry channel/chat/session routing.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult("UnknownTool: " + name)
	}
	return t.Execute(ctx, args)
}

// ExecuteWithContext dispatches a call with full per-call routing: it
// injects channel/chatID/peerKind/sessionKey into ctx (read back by
// individual tools via the context_keys helpers) before dispatching.
// extra is reserved for future per-call overrides; nil is the normal
// case.
func (r *Registry) ExecuteWithContext(
	ctx context.Context,
	name string,
	args map[string]interface{},
	channel, chatID, peerKind, sessionKey string,
	extra map[string]interface{},
) *Result {
	ctx = WithToolChannel(ctx, channel)
	ctx = WithToolChatID(ctx, chatID)
	ctx = WithToolPeerKind(ctx, peerKind)
	ctx = WithToolSessionKey(ctx, sessionKey)
	return r.Execute(ctx, name, args)
}

// scoredTool is an internal ranking entry for Search.
type scoredTool struct {
	name  string
	score int
}

func expandQueryTokens(raw string) []string {
	raw = strings.ToLower(raw)
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	})
	seen := make(map[string]bool)
	var tokens []string
	add := func(tok string) {
		if tok == "" || seen[tok] {
			return
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}
	for _, f := range fields {
		if stem, ok := pluralStems[f]; ok {
			f = stem
		}
		add(f)
		for _, syn := range toolSynonyms[f] {
			add(syn)
		}
	}
	return tokens
}

// Search ranks tools against a free-text query: lowercase, split on
// spaces, underscores and hyphens, expand via synonym table + plural stemming, score by
// token overlap across name + description, return the top `limit`.
func (r *Registry) Search(query string, limit int) []string {
	tokens := expandQueryTokens(query)
	if len(tokens) == 0 {
		return nil
	}

	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	byName := make(map[string]Tool, len(r.byName))
	for k, v := range r.byName {
		byName[k] = v
	}
	r.mu.RUnlock()

	var scored []scoredTool
	for _, name := range names {
		t := byName[name]
		haystack := strings.ToLower(name + " " + t.Description())
		score := 0
		for _, tok := range tokens {
			if strings.Contains(haystack, tok) {
				score++
			}
		}
		if score > 0 {
			scored = append(scored, scoredTool{name: name, score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.name
	}
	return out
}
