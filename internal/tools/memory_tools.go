package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/pinchy/internal/memory"
	"github.com/nextlevelbuilder/pinchy/internal/providers"
)

// SaveMemoryTool is save_memory: persists a key/value fact with
// optional tags into the agent's memory store.
type SaveMemoryTool struct {
	store *memory.Store
}

func NewSaveMemoryTool(store *memory.Store) *SaveMemoryTool {
	return &SaveMemoryTool{store: store}
}

func (t *SaveMemoryTool) Name() string { return "save_memory" }
func (t *SaveMemoryTool) Description() string {
	return "Save a fact to long-term memory, keyed for later recall."
}
func (t *SaveMemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key":   map[string]interface{}{"type": "string", "description": "Short identifier for this memory"},
			"value": map[string]interface{}{"type": "string", "description": "The fact to remember"},
			"tags":  map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Optional tags"},
		},
		"required": []string{"key", "value"},
	}
}

func (t *SaveMemoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.store == nil {
		return ErrorResult("memory store not available")
	}
	key, _ := args["key"].(string)
	value, _ := args["value"].(string)
	if key == "" || value == "" {
		return ErrorResult("key and value are required")
	}
	tags := stringSliceArg(args["tags"])
	if err := t.store.Save(key, value, tags); err != nil {
		return ErrorResult(fmt.Sprintf("failed to save memory: %v", err))
	}
	return SilentResult(fmt.Sprintf("Saved memory %q", key))
}

// RecallMemoryTool is recall_memory: searches saved facts by keyword
// (FTS5 BM25-ranked) or, with an empty query, lists by recency.
type RecallMemoryTool struct {
	store *memory.Store
}

func NewRecallMemoryTool(store *memory.Store) *RecallMemoryTool {
	return &RecallMemoryTool{store: store}
}

func (t *RecallMemoryTool) Name() string { return "recall_memory" }
func (t *RecallMemoryTool) Description() string {
	return "Search previously saved memories by keyword, optionally filtered by tag."
}
func (t *RecallMemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "Keywords to search for; empty lists most recent"},
			"tag":   map[string]interface{}{"type": "string", "description": "Optional tag filter"},
			"mode":  map[string]interface{}{"type": "string", "description": "Search mode: \"text\" or \"semantic\" (default: semantic when embeddings are available)"},
			"limit": map[string]interface{}{"type": "number", "description": "Max results (default 10)"},
		},
	}
}

func (t *RecallMemoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.store == nil {
		return ErrorResult("memory store not available")
	}
	query, _ := args["query"].(string)
	tag, _ := args["tag"].(string)
	mode, _ := args["mode"].(string)
	limit := 10
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}

	// With no explicit mode, prefer semantic recall when an
	// embedding-capable manager has been published and there is a query
	// to embed. Any embedding failure silently falls back to FTS.
	mgr := providers.GlobalManager()
	if mode == "" && mgr != nil && query != "" {
		mode = "semantic"
	}
	if mode == "semantic" && mgr != nil && query != "" {
		if entries, ok := t.searchSemantic(ctx, mgr, query, tag, limit); ok {
			return renderEntries(entries)
		}
	}

	entries, err := t.store.Search(query, tag, limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("recall failed: %v", err))
	}
	return renderEntries(entries)
}

// searchSemantic embeds the query and any keys missing cached vectors,
// then ranks by cosine similarity. Returns ok=false on any failure so
// the caller can fall back to text search.
func (t *RecallMemoryTool) searchSemantic(ctx context.Context, mgr *providers.ProviderManager, query, tag string, limit int) ([]memory.ScoredEntry, bool) {
	missing, err := t.store.KeysWithoutEmbeddings()
	if err != nil {
		return nil, false
	}
	if len(missing) > 0 {
		var keys []string
		var texts []string
		for _, k := range missing {
			e, found, gerr := t.store.Get(k)
			if gerr != nil {
				return nil, false
			}
			if found {
				keys = append(keys, k)
				texts = append(texts, e.Value)
			}
		}
		vecs, eerr := mgr.Embed(ctx, texts)
		if eerr != nil || vecs == nil {
			return nil, false
		}
		for i, k := range keys {
			if i < len(vecs) && vecs[i] != nil {
				if serr := t.store.SaveEmbedding(k, vecs[i]); serr != nil {
					return nil, false
				}
			}
		}
	}

	qvecs, err := mgr.Embed(ctx, []string{query})
	if err != nil || len(qvecs) == 0 || qvecs[0] == nil {
		return nil, false
	}
	entries, err := t.store.SearchSemantic(qvecs[0], tag, limit)
	if err != nil {
		return nil, false
	}
	return entries, true
}

func renderEntries(entries []memory.ScoredEntry) *Result {
	if len(entries) == 0 {
		return SilentResult("(no matching memories)")
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: %s\n", e.Key, e.Value)
	}
	return SilentResult(b.String())
}

// ForgetMemoryTool is forget_memory: deletes a memory by key.
type ForgetMemoryTool struct {
	store *memory.Store
}

func NewForgetMemoryTool(store *memory.Store) *ForgetMemoryTool {
	return &ForgetMemoryTool{store: store}
}

func (t *ForgetMemoryTool) Name() string        { return "forget_memory" }
func (t *ForgetMemoryTool) Description() string { return "Delete a previously saved memory by key." }
func (t *ForgetMemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{"type": "string", "description": "Key of the memory to delete"},
		},
		"required": []string{"key"},
	}
}

func (t *ForgetMemoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.store == nil {
		return ErrorResult("memory store not available")
	}
	key, _ := args["key"].(string)
	if key == "" {
		return ErrorResult("key is required")
	}
	existed, err := t.store.Forget(key)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to forget memory: %v", err))
	}
	if !existed {
		return SilentResult(fmt.Sprintf("No memory found for key %q", key))
	}
	return SilentResult(fmt.Sprintf("Forgot memory %q", key))
}

func stringSliceArg(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
