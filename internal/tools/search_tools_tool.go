package tools

import (
	"context"
	"fmt"
	"strings"
)

// SearchToolsTool is search_tools: lets the model discover tools by
// keyword instead of relying on the full list being in its prompt,
// wrapping Registry.Search.
type SearchToolsTool struct {
	registry *Registry
}

func NewSearchToolsTool(registry *Registry) *SearchToolsTool {
	return &SearchToolsTool{registry: registry}
}

func (t *SearchToolsTool) Name() string        { return "search_tools" }
func (t *SearchToolsTool) Description() string { return "Search available tools by keyword." }
func (t *SearchToolsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "Keywords describing the tool you need"},
			"limit": map[string]interface{}{"type": "number", "description": "Max results (default 5)"},
		},
		"required": []string{"query"},
	}
}

func (t *SearchToolsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}
	limit := 5
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}

	names := t.registry.Search(query, limit)
	if len(names) == 0 {
		return SilentResult("(no matching tools)")
	}

	var b strings.Builder
	for _, name := range names {
		tool, ok := t.registry.Get(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, tool.Description())
	}
	return SilentResult(b.String())
}
