package providers

import "strings"

// openAICompatAliases are provider_id keywords routed to the generic
// OpenAI-compatible client (same wire format, different base URL).
var openAICompatAliases = map[string]string{
	"openrouter":    "https://openrouter.ai/api/v1",
	"ollama":        "http://localhost:11434/v1",
	"groq":          "https://api.groq.com/openai/v1",
	"together":      "https://api.together.xyz/v1",
	"fireworks":     "https://api.fireworks.ai/inference/v1",
	"mistral":       "https://api.mistral.ai/v1",
	"lmstudio":      "http://localhost:1234/v1",
	"vllm":          "http://localhost:8000/v1",
	"deepseek":      "https://api.deepseek.com/v1",
	"xai":           "https://api.x.ai/v1",
	"compat":        "",
	"openai_compat": "",
}

// NewProvider selects a concrete Provider implementation by providerID
// keyword.
func NewProvider(providerID, apiKey, apiBase, defaultModel string) Provider {
	id := strings.ToLower(providerID)

	switch {
	case strings.Contains(id, "copilot"):
		return NewOpenAIProvider("copilot", apiKey, orDefault(apiBase, "https://api.githubcopilot.com"), defaultModel)
	case strings.Contains(id, "azure"):
		return NewOpenAIProvider("azure", apiKey, apiBase, defaultModel)
	case strings.Contains(id, "dashscope") || strings.Contains(id, "qwen"):
		return NewDashScopeProvider(apiKey, apiBase, defaultModel)
	case strings.Contains(id, "anthropic") || strings.Contains(id, "claude"):
		return NewAnthropicProvider(apiKey, WithAnthropicBaseURL(orDefault(apiBase, anthropicAPIBase)), WithAnthropicModel(defaultModel))
	}

	for alias, base := range openAICompatAliases {
		if strings.Contains(id, alias) {
			return NewOpenAIProvider(alias, apiKey, orDefault(apiBase, base), defaultModel)
		}
	}

	if strings.Contains(id, "openai") {
		return NewOpenAIProvider("openai", apiKey, apiBase, defaultModel)
	}

	// Unknown provider_id: treat as an OpenAI-compatible endpoint, the
	// widest-compatibility default.
	return NewOpenAIProvider(id, apiKey, apiBase, defaultModel)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
