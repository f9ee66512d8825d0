package providers

import "strings"

// CleanToolSchemas renders tool definitions in OpenAI's wire shape,
// stripping JSON Schema keywords that specific OpenAI-compatible
// providers reject. Gemini's OpenAI-compat endpoint errors on
// "additionalProperties" and "$schema" inside function parameters;
// other providers tolerate them, so only Gemini requests are scrubbed.
func CleanToolSchemas(providerName string, tools []ToolDefinition) []map[string]interface{} {
	stripUnsupported := strings.Contains(strings.ToLower(providerName), "gemini")

	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		params := t.Function.Parameters
		if stripUnsupported {
			params = cleanSchema(params)
		}
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  params,
			},
		})
	}
	return out
}

func cleanSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	cleaned := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if k == "additionalProperties" || k == "$schema" {
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			v = cleanSchema(nested)
		}
		cleaned[k] = v
	}
	return cleaned
}

// CleanSchemaForProvider strips JSON Schema keywords a single provider's
// tool-parameter schema doesn't accept, for callers (like Anthropic's
// input_schema) that build their tool list entry by entry rather than
// through CleanToolSchemas' whole-list renderer.
func CleanSchemaForProvider(providerName string, params map[string]interface{}) map[string]interface{} {
	name := strings.ToLower(providerName)
	if strings.Contains(name, "gemini") || strings.Contains(name, "anthropic") {
		return cleanSchema(params)
	}
	return params
}
