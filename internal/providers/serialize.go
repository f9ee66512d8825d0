package providers

import "encoding/json"

// SerializeMessages renders messages as the canonical OpenAI-compatible
// wire array: content is null when role is assistant and tool_calls is
// present and content is empty; tool_call_id appears only on messages
// with role "tool".
func SerializeMessages(messages []Message) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(messages))
	for _, m := range messages {
		msg := map[string]interface{}{"role": m.Role}

		if len(m.ToolCalls) > 0 {
			tcs := make([]map[string]interface{}, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				tcs[i] = map[string]interface{}{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      tc.Name,
						"arguments": string(argsJSON),
					},
				}
			}
			msg["tool_calls"] = tcs
			if m.Content == "" {
				msg["content"] = nil
			} else {
				msg["content"] = m.Content
			}
		} else {
			msg["content"] = m.Content
		}

		if m.Role == "tool" && m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}

		out = append(out, msg)
	}
	return out
}

// FunctionCallItem is one parsed tool call.
type FunctionCallItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ProviderResponseKind discriminates ParseToolCallsFromJSON's result.
type ProviderResponseKind int

const (
	NoFunctionCall ProviderResponseKind = iota
	SingleFunctionCall
	MultiFunctionCallKind
)

// ProviderResponse is the parsed shape of a chat-completion response
// that may contain one or more tool calls.
type ProviderResponse struct {
	Kind  ProviderResponseKind
	Call  FunctionCallItem   // valid when Kind == SingleFunctionCall
	Calls []FunctionCallItem // valid when Kind == MultiFunctionCallKind
}

// ParseToolCallsFromJSON recognizes modern
// choices[0].message.tool_calls (a list of {id, function:{name,
// arguments}}) and falls back to the legacy function_call field. Returns
// ok=false when neither is present.
func ParseToolCallsFromJSON(raw []byte) (ProviderResponse, bool) {
	var doc struct {
		Choices []struct {
			Message struct {
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
				FunctionCall *struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function_call"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil || len(doc.Choices) == 0 {
		return ProviderResponse{}, false
	}
	msg := doc.Choices[0].Message

	if len(msg.ToolCalls) > 0 {
		items := make([]FunctionCallItem, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			args := tc.Function.Arguments
			if args == "" {
				args = "{}"
			}
			items = append(items, FunctionCallItem{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
		}
		if len(items) == 1 {
			return ProviderResponse{Kind: SingleFunctionCall, Call: items[0]}, true
		}
		return ProviderResponse{Kind: MultiFunctionCallKind, Calls: items}, true
	}

	if msg.FunctionCall != nil {
		args := msg.FunctionCall.Arguments
		if args == "" {
			args = "{}"
		}
		return ProviderResponse{Kind: SingleFunctionCall, Call: FunctionCallItem{Name: msg.FunctionCall.Name, Arguments: args}}, true
	}

	return ProviderResponse{}, false
}
