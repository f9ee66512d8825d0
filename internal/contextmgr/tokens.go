// Package contextmgr implements the three-stage context-trimming pipeline
// and BPE token estimation.
package contextmgr

import (
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/pinchy/internal/providers"
	"github.com/pkoukk/tiktoken-go"
)

// perMessageOverhead approximates the fixed per-message framing tokens
// (role marker, separators) a chat completion wire format adds on top of
// content.
const perMessageOverhead = 4

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

func encoder() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		var err error
		enc, err = tiktoken.GetEncoding("o200k_base")
		if err != nil {
			slog.Warn("failed to load tiktoken o200k_base encoding, falling back to heuristic", "error", err)
		}
	})
	return enc
}

// EstimateTokens counts tokens in text using the o200k BPE encoder, or a
// 1-token-per-4-chars heuristic if the encoder failed to load.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if e := encoder(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// EstimateMessageTokens sizes one message's content, role string, and any
// tool calls, including the fixed per-message overhead.
func EstimateMessageTokens(msg providers.Message) int {
	total := perMessageOverhead + EstimateTokens(msg.Role) + EstimateTokens(msg.Content)
	for _, tc := range msg.ToolCalls {
		total += EstimateTokens(tc.Name)
		total += estimateArgsTokens(tc.Arguments)
	}
	return total
}

func estimateArgsTokens(args map[string]interface{}) int {
	total := 0
	for k, v := range args {
		total += EstimateTokens(k)
		if s, ok := v.(string); ok {
			total += EstimateTokens(s)
		} else {
			total += 2
		}
	}
	return total
}

// EstimateTotalTokens sums EstimateMessageTokens across messages.
func EstimateTotalTokens(msgs []providers.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessageTokens(m)
	}
	return total
}
