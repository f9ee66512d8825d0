package contextmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/pinchy/internal/providers"
)

// Budget bounds a turn's prompt size. Invariant: PruneThreshold <
// CompactThreshold < MaxTokens.
type Budget struct {
	MaxTokens        int
	PruneThreshold   int
	CompactThreshold int
}

// keepRecent is COMPACT_KEEP_TAIL: messages this close to the end of
// history are never pruned or summarized away.
const keepRecent = 10

// toolResultPruneChars is the size above which a tool-role message's
// content, or an assistant tool call's arguments, is replaced with a
// placeholder during the prune stage.
const toolResultPruneChars = 200

// Trim runs the three-stage context-trimming pipeline against messages, applying each stage
// only while still over its threshold. summarize performs the LLM
// compaction call (stage 2); pass nil to skip it (e.g. no provider
// configured yet). All stages are idempotent when already under budget.
func Trim(ctx context.Context, messages []providers.Message, budget Budget, summarize func(ctx context.Context, toSummarize []providers.Message, existingSummary string) (string, error)) []providers.Message {
	if EstimateTotalTokens(messages) <= budget.PruneThreshold {
		return messages
	}

	messages = pruneToolResults(messages)

	if EstimateTotalTokens(messages) > budget.CompactThreshold && summarize != nil {
		if compacted, ok := llmCompact(ctx, messages, summarize); ok {
			messages = compacted
		}
	}

	if EstimateTotalTokens(messages) > budget.MaxTokens {
		messages = hardTruncate(messages, budget.MaxTokens)
	}

	return messages
}

// pruneToolResults replaces oversized tool-result/function-call payloads
// in messages older than the last keepRecent with compact placeholders.
func pruneToolResults(messages []providers.Message) []providers.Message {
	if len(messages) <= keepRecent {
		return messages
	}
	cut := len(messages) - keepRecent
	out := make([]providers.Message, len(messages))
	copy(out, messages)
	for i := 0; i < cut; i++ {
		out[i] = pruneOneMessage(out[i])
	}
	return out
}

func pruneOneMessage(msg providers.Message) providers.Message {
	if msg.Role == "tool" && len(msg.Content) > toolResultPruneChars {
		msg.Content = fmt.Sprintf("[tool result pruned — %d chars]", len(msg.Content))
		return msg
	}
	if msg.Role == "assistant" {
		for i, tc := range msg.ToolCalls {
			if argsLen(tc.Arguments) > toolResultPruneChars {
				msg.ToolCalls[i].Arguments = map[string]interface{}{
					"_pruned": fmt.Sprintf("%s(…) [args pruned]", tc.Name),
				}
			}
		}
	}
	return msg
}

func argsLen(args map[string]interface{}) int {
	total := 0
	for k, v := range args {
		total += len(k)
		if s, ok := v.(string); ok {
			total += len(s)
		}
	}
	return total
}

// llmCompact preserves leading system messages and the last keepRecent
// messages, summarizing everything in between via one provider call.
func llmCompact(ctx context.Context, messages []providers.Message, summarize func(context.Context, []providers.Message, string) (string, error)) ([]providers.Message, bool) {
	leadingSystem := 0
	for leadingSystem < len(messages) && messages[leadingSystem].Role == "system" {
		leadingSystem++
	}
	tailStart := len(messages) - keepRecent
	if tailStart <= leadingSystem {
		return messages, false // nothing meaningful to compact
	}

	middle := messages[leadingSystem:tailStart]
	var existingSummary string
	for _, m := range messages[:leadingSystem] {
		if strings.Contains(m.Content, "<compacted_history>") {
			existingSummary = m.Content
		}
	}

	summary, err := summarize(ctx, middle, existingSummary)
	if err != nil {
		return messages, false // leave state unchanged on failure
	}

	out := make([]providers.Message, 0, leadingSystem+1+keepRecent)
	out = append(out, messages[:leadingSystem]...)
	out = append(out, providers.Message{
		Role:    "system",
		Content: fmt.Sprintf("<compacted_history>%s</compacted_history>", summary),
	})
	out = append(out, messages[tailStart:]...)
	return out, true
}

// hardTruncate removes the oldest non-system messages until under
// maxTokens, always keeping the leading system messages plus at least
// the last two non-system messages.
func hardTruncate(messages []providers.Message, maxTokens int) []providers.Message {
	leadingSystem := 0
	for leadingSystem < len(messages) && messages[leadingSystem].Role == "system" {
		leadingSystem++
	}

	costs := make([]int, len(messages))
	for i, m := range messages {
		costs[i] = EstimateMessageTokens(m)
	}

	maxStart := len(messages) - 2
	if maxStart < leadingSystem {
		maxStart = leadingSystem
	}

	start := leadingSystem
	total := func() int {
		sum := 0
		for i := 0; i < leadingSystem; i++ {
			sum += costs[i]
		}
		for i := start; i < len(messages); i++ {
			sum += costs[i]
		}
		return sum
	}

	for total() > maxTokens && start < maxStart {
		start++
	}

	out := make([]providers.Message, 0, leadingSystem+(len(messages)-start))
	out = append(out, messages[:leadingSystem]...)
	out = append(out, messages[start:]...)
	return out
}
