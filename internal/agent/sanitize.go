package agent

import (
	"log/slog"
	"regexp"
	"strings"
)

// SanitizeAssistantContent cleans assistant text before it is persisted
// to the session and published: strips tool-call XML some models leak as
// prose, reasoning-scratchpad tags, stray <final> wrappers, repeated
// paragraphs, and leading blank lines.
func SanitizeAssistantContent(content string) string {
	if content == "" {
		return content
	}
	original := content

	content = stripGarbledToolXML(content)
	if content == "" {
		return ""
	}
	content = stripThinkingTags(content)
	content = stripFinalTags(content)
	content = collapseConsecutiveDuplicateBlocks(content)
	content = leadingBlankLinesPattern.ReplaceAllString(content, "")
	content = strings.TrimSpace(content)

	if content != original {
		slog.Debug("sanitized assistant content",
			"original_len", len(original),
			"cleaned_len", len(content),
		)
	}
	return content
}

// garbledToolXMLPattern matches XML-like tool-call artifacts some models
// emit as text content instead of structured tool calls.
var garbledToolXMLPattern = regexp.MustCompile(
	`(?s)</?(?:function_calls?|functioninvoke|invoke|tool_call|tool_use|parameter)[^>]*>`,
)

var garbledToolXMLIndicators = []string{
	"functioninvoke",
	"<parameter name=",
	"</parameter",
	"<function_call",
	"<tool_call",
	"<tool_use",
}

// stripGarbledToolXML drops a response that is really a mangled tool
// call: when any indicator is present the whole reply is suppressed,
// whatever text would remain once the XML artifacts are removed (that
// remainder is only logged). Sanitizing runs after the tool loop has
// ended, so RunTurn then substitutes its "[tool loop exhausted]" reply.
func stripGarbledToolXML(content string) string {
	lower := strings.ToLower(content)
	found := false
	for _, ind := range garbledToolXMLIndicators {
		if strings.Contains(lower, ind) {
			found = true
			break
		}
	}
	if !found {
		return content
	}
	cleaned := strings.TrimSpace(garbledToolXMLPattern.ReplaceAllString(content, ""))
	slog.Warn("stripped garbled tool call response",
		"original_len", len(content),
		"remaining_len", len(cleaned),
	)
	return ""
}

// Reasoning-scratchpad tags leaked into output. Go regexp has no
// backreferences, so each tag pair gets its own pattern.
var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	for _, pat := range thinkingTagPatterns {
		content = pat.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(content)
}

// Removes <final>/</final> wrapper tags but keeps the content inside.
var finalTagPattern = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)

func stripFinalTags(content string) string {
	if !strings.Contains(strings.ToLower(content), "final") {
		return content
	}
	return finalTagPattern.ReplaceAllString(content, "")
}

// collapseConsecutiveDuplicateBlocks removes immediately repeated
// paragraphs, a common failure shape of looping models.
func collapseConsecutiveDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}
	var result []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(result) > 0 && trimmed == strings.TrimSpace(result[len(result)-1]) {
			continue
		}
		result = append(result, block)
	}
	return strings.Join(result, "\n\n")
}

var leadingBlankLinesPattern = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)

// IsSilentReply reports whether text is a NO_REPLY token: the agent ran
// the turn (heartbeat, cron) but chose not to say anything out loud.
func IsSilentReply(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	const token = "NO_REPLY"
	if trimmed == token {
		return true
	}
	if strings.HasPrefix(trimmed, token) {
		rest := trimmed[len(token):]
		if rest == "" || !isWordChar(rune(rest[0])) {
			return true
		}
	}
	if strings.HasSuffix(trimmed, token) {
		before := trimmed[:len(trimmed)-len(token)]
		if before == "" || !isWordChar(rune(before[len(before)-1])) {
			return true
		}
	}
	return false
}

func isWordChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}
