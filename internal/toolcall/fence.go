// Package toolcall extracts tool-call requests the model emits as fenced
// JSON blocks inside otherwise-plain assistant text.
package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Request is a parsed tool call: {name, args?, nonce?}.
type Request struct {
	Name  string                 `json:"name"`
	Args  map[string]interface{} `json:"args,omitempty"`
	Nonce string                 `json:"nonce,omitempty"`
}

var fenceIntro = regexp.MustCompile("(?i)^```(json|tool_call)?[ \t]*\r?\n")

// ExtractFencedJSON finds the first ```json / ```tool_call / ``` fenced
// block in text and returns the JSON object substring inside it. When no
// fenced block yields a balanced object, text that is itself a bare JSON
// object (after trimming whitespace) is returned; otherwise "", false.
func ExtractFencedJSON(text string) (string, bool) {
	norm := strings.ReplaceAll(text, "\r\n", "\n")
	idx := strings.Index(norm, "```")
	for idx != -1 {
		rest := norm[idx:]
		loc := fenceIntro.FindStringIndex(rest)
		if loc != nil {
			body := rest[loc[1]:]
			if obj, ok := captureObject(body); ok {
				return obj, true
			}
		}
		next := strings.Index(norm[idx+3:], "```")
		if next == -1 {
			break
		}
		idx = idx + 3 + next
	}
	// Fallback: text with no fence markers that is itself a bare JSON
	// object (the result of a previous extraction) still captures cleanly —
	// this is what makes extraction idempotent.
	if obj, ok := captureObject(strings.TrimSpace(norm)); ok {
		return obj, true
	}
	return "", false
}

// captureObject scans s from the start, skipping leading whitespace, and
// captures the first balanced {...} object honoring string literals and
// backslash escapes. It does not require the closing fence to be present
// immediately after the object.
func captureObject(s string) (string, bool) {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	if i >= len(s) || s[i] != '{' {
		return "", false
	}
	start := i
	depth := 0
	inString := false
	escaped := false
	for ; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// IsToolCallOnly reports whether the non-whitespace content of text is
// entirely the fenced block (i.e. no other assistant prose surrounds it).
func IsToolCallOnly(text string) bool {
	norm := strings.ReplaceAll(text, "\r\n", "\n")
	trimmed := strings.TrimSpace(norm)
	if trimmed == "" {
		return false
	}
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") {
		return false
	}
	loc := fenceIntro.FindStringIndex(trimmed)
	if loc == nil {
		return false
	}
	inner := trimmed[loc[1] : len(trimmed)-3]
	obj, ok := captureObject(inner)
	if !ok {
		return false
	}
	afterObj := strings.TrimSpace(inner[strings.Index(inner, obj)+len(obj):])
	return afterObj == ""
}

// ParseRequest extracts a fenced tool call from text and decodes it as a
// Request. Returns ok=false if no fence/object is found or decoding fails.
func ParseRequest(text string) (Request, bool) {
	raw, ok := ExtractFencedJSON(text)
	if !ok {
		return Request{}, false
	}
	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return Request{}, false
	}
	if req.Name == "" {
		return Request{}, false
	}
	return req, true
}
