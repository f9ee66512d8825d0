package agent

import "testing"

func TestSanitizeStripsThinkingTags(t *testing.T) {
	in := "<thinking>let me reason</thinking>The answer is 4."
	if got := SanitizeAssistantContent(in); got != "The answer is 4." {
		t.Fatalf("got %q", got)
	}
}

func TestSanitizeDropsGarbledToolXML(t *testing.T) {
	in := `<tool_call><parameter name="path">x</parameter></tool_call>`
	if got := SanitizeAssistantContent(in); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestSanitizeKeepsFinalTagContent(t *testing.T) {
	in := "<final>Ship it.</final>"
	if got := SanitizeAssistantContent(in); got != "Ship it." {
		t.Fatalf("got %q", got)
	}
}

func TestSanitizeCollapsesDuplicateBlocks(t *testing.T) {
	in := "Same paragraph.\n\nSame paragraph.\n\nDifferent."
	if got := SanitizeAssistantContent(in); got != "Same paragraph.\n\nDifferent." {
		t.Fatalf("got %q", got)
	}
}

func TestIsSilentReply(t *testing.T) {
	cases := map[string]bool{
		"NO_REPLY":               true,
		"NO_REPLY.":              true,
		"ok NO_REPLY":            true,
		"NO_REPLYING":            false,
		"nothing to report":      false,
		"":                       false,
	}
	for in, want := range cases {
		if got := IsSilentReply(in); got != want {
			t.Errorf("IsSilentReply(%q) = %v, want %v", in, got, want)
		}
	}
}
