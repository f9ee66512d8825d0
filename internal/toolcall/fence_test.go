package toolcall

import "testing"

func TestExtractFencedJSONClean(t *testing.T) {
	input := "```json\n{\"name\": \"read_file\", \"args\": {\"path\": \"hello.txt\"}}\n```"
	got, ok := ExtractFencedJSON(input)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	want := `{"name": "read_file", "args": {"path": "hello.txt"}}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if !IsToolCallOnly(input) {
		t.Fatal("expected tool-call-only")
	}
}

func TestExtractFencedJSONWithSurroundingWhitespace(t *testing.T) {
	input := "\n  \n```json\n{\"name\": \"exec_shell\"}\n```\n  \n"
	got, ok := ExtractFencedJSON(input)
	if !ok || got != `{"name": "exec_shell"}` {
		t.Fatalf("got %q, %v", got, ok)
	}
	if !IsToolCallOnly(input) {
		t.Fatal("expected tool-call-only")
	}
}

func TestExtractFencedJSONWithExtraTextNotToolOnly(t *testing.T) {
	input := "Sure, I'll read the file.\n```json\n{\"name\": \"read_file\"}\n```\nHere you go."
	_, ok := ExtractFencedJSON(input)
	if !ok {
		t.Fatal("expected extraction to still succeed")
	}
	if IsToolCallOnly(input) {
		t.Fatal("extra surrounding text means not tool-call-only")
	}
}

func TestExtractFencedJSONWithBracesInStrings(t *testing.T) {
	input := "```json\n{\"name\": \"write_file\", \"args\": {\"content\": \"hello { world }\"}}\n```"
	got, ok := ExtractFencedJSON(input)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	req, ok := ParseRequest(input)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if req.Name != "write_file" || req.Args["content"] != "hello { world }" {
		t.Fatalf("got %+v from %q", req, got)
	}
	if !IsToolCallOnly(input) {
		t.Fatal("expected tool-call-only")
	}
}

func TestExtractFencedJSONNoBlockReturnsFalse(t *testing.T) {
	if _, ok := ExtractFencedJSON("just plain text"); ok {
		t.Fatal("expected no extraction")
	}
	if IsToolCallOnly("just plain text") {
		t.Fatal("expected not tool-call-only")
	}
}

func TestExtractFencedJSONCRLF(t *testing.T) {
	input := "```json\r\n{\"name\": \"read_file\"}\r\n```"
	got, ok := ExtractFencedJSON(input)
	if !ok || got != `{"name": "read_file"}` {
		t.Fatalf("got %q, %v", got, ok)
	}
	if !IsToolCallOnly(input) {
		t.Fatal("expected tool-call-only")
	}
}

func TestParseRequest(t *testing.T) {
	input := "```json\n{\"name\": \"exec_shell\", \"args\": {\"command\": \"ls\"}}\n```"
	req, ok := ParseRequest(input)
	if !ok || req.Name != "exec_shell" {
		t.Fatalf("got %+v, %v", req, ok)
	}
}

func TestExtractionIsIdempotent(t *testing.T) {
	input := "```json\n{\"name\": \"read_file\", \"args\": {\"path\": \"hello.txt\"}}\n```"
	if !IsToolCallOnly(input) {
		t.Fatal("precondition failed: input should be tool-call-only")
	}
	first, ok := ExtractFencedJSON(input)
	if !ok {
		t.Fatal("first extraction failed")
	}
	second, ok := ExtractFencedJSON(first)
	if !ok {
		t.Fatal("second extraction failed")
	}
	if first != second {
		t.Fatalf("extraction not idempotent: %q != %q", first, second)
	}
}
