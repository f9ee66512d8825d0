package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadFileReturnsContent(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "hello.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadFileTool(ws, true)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": "hello.txt"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if res.ForLLM != "hello world" {
		t.Fatalf("got %q", res.ForLLM)
	}
}

func TestReadFileRejectsTraversal(t *testing.T) {
	ws := t.TempDir()
	tool := NewReadFileTool(ws, true)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": "../../etc/passwd"})
	if !res.IsError {
		t.Fatal("expected error for traversal path")
	}
	if !strings.Contains(res.ForLLM, "path traversal") {
		t.Fatalf("error should mention path traversal, got %q", res.ForLLM)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	ws := t.TempDir()
	write := NewWriteFileTool(ws, true)
	read := NewReadFileTool(ws, true)

	res := write.Execute(context.Background(), map[string]interface{}{"path": "a/b.txt", "content": "trip"})
	if res.IsError {
		t.Fatalf("write failed: %s", res.ForLLM)
	}

	res = read.Execute(context.Background(), map[string]interface{}{"path": "a/b.txt"})
	if res.IsError {
		t.Fatalf("read failed: %s", res.ForLLM)
	}
	if res.ForLLM != "trip" {
		t.Fatalf("got %q", res.ForLLM)
	}
}

func TestWriteFileRejectsTraversal(t *testing.T) {
	ws := t.TempDir()
	tool := NewWriteFileTool(ws, true)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": "../escape.txt", "content": "x"})
	if !res.IsError {
		t.Fatal("expected error for traversal path")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(ws), "escape.txt")); err == nil {
		t.Fatal("file escaped the workspace")
	}
}

func TestExecToolRunsAllowedCommand(t *testing.T) {
	ws := t.TempDir()
	tool := NewExecTool(ws, true)
	res := tool.Execute(context.Background(), map[string]interface{}{"command": "echo hi"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "hi") {
		t.Fatalf("got %q", res.ForLLM)
	}
}

func TestExecToolBlocksSudo(t *testing.T) {
	ws := t.TempDir()
	tool := NewExecTool(ws, true)
	res := tool.Execute(context.Background(), map[string]interface{}{"command": "sudo ls"})
	if !res.IsError {
		t.Fatal("expected sudo to be blocked")
	}
}

func TestExecToolBlocksDisallowedAfterSeparator(t *testing.T) {
	ws := t.TempDir()
	tool := NewExecTool(ws, true)
	res := tool.Execute(context.Background(), map[string]interface{}{"command": "echo ok; nsenter --target 1"})
	if !res.IsError {
		t.Fatal("expected blocked command after separator to reject the whole line")
	}
}

func TestExecToolExtraAllowedCommands(t *testing.T) {
	ws := t.TempDir()
	tool := NewExecTool(ws, true, "true")
	res := tool.Execute(context.Background(), map[string]interface{}{"command": "true"})
	if res.IsError {
		t.Fatalf("extra allowed command rejected: %s", res.ForLLM)
	}
}
