package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolveWithinRejectsAbsolutePath(t *testing.T) {
	root := t.TempDir()
	_, err := ResolveWithin(root, "/etc/passwd", false)
	if err == nil {
		t.Fatal("expected absolute path to be rejected")
	}
	var sberr *Error
	if !errors.As(err, &sberr) || sberr.Kind != KindAbsolutePath {
		t.Fatalf("expected KindAbsolutePath, got %v", err)
	}
}

func TestResolveWithinRejectsDotDotTraversal(t *testing.T) {
	root := t.TempDir()
	_, err := ResolveWithin(root, "../../../etc/shadow", false)
	var sberr *Error
	if !errors.As(err, &sberr) || sberr.Kind != KindPathTraversal {
		t.Fatalf("expected KindPathTraversal, got %v", err)
	}
}

func TestResolveWithinRejectsEmbeddedDotDot(t *testing.T) {
	root := t.TempDir()
	if _, err := ResolveWithin(root, "subdir/../../etc/passwd", false); err == nil {
		t.Fatal("expected embedded .. to be rejected")
	}
}

func TestResolveWithinAllowsPlainRelativePath(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	resolved, err := ResolveWithin(root, "hello.txt", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil || string(data) != "hello world" {
		t.Fatalf("got %q, %v", data, err)
	}
}

func TestResolveWithinCreatesIntermediateDirsOnWrite(t *testing.T) {
	root := t.TempDir()
	resolved, err := ResolveWithin(root, "a/b.txt", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(resolved, []byte("trip"), 0o644); err != nil {
		t.Fatalf("write after resolve failed: %v", err)
	}
	roundtrip, err := ResolveWithin(root, "a/b.txt", false)
	if err != nil {
		t.Fatalf("unexpected error on reread: %v", err)
	}
	data, _ := os.ReadFile(roundtrip)
	if string(data) != "trip" {
		t.Fatalf("got %q", data)
	}
}

func TestResolveWithinRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := ResolveWithin(root, "escape/secret.txt", false); err == nil {
		t.Fatal("expected symlink escape to be rejected")
	}
}

func TestExtractCommandNames(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"ls -la", []string{"ls"}},
		{"cat file.txt | grep pattern | head -5", []string{"cat", "grep", "head"}},
		{"echo hi && ls", []string{"echo", "ls"}},
		{"date; pwd; echo done", []string{"date", "pwd", "echo"}},
		{"/usr/bin/cat file.txt", []string{"cat"}},
	}
	for _, c := range cases {
		got := ExtractCommandNames(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("ExtractCommandNames(%q) = %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("ExtractCommandNames(%q) = %v, want %v", c.in, got, c.want)
			}
		}
	}
}

func TestExecPolicyAllowsInterpretersAndShells(t *testing.T) {
	p := NewExecPolicy(nil)
	for _, cmd := range []string{"python3 -c 'print(1)'", "bash -c 'echo hi'", "echo hello | python3 -c 'x'"} {
		if err := p.Check(cmd); err != nil {
			t.Errorf("expected %q to be allowed, got %v", cmd, err)
		}
	}
}

func TestExecPolicyBlocksFixedBlockList(t *testing.T) {
	p := NewExecPolicy(nil)
	for _, cmd := range []string{"sudo whoami", "dd if=/dev/zero of=x", "nsenter --target 1"} {
		if err := p.Check(cmd); err == nil {
			t.Errorf("expected %q to be blocked", cmd)
		}
	}
}

func TestExecPolicyBlocksAfterSeparator(t *testing.T) {
	p := NewExecPolicy(nil)
	for _, cmd := range []string{"echo hi; sudo rm -rf /", "echo ok && sudo rm -rf /"} {
		if err := p.Check(cmd); err == nil {
			t.Errorf("expected %q to be rejected", cmd)
		}
	}
}

func TestExecShellAllowsBasicCommand(t *testing.T) {
	root := t.TempDir()
	p := NewExecPolicy(nil)
	res, err := ExecShell(context.Background(), p, root, "echo hello", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 || res.Stdout != "hello" {
		t.Fatalf("got %+v", res)
	}
}
