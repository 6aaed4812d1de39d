package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fileToolsRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	sb, err := NewSandbox(root)
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	r := testRegistry()
	RegisterFileTools(r, sb)
	return r, sb.Root()
}

func TestFileTools_WriteReadRoundTrip(t *testing.T) {
	r, _ := fileToolsRegistry(t)
	ctx := context.Background()

	out := r.Execute(ctx, "write_file", map[string]any{
		"path":    "notes/today.md",
		"content": "buy milk\n",
	})
	if strings.HasPrefix(out, "Error") {
		t.Fatalf("write_file: %s", out)
	}

	got := r.Execute(ctx, "read_file", map[string]any{"path": "notes/today.md"})
	if got != "buy milk\n" {
		t.Fatalf("read_file = %q", got)
	}
}

func TestFileTools_ReadOffsetLimit(t *testing.T) {
	r, root := fileToolsRegistry(t)
	content := "one\ntwo\nthree\nfour\nfive"
	if err := os.WriteFile(filepath.Join(root, "lines.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got := r.Execute(context.Background(), "read_file", map[string]any{
		"path":   "lines.txt",
		"offset": float64(2),
		"limit":  float64(2),
	})
	if !strings.Contains(got, "[Lines 2-3 of 5]") || !strings.Contains(got, "two\nthree") {
		t.Fatalf("read_file = %q", got)
	}
}

func TestFileTools_ReadMissing(t *testing.T) {
	r, _ := fileToolsRegistry(t)
	got := r.Execute(context.Background(), "read_file", map[string]any{"path": "nope.txt"})
	if !strings.Contains(got, "file not found") {
		t.Fatalf("read_file = %q", got)
	}
}

func TestFileTools_EditFile(t *testing.T) {
	r, root := fileToolsRegistry(t)
	ctx := context.Background()
	if err := os.WriteFile(filepath.Join(root, "cfg.txt"), []byte("mode: slow\nretries: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := r.Execute(ctx, "edit_file", map[string]any{
		"path":     "cfg.txt",
		"old_text": "mode: slow",
		"new_text": "mode: fast",
	})
	if strings.HasPrefix(out, "Error") {
		t.Fatalf("edit_file: %s", out)
	}

	data, _ := os.ReadFile(filepath.Join(root, "cfg.txt"))
	if string(data) != "mode: fast\nretries: 3\n" {
		t.Fatalf("content = %q", data)
	}

	// Missing old text.
	out = r.Execute(ctx, "edit_file", map[string]any{
		"path":     "cfg.txt",
		"old_text": "does not exist",
		"new_text": "x",
	})
	if !strings.Contains(out, "not found in file") {
		t.Fatalf("edit_file = %q", out)
	}

	// Ambiguous old text.
	if err := os.WriteFile(filepath.Join(root, "dup.txt"), []byte("aa\naa\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out = r.Execute(ctx, "edit_file", map[string]any{
		"path":     "dup.txt",
		"old_text": "aa",
		"new_text": "bb",
	})
	if !strings.Contains(out, "must be unique") {
		t.Fatalf("edit_file = %q", out)
	}
}

func TestFileTools_ListDir(t *testing.T) {
	r, root := fileToolsRegistry(t)
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := r.Execute(context.Background(), "list_dir", map[string]any{})
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("list_dir = %q", got)
	}
	if lines[0] != "a.txt (1 bytes)" || lines[1] != "b.txt (5 bytes)" || lines[2] != "sub/" {
		t.Fatalf("list_dir lines = %v", lines)
	}
}

func TestFileTools_SandboxEnforced(t *testing.T) {
	r, _ := fileToolsRegistry(t)
	ctx := context.Background()

	for _, tool := range []string{"read_file", "list_dir"} {
		out := r.Execute(ctx, tool, map[string]any{"path": "../../etc"})
		if !strings.Contains(out, "permission denied") {
			t.Errorf("%s escape = %q", tool, out)
		}
	}

	out := r.Execute(ctx, "write_file", map[string]any{
		"path":    "../evil.txt",
		"content": "x",
	})
	if !strings.Contains(out, "permission denied") {
		t.Fatalf("write_file escape = %q", out)
	}
}
