package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunInit_FreshDirectory(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	for _, sub := range []string{"sessions", "memory"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		if err != nil {
			t.Errorf("expected directory %s: %v", sub, err)
		} else if !info.IsDir() {
			t.Errorf("%s is not a directory", sub)
		}
	}

	want := []string{"config.yaml", "SOUL.md", "AGENTS.md", "USER.md", "TOOLS.md", "HEARTBEAT.md"}
	for _, name := range want {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}

	out := buf.String()
	if !strings.Contains(out, "✓") {
		t.Error("output missing ✓ marker for created files")
	}
	if !strings.Contains(out, "config.yaml") {
		t.Error("output missing config.yaml")
	}
	if !strings.Contains(out, "SOUL.md") {
		t.Error("output missing SOUL.md")
	}
}

func TestRunInit_SkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("first runInit failed: %v", err)
	}

	sentinel := []byte("# hand-edited, keep me\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), sentinel, 0o644); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	buf.Reset()
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("second runInit failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("read config.yaml after second run: %v", err)
	}
	if !bytes.Equal(got, sentinel) {
		t.Error("config.yaml was overwritten by second init")
	}
}

func TestWriteIfMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")

	if err := writeIfMissing(path, []byte("first")); err != nil {
		t.Fatalf("writeIfMissing: %v", err)
	}
	if err := writeIfMissing(path, []byte("second")); err != nil {
		t.Fatalf("writeIfMissing (existing): %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "first" {
		t.Errorf("content = %q, want %q", got, "first")
	}
}
