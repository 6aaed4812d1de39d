package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestRun_Version(t *testing.T) {
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, []string{"version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	if !strings.Contains(out.String(), "Nova") {
		t.Errorf("version output = %q, want it to mention Nova", out.String())
	}
}

func TestRun_Help(t *testing.T) {
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, []string{"-h"}); err != nil {
		t.Fatalf("run -h: %v", err)
	}

	for _, want := range []string{"serve", "init", "chat", "status", "-config"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("usage output missing %q", want)
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer

	err := run(context.Background(), &out, &errOut, []string{"frobnicate"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), "frobnicate") {
		t.Errorf("error = %v, want it to name the command", err)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, []string{"-frob"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestRun_ChatRequiresMessage(t *testing.T) {
	var out, errOut bytes.Buffer

	err := run(context.Background(), &out, &errOut, []string{"chat"})
	if err == nil {
		t.Fatal("expected error for chat without a message")
	}
	if !strings.Contains(err.Error(), "usage") {
		t.Errorf("error = %v, want a usage hint", err)
	}
}

func TestRun_InitIntoDirectory(t *testing.T) {
	dir := t.TempDir()
	var out, errOut bytes.Buffer

	if err := run(context.Background(), &out, &errOut, []string{"init", dir}); err != nil {
		t.Fatalf("run init: %v", err)
	}
	if !strings.Contains(out.String(), dir) {
		t.Errorf("init output missing target directory %s", dir)
	}
}
