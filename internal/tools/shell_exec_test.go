package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func testShell(t *testing.T, cfg ShellExecConfig) *ShellExec {
	t.Helper()
	sb, err := NewSandbox(t.TempDir())
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	s, err := NewShellExec(cfg, sb)
	if err != nil {
		t.Fatalf("NewShellExec: %v", err)
	}
	return s
}

func TestShellExec_Disabled(t *testing.T) {
	s := testShell(t, DefaultShellExecConfig())
	if _, err := s.Exec(context.Background(), "echo hi", 0); err == nil {
		t.Fatal("disabled executor should refuse to run")
	}
}

func TestShellExec_DeniedPatterns(t *testing.T) {
	cfg := DefaultShellExecConfig()
	cfg.Enabled = true
	s := testShell(t, cfg)

	cases := []string{
		"rm -rf / --no-preserve-root",
		"RM -RF /",
		"sudo mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
	}
	for _, cmd := range cases {
		if _, err := s.Exec(context.Background(), cmd, 0); err == nil {
			t.Errorf("Exec(%q) should be blocked", cmd)
		}
	}
}

func TestShellExec_CapturesOutputAndExitCode(t *testing.T) {
	cfg := DefaultShellExecConfig()
	cfg.Enabled = true
	s := testShell(t, cfg)

	res, err := s.Exec(context.Background(), "echo out; echo err >&2; exit 3", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
}

func TestShellExec_WorkingDirIsSandboxRoot(t *testing.T) {
	cfg := DefaultShellExecConfig()
	cfg.Enabled = true
	s := testShell(t, cfg)

	res, err := s.Exec(context.Background(), "pwd", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != s.workingDir {
		t.Errorf("pwd = %q, want %q", strings.TrimSpace(res.Stdout), s.workingDir)
	}
}

func TestShellExec_Timeout(t *testing.T) {
	cfg := DefaultShellExecConfig()
	cfg.Enabled = true
	s := testShell(t, cfg)

	start := time.Now()
	res, err := s.Exec(context.Background(), "sleep 10", 1)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !res.TimedOut {
		t.Fatal("expected timeout")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout did not kill child promptly, took %v", elapsed)
	}
}

func TestShellExec_BackgroundChildDoesNotBlock(t *testing.T) {
	cfg := DefaultShellExecConfig()
	cfg.Enabled = true
	s := testShell(t, cfg)

	// The backgrounded sleep inherits the output pipes; the shell
	// itself exits immediately and Exec must not wait for the child.
	start := time.Now()
	res, err := s.Exec(context.Background(), "sleep 5 & echo started", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Exec blocked on backgrounded child, took %v", elapsed)
	}
	if res.TimedOut {
		t.Error("run should not be reported as timed out")
	}
	if !strings.Contains(res.Stdout, "started") {
		t.Errorf("stdout = %q, want it to contain %q", res.Stdout, "started")
	}
}

func TestShellExec_OutputTruncation(t *testing.T) {
	cfg := DefaultShellExecConfig()
	cfg.Enabled = true
	cfg.MaxOutputBytes = 64
	s := testShell(t, cfg)

	res, err := s.Exec(context.Background(), "yes x | head -100", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !strings.Contains(res.Stdout, "[... output truncated ...]") {
		t.Fatalf("stdout not truncated: %d bytes", len(res.Stdout))
	}
}

func TestRegisterShellTool_OnlyWhenEnabled(t *testing.T) {
	r := testRegistry()
	RegisterShellTool(r, testShell(t, DefaultShellExecConfig()))
	if r.Get("exec") != nil {
		t.Fatal("exec tool registered while disabled")
	}

	cfg := DefaultShellExecConfig()
	cfg.Enabled = true
	RegisterShellTool(r, testShell(t, cfg))
	if r.Get("exec") == nil {
		t.Fatal("exec tool missing")
	}

	out := r.Execute(context.Background(), "exec", map[string]any{"command": "echo hello"})
	if !strings.Contains(out, "Exit code: 0") || !strings.Contains(out, "hello") {
		t.Fatalf("exec output = %q", out)
	}
}
