package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ShellExec provides command execution inside the sandbox.
type ShellExec struct {
	enabled        bool
	sandbox        *Sandbox
	workingDir     string
	deniedCmds     []string
	defaultTimeout time.Duration
	maxOutputBytes int
}

// ShellExecConfig configures the shell executor.
type ShellExecConfig struct {
	Enabled        bool
	WorkingDir     string
	DeniedCmds     []string
	DefaultTimeout time.Duration
	MaxOutputBytes int
}

// DefaultShellExecConfig returns safe defaults. Execution is disabled
// until explicitly turned on.
func DefaultShellExecConfig() ShellExecConfig {
	return ShellExecConfig{
		Enabled: false,
		DeniedCmds: []string{
			"rm -rf /",
			"rm -rf /*",
			"mkfs",
			"dd if=",
			"> /dev/sd",
			"chmod -R 777 /",
			":(){ :|:& };:", // fork bomb
		},
		DefaultTimeout: 30 * time.Second,
		MaxOutputBytes: 100 * 1024,
	}
}

// NewShellExec creates a shell executor. The working directory must
// resolve inside the sandbox; an empty one uses the sandbox root.
func NewShellExec(cfg ShellExecConfig, sb *Sandbox) (*ShellExec, error) {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxOutputBytes == 0 {
		cfg.MaxOutputBytes = 100 * 1024
	}

	workingDir := sb.Root()
	if cfg.WorkingDir != "" {
		resolved, err := sb.Resolve(cfg.WorkingDir)
		if err != nil {
			return nil, fmt.Errorf("shell working directory: %w", err)
		}
		workingDir = resolved
	}

	return &ShellExec{
		enabled:        cfg.Enabled,
		sandbox:        sb,
		workingDir:     workingDir,
		deniedCmds:     cfg.DeniedCmds,
		defaultTimeout: cfg.DefaultTimeout,
		maxOutputBytes: cfg.MaxOutputBytes,
	}, nil
}

// Enabled reports whether shell execution is available.
func (s *ShellExec) Enabled() bool {
	return s.enabled
}

// ExecResult contains the result of a command execution.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Exec executes a shell command with a wall-clock timeout. Denied
// patterns are matched case-insensitively as substrings.
func (s *ShellExec) Exec(ctx context.Context, command string, timeoutSec int) (*ExecResult, error) {
	if !s.enabled {
		return nil, fmt.Errorf("shell execution is disabled")
	}

	cmdLower := strings.ToLower(command)
	for _, denied := range s.deniedCmds {
		if strings.Contains(cmdLower, strings.ToLower(denied)) {
			return nil, fmt.Errorf("command blocked by security policy: matches denied pattern %q", denied)
		}
	}

	timeout := s.defaultTimeout
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	if timeout > 5*time.Minute {
		timeout = 5 * time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.workingDir
	// Kill the whole process group on timeout so grandchildren holding
	// the output pipes cannot keep Run blocked past the deadline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &ExecResult{
		Stdout: truncateOutput(stdout.String(), s.maxOutputBytes),
		Stderr: truncateOutput(stderr.String(), s.maxOutputBytes),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	if err != nil {
		switch {
		case errors.Is(err, exec.ErrWaitDelay):
			// The shell exited but a backgrounded child still holds the
			// output pipes. The shell's own exit status stands.
			result.ExitCode = cmd.ProcessState.ExitCode()
		default:
			if exitErr, ok := err.(*exec.ExitError); ok {
				result.ExitCode = exitErr.ExitCode()
			} else {
				return nil, fmt.Errorf("run command: %w", err)
			}
		}
	}

	return result, nil
}

// RegisterShellTool adds the exec tool when shell execution is enabled.
func RegisterShellTool(r *Registry, s *ShellExec) {
	if !s.Enabled() {
		return
	}
	r.Register(&Tool{
		Name:        "exec",
		Description: "Execute a shell command in the workspace. Returns stdout, stderr, and the exit code. Long output is truncated.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to run.",
				},
				"timeout_sec": map[string]any{
					"type":        "integer",
					"description": "Timeout in seconds (default 30, max 300).",
				},
			},
			"required": []string{"command"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			command, _ := args["command"].(string)
			res, err := s.Exec(ctx, command, intArg(args, "timeout_sec"))
			if err != nil {
				return "", err
			}
			return formatExecResult(res), nil
		},
	})
}

func formatExecResult(res *ExecResult) string {
	var b strings.Builder
	if res.TimedOut {
		b.WriteString("Command timed out.\n")
	}
	fmt.Fprintf(&b, "Exit code: %d\n", res.ExitCode)
	if res.Stdout != "" {
		fmt.Fprintf(&b, "Stdout:\n%s\n", res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprintf(&b, "Stderr:\n%s\n", res.Stderr)
	}
	return strings.TrimRight(b.String(), "\n")
}

// truncateOutput truncates output to maxBytes, adding a note if truncated.
func truncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n\n[... output truncated ...]"
}
