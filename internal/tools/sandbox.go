package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nugget/nova-agent/internal/paths"
)

// Sandbox confines filesystem tools to a single root directory.
// Every path a tool touches is resolved through it first.
type Sandbox struct {
	root string
}

// NewSandbox creates a sandbox rooted at dir. The root is resolved to
// an absolute, symlink-free path up front so later containment checks
// compare like with like.
func NewSandbox(dir string) (*Sandbox, error) {
	abs, err := filepath.Abs(paths.ExpandHome(dir))
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Sandbox{root: abs}, nil
}

// Root returns the sandbox root directory.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve converts path to an absolute path and verifies it stays
// inside the sandbox. Relative paths are joined to the root. Symlinks
// are followed on the deepest existing ancestor, so a link pointing
// out of the sandbox cannot smuggle a path through.
func (s *Sandbox) Resolve(path string) (string, error) {
	expanded := paths.ExpandHome(path)

	var abs string
	if filepath.IsAbs(expanded) {
		abs = filepath.Clean(expanded)
	} else {
		abs = filepath.Clean(filepath.Join(s.root, expanded))
	}

	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}

	if resolved != s.root && !strings.HasPrefix(resolved, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("permission denied: %s is outside the workspace", path)
	}
	return abs, nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of
// path and rejoins the missing tail, so paths that do not exist yet
// can still be checked.
func resolveExisting(path string) (string, error) {
	var tail []string
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
}
