package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/nugget/nova-agent/internal/defaults"
)

// runInit initializes a Nova workspace with default files. It creates
// the directory structure and copies bundled defaults for config and
// the persona/memory markdown set. Existing files are never
// overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Nova workspace in %s\n", dir)

	for _, sub := range []string{"sessions", "memory"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	// Write config example if no config exists.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	names := make([]string, 0, len(defaults.Bootstrap))
	for name := range defaults.Bootstrap {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := writeIfMissing(path, defaults.Bootstrap[name]); err != nil {
			return err
		}
		fmt.Fprintf(w, "  ✓ %s\n", path)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml and SOUL.md to customize your installation,")
	fmt.Fprintln(w, "then start the agent with: nova serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not already
// exist. This ensures init never overwrites user customizations.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil // already exists, skip
	}
	return os.WriteFile(path, content, 0o644)
}
