// Package paths resolves the on-disk layout of a Nova workspace.
// Everything the agent persists lives under one root directory, and
// every component asks a [Workspace] for its paths instead of joining
// strings itself.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// Workspace knows where things live under the workspace root:
//
//	MEMORY.md                      long-term memory
//	HISTORY.md                     consolidated history log
//	HEARTBEAT.md                   heartbeat checklist
//	SOUL.md AGENTS.md USER.md ...  bootstrap context files
//	sessions/<key>.json            conversation sessions
//	memory/<user>/facts/<id>.json  canonical fact records
//	memory/<user>/facts/index.json derived fact index
//	cron_jobs.json                 scheduled jobs
type Workspace struct {
	root string
}

// NewWorkspace creates a Workspace rooted at dir. A leading ~ is
// expanded; relative paths are made absolute.
func NewWorkspace(dir string) (*Workspace, error) {
	root := ExpandHome(dir)
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

// MemoryFile returns the long-term memory path.
func (w *Workspace) MemoryFile() string { return filepath.Join(w.root, "MEMORY.md") }

// HistoryFile returns the consolidated history log path.
func (w *Workspace) HistoryFile() string { return filepath.Join(w.root, "HISTORY.md") }

// HeartbeatFile returns the heartbeat checklist path.
func (w *Workspace) HeartbeatFile() string { return filepath.Join(w.root, "HEARTBEAT.md") }

// BootstrapFiles returns the context files loaded into the system
// prompt, in load order. Missing files are skipped by the loader.
func (w *Workspace) BootstrapFiles() []string {
	names := []string{"SOUL.md", "AGENTS.md", "USER.md", "TOOLS.md"}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(w.root, n)
	}
	return out
}

// SessionsDir returns the session storage directory.
func (w *Workspace) SessionsDir() string { return filepath.Join(w.root, "sessions") }

// SessionFile returns the path for a session key, sanitized for use as
// a filename (":" and "/" become "_").
func (w *Workspace) SessionFile(key string) string {
	return filepath.Join(w.SessionsDir(), SanitizeKey(key)+".json")
}

// FactsDir returns the fact-record directory for a user.
func (w *Workspace) FactsDir(user string) string {
	return filepath.Join(w.root, "memory", SanitizeKey(user), "facts")
}

// FactFile returns the canonical record path for a fact.
func (w *Workspace) FactFile(user, id string) string {
	return filepath.Join(w.FactsDir(user), id+".json")
}

// IndexFile returns the derived fact-index path for a user.
func (w *Workspace) IndexFile(user string) string {
	return filepath.Join(w.FactsDir(user), "index.json")
}

// CronJobsFile returns the scheduled-jobs document path.
func (w *Workspace) CronJobsFile() string { return filepath.Join(w.root, "cron_jobs.json") }

// SanitizeKey makes a session key or user id safe as a path component.
func SanitizeKey(key string) string {
	key = strings.ReplaceAll(key, ":", "_")
	key = strings.ReplaceAll(key, "/", "_")
	return key
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}
