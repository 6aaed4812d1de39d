// Package memory maintains Nova's human-readable memory layer: a
// long-term MEMORY.md document that rides along in every system
// prompt, and an append-only HISTORY.md of consolidated conversation
// summaries. Both are plain markdown so the user can read and edit
// them directly.
package memory

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nugget/nova-agent/internal/paths"
	"github.com/nugget/nova-agent/internal/store"
)

const memorySeed = `# MEMORY

Long-term memory. Nova updates this during consolidation; edits by the
user are welcome and survive.
`

const historySeed = `# HISTORY

Consolidated conversation history, newest at the bottom.
`

// Store reads and writes the markdown memory files.
type Store struct {
	logger *slog.Logger
	ws     *paths.Workspace
}

// NewStore creates a memory store rooted at the workspace.
func NewStore(logger *slog.Logger, ws *paths.Workspace) *Store {
	return &Store{logger: logger.With("component", "memory"), ws: ws}
}

// EnsureSeeded creates MEMORY.md and HISTORY.md with their headers if
// they do not exist yet. Existing files are left alone.
func (s *Store) EnsureSeeded() error {
	for _, f := range []struct {
		path string
		seed string
	}{
		{s.ws.MemoryFile(), memorySeed},
		{s.ws.HistoryFile(), historySeed},
	} {
		if _, err := os.Stat(f.path); err == nil {
			continue
		}
		if err := store.AtomicWrite(f.path, []byte(f.seed)); err != nil {
			return fmt.Errorf("seed %s: %w", f.path, err)
		}
	}
	return nil
}

// ReadLongTerm returns the MEMORY.md contents. Missing file reads as
// empty.
func (s *Store) ReadLongTerm() string {
	data, err := os.ReadFile(s.ws.MemoryFile())
	if err != nil {
		return ""
	}
	return string(data)
}

// WriteLongTerm atomically replaces MEMORY.md.
func (s *Store) WriteLongTerm(content string) error {
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return store.AtomicWrite(s.ws.MemoryFile(), []byte(content))
}

// UpdateSection replaces a "## heading" section of MEMORY.md, or
// appends it when the heading is not present yet. The heading is
// matched exactly, without the "## " prefix.
func (s *Store) UpdateSection(heading, body string) error {
	heading = strings.TrimSpace(heading)
	if heading == "" {
		return fmt.Errorf("empty section heading")
	}
	body = strings.TrimSpace(body)

	current := s.ReadLongTerm()
	section := fmt.Sprintf("## %s\n\n%s\n", heading, body)

	parts := strings.Split(current, "\n## ")
	replaced := false
	for i := 1; i < len(parts); i++ {
		name, _, _ := strings.Cut(parts[i], "\n")
		if strings.TrimSpace(name) == heading {
			parts[i] = fmt.Sprintf("%s\n\n%s\n", heading, body)
			replaced = true
			break
		}
	}

	var next string
	if replaced {
		next = strings.Join(parts, "\n## ")
	} else {
		next = strings.TrimRight(current, "\n") + "\n\n" + section
	}
	return s.WriteLongTerm(next)
}

// AppendHistory adds a dated section to HISTORY.md.
func (s *Store) AppendHistory(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}
	if err := s.EnsureSeeded(); err != nil {
		return err
	}

	stamp := time.Now().UTC().Format("2006-01-02 15:04")
	section := fmt.Sprintf("\n## [%s]\n\n%s\n", stamp, entry)

	if err := store.AppendText(s.ws.HistoryFile(), []byte(section)); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// SearchHistory returns the dated sections whose text contains query,
// case-insensitively. An empty query matches nothing.
func (s *Store) SearchHistory(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	data, err := os.ReadFile(s.ws.HistoryFile())
	if err != nil {
		return nil
	}

	var hits []string
	for _, section := range strings.Split(string(data), "\n## ") {
		if strings.Contains(strings.ToLower(section), query) && strings.HasPrefix(section, "[") {
			hits = append(hits, "## "+strings.TrimSpace(section))
		}
	}
	return hits
}
