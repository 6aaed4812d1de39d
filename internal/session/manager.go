// Package session persists conversations. Each session is one JSON
// document on disk, cached in memory and written through on every
// mutation so a crash never loses more than the write in flight.
package session

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nugget/nova-agent/internal/paths"
	"github.com/nugget/nova-agent/internal/store"
)

// Message is one conversation turn.
type Message struct {
	Role      string   `json:"role"` // user, assistant, system, tool
	Content   string   `json:"content"`
	Timestamp string   `json:"timestamp"`
	ToolsUsed []string `json:"tools_used,omitempty"`
}

// Session is a conversation with one counterpart, keyed by
// "channel:chat_id". Messages are append-only; LastConsolidated marks
// how many of them the consolidator has already summarized.
type Session struct {
	Key              string    `json:"key"`
	Messages         []Message `json:"messages"`
	LastConsolidated int       `json:"last_consolidated"`
	CreatedAt        string    `json:"created_at"`
	UpdatedAt        string    `json:"updated_at"`
}

// Unconsolidated returns how many messages have not been summarized.
func (s *Session) Unconsolidated() int {
	n := len(s.Messages) - s.LastConsolidated
	if n < 0 {
		return 0
	}
	return n
}

// Manager loads, caches, and saves sessions.
type Manager struct {
	logger *slog.Logger
	ws     *paths.Workspace

	mu    sync.Mutex
	cache map[string]*Session
}

// NewManager creates a session manager rooted at the workspace.
func NewManager(logger *slog.Logger, ws *paths.Workspace) *Manager {
	return &Manager{
		logger: logger.With("component", "session"),
		ws:     ws,
		cache:  make(map[string]*Session),
	}
}

// GetOrCreate returns the session for key, loading it from disk on
// first access. A missing or corrupt file yields a fresh session.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(key)
}

func (m *Manager) getOrCreateLocked(key string) *Session {
	if s, ok := m.cache[key]; ok {
		return s
	}

	s := &Session{}
	if !store.ReadJSON(m.ws.SessionFile(key), s) || s.Key == "" {
		now := time.Now().UTC().Format(time.RFC3339)
		s = &Session{Key: key, CreatedAt: now, UpdatedAt: now}
		m.logger.Debug("new session", "key", key)
	}
	// Stored files may predate a key rename; trust the lookup key.
	s.Key = key
	if s.LastConsolidated > len(s.Messages) {
		s.LastConsolidated = len(s.Messages)
	}

	m.cache[key] = s
	return s
}

// Append adds messages to a session and saves it. It returns the
// message count after the append.
func (m *Manager) Append(key string, msgs ...Message) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreateLocked(key)
	now := time.Now().UTC().Format(time.RFC3339)
	for i := range msgs {
		if msgs[i].Timestamp == "" {
			msgs[i].Timestamp = now
		}
	}
	s.Messages = append(s.Messages, msgs...)
	return len(s.Messages), m.saveLocked(s)
}

// Snapshot returns a copy of a session's messages together with its
// consolidation mark. Callers on other goroutines must use this, not
// the shared Session, to read conversation state.
func (m *Manager) Snapshot(key string) ([]Message, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreateLocked(key)
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	return msgs, s.LastConsolidated
}

// AdvanceConsolidated moves the consolidation mark forward to end and
// saves. The mark never moves backwards and never passes the message
// count.
func (m *Manager) AdvanceConsolidated(key string, end int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreateLocked(key)
	if end > len(s.Messages) {
		end = len(s.Messages)
	}
	if end <= s.LastConsolidated {
		return nil
	}
	s.LastConsolidated = end
	return m.saveLocked(s)
}

// Save writes a session to disk.
func (m *Manager) Save(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(s)
}

func (m *Manager) saveLocked(s *Session) error {
	s.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	m.cache[s.Key] = s
	return store.WriteJSON(m.ws.SessionFile(s.Key), s)
}

// Delete removes a session from the cache and from disk. Deleting a
// session that does not exist is not an error.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cache, key)
	if err := os.Remove(m.ws.SessionFile(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListKeys returns the keys of all persisted sessions, sorted. The key
// stored inside each file is authoritative; sanitization makes the
// filename alone ambiguous.
func (m *Manager) ListKeys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.ws.SessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var s Session
		if store.ReadJSON(filepath.Join(m.ws.SessionsDir(), e.Name()), &s) && s.Key != "" {
			keys = append(keys, s.Key)
		} else {
			keys = append(keys, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Invalidate drops a session from the cache so the next access
// re-reads disk.
func (m *Manager) Invalidate(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, key)
}

// Reset clears a session's messages and consolidation mark, keeping
// the file in place.
func (m *Manager) Reset(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreateLocked(key)
	s.Messages = nil
	s.LastConsolidated = 0
	return m.saveLocked(s)
}
