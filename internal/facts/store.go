// Package facts provides Nova's semantic memory: discrete fact records
// with vector embeddings, persisted per owner as individual JSON files
// plus a derived index for fast search.
//
// The individual fact files are canonical. The index is a cache that
// can always be rebuilt from them, which is why the write order is
// fact file first, index second: a crash between the two loses only
// the cache.
package facts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/nova-agent/internal/embeddings"
	"github.com/nugget/nova-agent/internal/paths"
	"github.com/nugget/nova-agent/internal/store"
)

// Fact types. Free-form strings are allowed; these are the common ones.
const (
	TypeGeneral    = "general"
	TypePreference = "preference"
	TypePerson     = "person"
	TypeEvent      = "event"
)

// indexVersion is bumped when the on-disk index schema changes.
const indexVersion = 1

// Fact is a single remembered statement about the world.
type Fact struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id"`
	Content   string         `json:"content"`
	Type      string         `json:"type"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// Match is a search hit with its similarity score.
type Match struct {
	Fact  Fact
	Score float32
}

// SearchOptions tune a semantic search.
type SearchOptions struct {
	// TopK caps the number of results (default 5).
	TopK int
	// MinSimilarity filters out weak matches (default 0, keep all).
	MinSimilarity float32
	// Types restricts results to these fact types. Empty means all.
	Types []string
}

// index is the on-disk derived search structure for one owner.
type index struct {
	Facts       []Fact `json:"facts"`
	LastUpdated string `json:"last_updated"`
	Version     int    `json:"version"`
}

// Store manages fact records and their per-owner indexes. Mutations on
// the same owner are serialized; the encoder may be nil, in which case
// facts are stored without vectors and search falls back to substring
// matching.
type Store struct {
	logger  *slog.Logger
	ws      *paths.Workspace
	encoder embeddings.Encoder

	mu      sync.Mutex
	indexes map[string]*index // owner -> loaded index
}

// NewStore creates a fact store rooted at the workspace.
func NewStore(logger *slog.Logger, ws *paths.Workspace, encoder embeddings.Encoder) *Store {
	return &Store{
		logger:  logger.With("component", "facts"),
		ws:      ws,
		encoder: encoder,
		indexes: make(map[string]*index),
	}
}

// Add stores a fact and returns its ID. When embedding is nil and an
// encoder is configured, the embedding is computed here; encoder
// failure aborts the add so the index never holds a fact the canonical
// file does not.
func (s *Store) Add(ctx context.Context, owner, content, factType string, metadata map[string]any, embedding []float32) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("fact content is empty")
	}
	if factType == "" {
		factType = TypeGeneral
	}

	if embedding == nil && s.encoder != nil {
		vec, err := s.encoder.Encode(ctx, content)
		if err != nil {
			return "", fmt.Errorf("embed fact: %w", err)
		}
		embedding = vec
	}

	fact := Fact{
		ID:        NewID(),
		OwnerID:   owner,
		Content:   content,
		Type:      factType,
		Embedding: embedding,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := store.WriteJSON(s.ws.FactFile(owner, fact.ID), fact); err != nil {
		return "", fmt.Errorf("write fact record: %w", err)
	}

	idx := s.loadIndexLocked(owner)
	upsert(idx, fact)
	if err := s.saveIndexLocked(owner, idx); err != nil {
		return "", err
	}

	s.logger.Debug("fact added", "owner", owner, "id", fact.ID, "type", factType)
	return fact.ID, nil
}

// Remove deletes a fact by ID. Returns false if the owner has no such
// fact. The canonical file is removed first; a crash after that point
// leaves an index entry Rebuild will clear.
func (s *Store) Remove(owner, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.loadIndexLocked(owner)
	pos := -1
	for i, f := range idx.Facts {
		if f.ID == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false, nil
	}

	if err := os.Remove(s.ws.FactFile(owner, id)); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("remove fact record: %w", err)
	}

	idx.Facts = append(idx.Facts[:pos], idx.Facts[pos+1:]...)
	if err := s.saveIndexLocked(owner, idx); err != nil {
		return false, err
	}

	s.logger.Debug("fact removed", "owner", owner, "id", id)
	return true, nil
}

// Get returns a fact by ID.
func (s *Store) Get(owner, id string) (Fact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.loadIndexLocked(owner)
	for _, f := range idx.Facts {
		if f.ID == id {
			return f, true
		}
	}
	return Fact{}, false
}

// All returns every fact for an owner in insertion order.
func (s *Store) All(owner string) []Fact {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.loadIndexLocked(owner)
	out := make([]Fact, len(idx.Facts))
	copy(out, idx.Facts)
	return out
}

// Search finds facts semantically similar to query. Results are sorted
// by descending score; equal scores keep insertion order. Without an
// encoder it degrades to case-insensitive substring matching.
func (s *Store) Search(ctx context.Context, owner, query string, opts SearchOptions) ([]Match, error) {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}

	var queryVec []float32
	if s.encoder != nil {
		vec, err := s.encoder.Encode(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		queryVec = vec
	}

	s.mu.Lock()
	idx := s.loadIndexLocked(owner)
	facts := make([]Fact, len(idx.Facts))
	copy(facts, idx.Facts)
	s.mu.Unlock()

	var matches []Match
	for _, f := range facts {
		if !typeAllowed(f.Type, opts.Types) {
			continue
		}
		var score float32
		if queryVec != nil {
			score = embeddings.CosineSimilarity(queryVec, f.Embedding)
		} else if strings.Contains(strings.ToLower(f.Content), strings.ToLower(query)) {
			score = 1
		}
		if score < opts.MinSimilarity {
			continue
		}
		matches = append(matches, Match{Fact: f, Score: score})
	}

	// Stable sort keeps insertion order for equal scores.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches, nil
}

// Rebuild regenerates an owner's index from the canonical fact files,
// discarding whatever the index previously held. Files that fail to
// parse are skipped.
func (s *Store) Rebuild(owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.ws.FactsDir(owner)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			entries = nil
		} else {
			return 0, fmt.Errorf("read facts dir: %w", err)
		}
	}

	var facts []Fact
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == "index.json" || !strings.HasSuffix(name, ".json") {
			continue
		}
		var f Fact
		if !store.ReadJSON(filepath.Join(dir, name), &f) || f.ID == "" {
			s.logger.Warn("skipping unreadable fact record", "owner", owner, "file", name)
			continue
		}
		facts = append(facts, f)
	}

	// Oldest first so insertion order matches original add order.
	sort.SliceStable(facts, func(i, j int) bool {
		return facts[i].CreatedAt < facts[j].CreatedAt
	})

	idx := &index{Facts: facts, Version: indexVersion}
	if err := s.saveIndexLocked(owner, idx); err != nil {
		return 0, err
	}

	s.logger.Info("fact index rebuilt", "owner", owner, "count", len(facts))
	return len(facts), nil
}

func (s *Store) loadIndexLocked(owner string) *index {
	if idx, ok := s.indexes[owner]; ok {
		return idx
	}
	idx := &index{Version: indexVersion}
	// Missing or corrupt index reads as empty; Rebuild recovers it.
	store.ReadJSON(s.ws.IndexFile(owner), idx)
	s.indexes[owner] = idx
	return idx
}

func (s *Store) saveIndexLocked(owner string, idx *index) error {
	idx.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	idx.Version = indexVersion
	if err := store.WriteJSON(s.ws.IndexFile(owner), idx); err != nil {
		return fmt.Errorf("write fact index: %w", err)
	}
	s.indexes[owner] = idx
	return nil
}

func upsert(idx *index, fact Fact) {
	for i, f := range idx.Facts {
		if f.ID == fact.ID {
			idx.Facts[i] = fact
			return
		}
	}
	idx.Facts = append(idx.Facts, fact)
}

func typeAllowed(t string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if t == a {
			return true
		}
	}
	return false
}

// NewID returns a UUIDv7 string, falling back to v4 if the system
// clock misbehaves.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
