package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nugget/nova-agent/internal/prompts"
	"github.com/nugget/nova-agent/internal/session"
)

// ErrParse is returned when the model's consolidation response cannot
// be interpreted. The pass is abandoned with no state mutated; the
// messages stay unconsolidated and a later pass retries them.
var ErrParse = errors.New("memory: consolidation response unparseable")

// Completer is the slice of the LLM surface consolidation needs.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ConsolidatorConfig controls when and how much gets consolidated.
type ConsolidatorConfig struct {
	// KeepRecent messages stay out of consolidation (default 10).
	KeepRecent int
	// MinMessages is the smallest unconsolidated slice worth a pass
	// (default 5).
	MinMessages int
}

func (c *ConsolidatorConfig) applyDefaults() {
	if c.KeepRecent <= 0 {
		c.KeepRecent = 10
	}
	if c.MinMessages <= 0 {
		c.MinMessages = 5
	}
}

// Consolidator folds conversation slices into HISTORY.md and MEMORY.md
// via an LLM summarization pass. At most one pass runs per session at
// a time; overlapping requests are dropped, not queued, since the next
// trigger will cover the same messages.
type Consolidator struct {
	logger    *slog.Logger
	store     *Store
	sessions  *session.Manager
	completer Completer
	config    ConsolidatorConfig

	mu       sync.Mutex
	inFlight map[string]bool
	wg       sync.WaitGroup
}

// NewConsolidator wires a consolidator.
func NewConsolidator(logger *slog.Logger, store *Store, sessions *session.Manager, completer Completer, cfg ConsolidatorConfig) *Consolidator {
	cfg.applyDefaults()
	return &Consolidator{
		logger:    logger.With("component", "consolidator"),
		store:     store,
		sessions:  sessions,
		completer: completer,
		config:    cfg,
		inFlight:  make(map[string]bool),
	}
}

// consolidationResult is the JSON contract with the model.
type consolidationResult struct {
	HistoryEntry string `json:"history_entry"`
	MemoryUpdate string `json:"memory_update"`
}

// ScheduleAsync starts a consolidation pass in the background if none
// is running for this session. Returns true if a pass was started.
func (c *Consolidator) ScheduleAsync(ctx context.Context, key string, archiveAll bool) bool {
	c.mu.Lock()
	if c.inFlight[key] {
		c.mu.Unlock()
		return false
	}
	c.inFlight[key] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.inFlight, key)
			c.mu.Unlock()
		}()
		if err := c.Consolidate(ctx, key, archiveAll); err != nil {
			c.logger.Warn("consolidation failed", "session", key, "error", err)
		}
	}()
	return true
}

// Wait blocks until all in-flight passes finish. Used on shutdown.
func (c *Consolidator) Wait() { c.wg.Wait() }

// Consolidate runs one pass over a session. With archiveAll, every
// unconsolidated message is summarized and the session is reset;
// otherwise the most recent KeepRecent messages are left in place.
//
// The pass is all-or-nothing: nothing is written until the model's
// response has parsed cleanly.
func (c *Consolidator) Consolidate(ctx context.Context, key string, archiveAll bool) error {
	msgs, last := c.sessions.Snapshot(key)

	end := len(msgs)
	if !archiveAll {
		end -= c.config.KeepRecent
	}
	if end <= last {
		return nil
	}
	slice := msgs[last:end]
	if !archiveAll && len(slice) < c.config.MinMessages {
		return nil
	}

	transcript := FormatTranscript(slice)
	current := c.store.ReadLongTerm()

	raw, err := c.completer.Complete(ctx, prompts.ConsolidationPrompt(current, transcript))
	if err != nil {
		return fmt.Errorf("consolidation completion: %w", err)
	}

	result, err := parseConsolidation(raw)
	if err != nil {
		return err
	}

	if err := c.store.AppendHistory(result.HistoryEntry); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if update := strings.TrimSpace(result.MemoryUpdate); update != "" && update != strings.TrimSpace(current) {
		if err := c.store.WriteLongTerm(result.MemoryUpdate); err != nil {
			return fmt.Errorf("write long-term memory: %w", err)
		}
	}

	if archiveAll {
		if err := c.sessions.Reset(key); err != nil {
			return fmt.Errorf("reset session: %w", err)
		}
	} else {
		if err := c.sessions.AdvanceConsolidated(key, end); err != nil {
			return fmt.Errorf("advance consolidation mark: %w", err)
		}
	}

	c.logger.Info("consolidated session",
		"session", key,
		"messages", len(slice),
		"archive", archiveAll,
	)
	return nil
}

// parseConsolidation interprets the model response, tolerating a
// markdown code fence around the JSON.
func parseConsolidation(raw string) (consolidationResult, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return consolidationResult{}, fmt.Errorf("%w: empty response", ErrParse)
	}

	text = stripFences(text)

	var result consolidationResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return consolidationResult{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if strings.TrimSpace(result.HistoryEntry) == "" {
		return consolidationResult{}, fmt.Errorf("%w: missing history_entry", ErrParse)
	}
	return result, nil
}

// stripFences removes a wrapping ``` or ```json fence.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// FormatTranscript renders messages for the consolidation prompt.
// Each line reads "[timestamp] ROLE [tools: a, b]: content".
func FormatTranscript(messages []session.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString("[")
		sb.WriteString(m.Timestamp)
		sb.WriteString("] ")
		sb.WriteString(strings.ToUpper(m.Role))
		if len(m.ToolsUsed) > 0 {
			sb.WriteString(" [tools: ")
			sb.WriteString(strings.Join(m.ToolsUsed, ", "))
			sb.WriteString("]")
		}
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
