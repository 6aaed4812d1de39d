// Package agent implements the core agent loop: consume a message,
// think in bounded iterations with tool use, reply, remember.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/nova-agent/internal/bus"
	"github.com/nugget/nova-agent/internal/facts"
	"github.com/nugget/nova-agent/internal/llm"
	"github.com/nugget/nova-agent/internal/memory"
	"github.com/nugget/nova-agent/internal/paths"
	"github.com/nugget/nova-agent/internal/prompts"
	"github.com/nugget/nova-agent/internal/session"
	"github.com/nugget/nova-agent/internal/tools"
)

// Config holds the loop's tunables.
type Config struct {
	Model         string
	MaxIterations int // LLM round-trips per message
	MemoryWindow  int // recent messages carried into context
	DefaultUser   string
	FactTopK      int
}

func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.MemoryWindow <= 0 {
		c.MemoryWindow = 50
	}
	if c.DefaultUser == "" {
		c.DefaultUser = "default"
	}
	if c.FactTopK <= 0 {
		c.FactTopK = 5
	}
}

// Loop is the agent. One message is processed end-to-end at a time.
type Loop struct {
	logger       *slog.Logger
	cfg          Config
	ws           *paths.Workspace
	llm          llm.Client
	registry     *tools.Registry
	sessions     *session.Manager
	memStore     *memory.Store
	factStore    *facts.Store
	consolidator *memory.Consolidator
	bus          *bus.Bus

	procMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop creates the agent loop. The fact store and consolidator may
// be nil; the loop degrades to plain chat without them.
func NewLoop(
	logger *slog.Logger,
	cfg Config,
	ws *paths.Workspace,
	client llm.Client,
	registry *tools.Registry,
	sessions *session.Manager,
	memStore *memory.Store,
	factStore *facts.Store,
	consolidator *memory.Consolidator,
	b *bus.Bus,
) *Loop {
	cfg.applyDefaults()
	return &Loop{
		logger:       logger.With("component", "agent"),
		cfg:          cfg,
		ws:           ws,
		llm:          client,
		registry:     registry,
		sessions:     sessions,
		memStore:     memStore,
		factStore:    factStore,
		consolidator: consolidator,
		bus:          b,
	}
}

// Start launches the worker that drains the inbound bus.
func (l *Loop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		l.logger.Info("agent loop started", "model", l.cfg.Model)
		for {
			msg, err := l.bus.ConsumeInbound(ctx)
			if err != nil {
				l.logger.Info("agent loop stopped")
				return
			}

			reply := l.Process(ctx, msg)
			if reply == "" {
				continue
			}
			out := bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: reply,
			}
			if err := l.bus.PublishOutbound(ctx, out); err != nil {
				l.logger.Warn("publish reply", "error", err)
			}
		}
	}()
}

// Stop cancels the worker, waits for it to finish the message in
// flight, and then waits for any pending consolidation passes.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
	if l.consolidator != nil {
		l.consolidator.Wait()
	}
}

// Process handles one inbound message and returns the reply text.
// It never returns an error: every failure becomes an apologetic
// reply so the conversation stays alive.
func (l *Loop) Process(ctx context.Context, msg bus.InboundMessage) (reply string) {
	l.procMu.Lock()
	defer l.procMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic while processing message", "panic", r, "session", msg.SessionKey())
			reply = prompts.ErrorApologyPrefix + fmt.Sprint(r)
		}
	}()

	key := msg.SessionKey()
	userID := msg.SenderID
	if userID == "" {
		userID = l.cfg.DefaultUser
	}
	ctx = tools.WithConversation(ctx, tools.Conversation{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		UserID:  userID,
	})

	l.logger.Info("processing message", "session", key, "chars", len(msg.Content))

	reply, toolsUsed, err := l.converse(ctx, key, userID, msg.Content)
	if err != nil {
		l.logger.Error("message processing failed", "session", key, "error", err)
		reply = prompts.ErrorApologyPrefix + err.Error()
	}

	now := time.Now().UTC().Format(time.RFC3339)
	count, err := l.sessions.Append(key,
		session.Message{Role: "user", Content: msg.Content, Timestamp: now},
		session.Message{Role: "assistant", Content: reply, Timestamp: now, ToolsUsed: toolsUsed},
	)
	if err != nil {
		l.logger.Error("persist session", "session", key, "error", err)
	}

	if l.consolidator != nil && count > l.cfg.MemoryWindow {
		l.consolidator.ScheduleAsync(context.WithoutCancel(ctx), key, false)
	}

	return reply
}

// converse runs the bounded think/act loop for one user message.
func (l *Loop) converse(ctx context.Context, key, userID, content string) (string, []string, error) {
	messages := l.assembleContext(ctx, key, userID, content)
	defs := l.registry.Definitions()

	var toolsUsed []string
	for iter := 0; iter < l.cfg.MaxIterations; iter++ {
		resp, err := l.llm.Chat(ctx, l.cfg.Model, messages, defs)
		if err != nil {
			return "", toolsUsed, err
		}

		if len(resp.Message.ToolCalls) == 0 {
			answer := resp.Message.Content
			if answer == "" {
				answer = prompts.EmptyResponseFallback
			}
			l.logger.Debug("conversation complete", "session", key, "iterations", iter+1, "tools", len(toolsUsed))
			return answer, toolsUsed, nil
		}

		messages = append(messages, resp.Message)
		for _, call := range resp.Message.ToolCalls {
			name := call.Function.Name
			l.logger.Info("tool call", "session", key, "tool", name)
			result := l.registry.Execute(ctx, name, call.Function.Arguments)
			toolsUsed = append(toolsUsed, name)
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
				Name:       name,
			})
		}
	}

	l.logger.Warn("iteration limit reached", "session", key, "limit", l.cfg.MaxIterations)
	return prompts.IterationLimitApology, toolsUsed, nil
}

// assembleContext builds the message list for the model: system
// prompt, the recent conversation window, then the new user message.
func (l *Loop) assembleContext(ctx context.Context, key, userID, content string) []llm.Message {
	var longTerm string
	if l.memStore != nil {
		longTerm = l.memStore.ReadLongTerm()
	}

	var relevant []string
	if l.factStore != nil {
		matches, err := l.factStore.Search(ctx, userID, content, facts.SearchOptions{TopK: l.cfg.FactTopK})
		if err != nil {
			l.logger.Warn("fact search failed", "session", key, "error", err)
		}
		for _, m := range matches {
			relevant = append(relevant, m.Fact.Content)
		}
	}

	messages := []llm.Message{{
		Role:    "system",
		Content: prompts.BuildSystemPrompt(l.ws, longTerm, relevant),
	}}

	recent, _ := l.sessions.Snapshot(key)
	if len(recent) > l.cfg.MemoryWindow {
		recent = recent[len(recent)-l.cfg.MemoryWindow:]
	}
	for _, m := range recent {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	return append(messages, llm.Message{Role: "user", Content: content})
}
