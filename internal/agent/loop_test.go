package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/nova-agent/internal/bus"
	"github.com/nugget/nova-agent/internal/llm"
	"github.com/nugget/nova-agent/internal/memory"
	"github.com/nugget/nova-agent/internal/paths"
	"github.com/nugget/nova-agent/internal/prompts"
	"github.com/nugget/nova-agent/internal/session"
	"github.com/nugget/nova-agent/internal/tools"
)

// mockLLM replays scripted responses and records every request.
type mockLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	calls     [][]llm.Message
	err       error
}

func (m *mockLLM) Chat(ctx context.Context, model string, messages []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make([]llm.Message, len(messages))
	copy(snapshot, messages)
	m.calls = append(m.calls, snapshot)

	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "ok"}}, nil
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

func (m *mockLLM) ChatStream(ctx context.Context, model string, messages []llm.Message, tools []map[string]any, _ llm.StreamCallback) (*llm.ChatResponse, error) {
	return m.Chat(ctx, model, messages, tools)
}

func (m *mockLLM) Ping(ctx context.Context) error { return nil }

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockLLM) call(i int) []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: content}}
}

func toolCallResponse(id, name string, args map[string]any) *llm.ChatResponse {
	call := llm.ToolCall{ID: id}
	call.Function.Name = name
	call.Function.Arguments = args
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{call}}}
}

type testEnv struct {
	loop     *Loop
	sessions *session.Manager
	memStore *memory.Store
	registry *tools.Registry
	bus      *bus.Bus
}

func newTestEnv(t *testing.T, client llm.Client, cfg Config) *testEnv {
	t.Helper()
	ws, err := paths.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewManager(logger, ws)
	memStore := memory.NewStore(logger, ws)
	registry := tools.NewRegistry(logger)
	b := bus.New(8)

	loop := NewLoop(logger, cfg, ws, client, registry, sessions, memStore, nil, nil, b)
	return &testEnv{loop: loop, sessions: sessions, memStore: memStore, registry: registry, bus: b}
}

func inbound(content string) bus.InboundMessage {
	return bus.InboundMessage{Channel: "test", SenderID: "alice", ChatID: "1", Content: content}
}

func TestProcess_PlainAnswer(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{textResponse("Hello there")}}
	env := newTestEnv(t, mock, Config{})

	got := env.loop.Process(context.Background(), inbound("hi"))
	if got != "Hello there" {
		t.Fatalf("reply = %q", got)
	}
	if mock.callCount() != 1 {
		t.Fatalf("LLM called %d times", mock.callCount())
	}

	sess := env.sessions.GetOrCreate("test:1")
	if len(sess.Messages) != 2 {
		t.Fatalf("session has %d messages", len(sess.Messages))
	}
	if sess.Messages[0].Role != "user" || sess.Messages[0].Content != "hi" {
		t.Errorf("first message = %+v", sess.Messages[0])
	}
	if sess.Messages[1].Role != "assistant" || sess.Messages[1].Content != "Hello there" {
		t.Errorf("second message = %+v", sess.Messages[1])
	}
}

func TestProcess_RemembersAcrossTurns(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		textResponse("Nice, blue it is."),
		textResponse("Your favorite color is blue."),
	}}
	env := newTestEnv(t, mock, Config{})
	ctx := context.Background()

	env.loop.Process(ctx, inbound("my favorite color is blue"))
	env.loop.Process(ctx, inbound("what is my favorite color?"))

	// The second request must carry the first exchange.
	secondCall := mock.call(1)
	var sawStatement, sawReply bool
	for _, m := range secondCall {
		if m.Content == "my favorite color is blue" {
			sawStatement = true
		}
		if m.Content == "Nice, blue it is." {
			sawReply = true
		}
	}
	if !sawStatement || !sawReply {
		t.Fatalf("prior turn missing from context: statement=%v reply=%v", sawStatement, sawReply)
	}
	if secondCall[0].Role != "system" {
		t.Errorf("first context message role = %q", secondCall[0].Role)
	}
}

func TestProcess_ToolCallFlow(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCallResponse("call_1", "get_time", map[string]any{}),
		textResponse("It is noon."),
	}}
	env := newTestEnv(t, mock, Config{})
	env.registry.Register(&tools.Tool{
		Name:        "get_time",
		Description: "current time",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "12:00", nil
		},
	})

	got := env.loop.Process(context.Background(), inbound("what time is it?"))
	if got != "It is noon." {
		t.Fatalf("reply = %q", got)
	}

	// Second request carries the assistant tool call and its result,
	// correlated by call ID.
	second := mock.call(1)
	last := second[len(second)-1]
	if last.Role != "tool" || last.Content != "12:00" || last.ToolCallID != "call_1" || last.Name != "get_time" {
		t.Fatalf("tool result message = %+v", last)
	}

	sess := env.sessions.GetOrCreate("test:1")
	assistant := sess.Messages[len(sess.Messages)-1]
	if len(assistant.ToolsUsed) != 1 || assistant.ToolsUsed[0] != "get_time" {
		t.Fatalf("ToolsUsed = %v", assistant.ToolsUsed)
	}
}

func TestProcess_ToolErrorFedBackAsString(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCallResponse("call_1", "flaky", map[string]any{}),
		textResponse("That did not work."),
	}}
	env := newTestEnv(t, mock, Config{})
	env.registry.Register(&tools.Tool{
		Name:       "flaky",
		Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", fmt.Errorf("upstream unavailable")
		},
	})

	got := env.loop.Process(context.Background(), inbound("try it"))
	if got != "That did not work." {
		t.Fatalf("reply = %q", got)
	}

	second := mock.call(1)
	last := second[len(second)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "Error executing flaky") {
		t.Fatalf("tool error message = %+v", last)
	}
}

func TestProcess_IterationLimit(t *testing.T) {
	// The model asks for a tool on every single round.
	loopForever := toolCallResponse("call_x", "noop", map[string]any{})
	mock := &mockLLM{responses: []*llm.ChatResponse{loopForever}}
	env := newTestEnv(t, mock, Config{MaxIterations: 10})
	env.registry.Register(&tools.Tool{
		Name:       "noop",
		Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "done", nil
		},
	})

	got := env.loop.Process(context.Background(), inbound("loop"))
	if got != prompts.IterationLimitApology {
		t.Fatalf("reply = %q", got)
	}
	if mock.callCount() != 10 {
		t.Fatalf("LLM called %d times, want exactly 10", mock.callCount())
	}
}

func TestProcess_LLMErrorBecomesApology(t *testing.T) {
	mock := &mockLLM{err: fmt.Errorf("connection refused")}
	env := newTestEnv(t, mock, Config{})

	got := env.loop.Process(context.Background(), inbound("hi"))
	if !strings.HasPrefix(got, prompts.ErrorApologyPrefix) || !strings.Contains(got, "connection refused") {
		t.Fatalf("reply = %q", got)
	}

	// The failed exchange is still recorded.
	sess := env.sessions.GetOrCreate("test:1")
	if len(sess.Messages) != 2 {
		t.Fatalf("session has %d messages", len(sess.Messages))
	}
}

func TestProcess_EmptyResponseFallback(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{textResponse("")}}
	env := newTestEnv(t, mock, Config{})

	got := env.loop.Process(context.Background(), inbound("hi"))
	if got != prompts.EmptyResponseFallback {
		t.Fatalf("reply = %q", got)
	}
}

func TestProcess_WindowBoundsContext(t *testing.T) {
	mock := &mockLLM{}
	env := newTestEnv(t, mock, Config{MemoryWindow: 4})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		env.loop.Process(ctx, inbound(fmt.Sprintf("message %d", i)))
	}

	// Last call: system + window(4) + current user message.
	last := mock.call(mock.callCount() - 1)
	if len(last) != 6 {
		t.Fatalf("context size = %d, want 6", len(last))
	}
	if last[0].Role != "system" {
		t.Errorf("context[0].Role = %q", last[0].Role)
	}
}

func TestProcess_SchedulesConsolidation(t *testing.T) {
	mock := &mockLLM{}
	env := newTestEnv(t, mock, Config{MemoryWindow: 4})

	completer := memory.CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
		return `{"history_entry": "Talked through several messages.", "memory_update": ""}`, nil
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.loop.consolidator = memory.NewConsolidator(logger, env.memStore, env.sessions, completer, memory.ConsolidatorConfig{
		KeepRecent:  2,
		MinMessages: 2,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		env.loop.Process(ctx, inbound(fmt.Sprintf("message %d", i)))
	}
	env.loop.consolidator.Wait()

	sess := env.sessions.GetOrCreate("test:1")
	if sess.LastConsolidated == 0 {
		t.Fatal("consolidation never ran")
	}
	entries := env.memStore.SearchHistory("several messages")
	if len(entries) == 0 {
		t.Fatal("history entry not written")
	}
}

func TestStartStop_BusRoundTrip(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{textResponse("pong")}}
	env := newTestEnv(t, mock, Config{})

	ctx := context.Background()
	env.loop.Start(ctx)
	defer env.loop.Stop()

	if err := env.bus.PublishInbound(ctx, inbound("ping")); err != nil {
		t.Fatalf("PublishInbound: %v", err)
	}

	out, err := env.bus.ConsumeOutbound(ctx)
	if err != nil {
		t.Fatalf("ConsumeOutbound: %v", err)
	}
	if out.Content != "pong" || out.Channel != "test" || out.ChatID != "1" {
		t.Fatalf("outbound = %+v", out)
	}
}
