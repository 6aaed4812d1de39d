// Package llm provides chat-completion client implementations.
package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
	Name       string     `json:"name,omitempty"`         // Tool name on tool responses
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string `json:"id,omitempty"` // Provider-assigned ID for result correlation
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// ChatResponse is the unified response from any provider. Wire format
// conversion happens at the provider boundary.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	InputTokens  int
	OutputTokens int
}

// StreamEvent represents a single event in a streaming response.
// Consumers switch on Kind to determine what data is available.
type StreamEvent struct {
	Kind StreamEventKind

	// Token is set for KindToken events.
	Token string

	// ToolCall is set for KindToolCallStart events.
	ToolCall *ToolCall

	// ToolName and ToolResult are set for KindToolCallDone events.
	ToolName   string
	ToolResult string

	// Response is set for KindDone events (final summary).
	Response *ChatResponse
}

// StreamEventKind identifies the type of stream event.
type StreamEventKind int

const (
	// KindToken is an incremental text token from the model.
	KindToken StreamEventKind = iota

	// KindToolCallStart fires when the model invokes a tool.
	KindToolCallStart

	// KindToolCallDone fires when a tool execution completes.
	KindToolCallDone

	// KindDone signals the stream is complete. Response carries final metadata.
	KindDone
)

// StreamCallback receives streaming events.
type StreamCallback func(event StreamEvent)

// ProviderError reports a failed completion request with enough
// context to decide whether to retry or surface it.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NormalizeArguments coerces tool-call arguments into a map. Providers
// send either a JSON object or a JSON-encoded string; both forms are
// accepted, anything else yields an empty map.
func NormalizeArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		if m == nil {
			m = map[string]any{}
		}
		return m
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if err := json.Unmarshal([]byte(s), &m); err == nil && m != nil {
			return m
		}
	}

	return map[string]any{}
}
