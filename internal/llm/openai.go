package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nugget/nova-agent/internal/httpkit"
)

// OpenAIClient speaks the OpenAI chat-completions wire format. Any
// compatible endpoint works: OpenRouter, Ollama's /v1 surface, vLLM,
// llama.cpp server, or the real thing.
type OpenAIClient struct {
	baseURL     string
	apiKey      string
	temperature float64
	maxTokens   int
	logger      *slog.Logger
	httpClient  *http.Client
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	BaseURL     string // e.g. "https://openrouter.ai/api/v1"
	APIKey      string
	Temperature float64
	MaxTokens   int
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(logger *slog.Logger, cfg OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger.With("component", "llm"),
		// Zero overall timeout: large tool-calling completions and
		// streams can legitimately run for minutes. The transport's
		// dial/TLS/header timeouts still bound a dead peer. Local
		// providers restart often enough that connect-refused gets a
		// short retry.
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// Wire types for the chat-completions format.

type oaRequest struct {
	Model       string           `json:"model"`
	Messages    []oaMessage      `json:"messages"`
	Tools       []map[string]any `json:"tools,omitempty"`
	Stream      bool             `json:"stream"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	Name       string       `json:"name,omitempty"`
}

type oaToolCall struct {
	// Index orders tool-call fragments across stream chunks.
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
	} `json:"function"`
}

type oaResponse struct {
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      oaMessage `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type oaStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string       `json:"content"`
			ToolCalls []oaToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends a non-streaming chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	resp, err := c.post(ctx, model, messages, tools, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire oaResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &ProviderError{Provider: "openai", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(wire.Choices) == 0 {
		return nil, &ProviderError{Provider: "openai", Err: fmt.Errorf("response has no choices")}
	}

	out := &ChatResponse{
		Model:        wire.Model,
		CreatedAt:    time.Unix(wire.Created, 0),
		Message:      fromWireMessage(wire.Choices[0].Message),
		Done:         true,
		InputTokens:  wire.Usage.PromptTokens,
		OutputTokens: wire.Usage.CompletionTokens,
	}
	return out, nil
}

// ChatStream sends a streaming chat request, delivering tokens to
// callback as SSE chunks arrive. Tool-call fragments are assembled
// across chunks and reported on the final response.
func (c *OpenAIClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	if callback == nil {
		return c.Chat(ctx, model, messages, tools)
	}

	resp, err := c.post(ctx, model, messages, tools, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	final := &ChatResponse{Model: model, Done: true, CreatedAt: time.Now()}
	var content strings.Builder
	// Partial tool calls accumulate by stream index.
	partial := map[int]*oaToolCall{}
	argBufs := map[int]*strings.Builder{}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk oaStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Debug("skipping unparseable stream chunk", "error", err)
			continue
		}
		if chunk.Usage != nil {
			final.InputTokens = chunk.Usage.PromptTokens
			final.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			callback(StreamEvent{Kind: KindToken, Token: delta.Content})
		}
		for i, tc := range delta.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			if existing, ok := partial[idx]; ok {
				if tc.Function.Name != "" {
					existing.Function.Name = tc.Function.Name
				}
				if tc.ID != "" {
					existing.ID = tc.ID
				}
			} else {
				cp := tc
				partial[idx] = &cp
				argBufs[idx] = &strings.Builder{}
			}
			// Argument fragments arrive as raw string pieces.
			var frag string
			if len(tc.Function.Arguments) > 0 {
				if err := json.Unmarshal(tc.Function.Arguments, &frag); err != nil {
					frag = string(tc.Function.Arguments)
				}
				argBufs[idx].WriteString(frag)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ProviderError{Provider: "openai", Err: fmt.Errorf("read stream: %w", err)}
	}

	final.Message = Message{Role: "assistant", Content: content.String()}
	indexes := make([]int, 0, len(partial))
	for idx := range partial {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		wc := partial[idx]
		var call ToolCall
		call.ID = wc.ID
		call.Function.Name = wc.Function.Name
		call.Function.Arguments = NormalizeArguments(json.RawMessage(argBufs[idx].String()))
		final.Message.ToolCalls = append(final.Message.ToolCalls, call)
	}

	callback(StreamEvent{Kind: KindDone, Response: final})
	return final, nil
}

// Ping checks if the endpoint is reachable.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Provider: "openai", Err: err}
	}
	httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode >= 500 {
		return &ProviderError{Provider: "openai", StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *OpenAIClient) post(ctx context.Context, model string, messages []Message, tools []map[string]any, stream bool) (*http.Response, error) {
	wire := oaRequest{
		Model:       model,
		Messages:    toWireMessages(messages),
		Tools:       tools,
		Stream:      stream,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "chat request", "payload", string(body))

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 2048)
		return nil, &ProviderError{Provider: "openai", StatusCode: resp.StatusCode, Body: errBody}
	}
	return resp, nil
}

func toWireMessages(messages []Message) []oaMessage {
	out := make([]oaMessage, len(messages))
	for i, m := range messages {
		wm := oaMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			var wc oaToolCall
			wc.ID = tc.ID
			wc.Type = "function"
			wc.Function.Name = tc.Function.Name
			args, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			wc.Function.Arguments = args
			wm.ToolCalls = append(wm.ToolCalls, wc)
		}
		out[i] = wm
	}
	return out
}

func fromWireMessage(wm oaMessage) Message {
	m := Message{
		Role:       wm.Role,
		Content:    wm.Content,
		ToolCallID: wm.ToolCallID,
		Name:       wm.Name,
	}
	for _, wc := range wm.ToolCalls {
		var call ToolCall
		call.ID = wc.ID
		call.Function.Name = wc.Function.Name
		call.Function.Arguments = NormalizeArguments(wc.Function.Arguments)
		m.ToolCalls = append(m.ToolCalls, call)
	}
	return m
}
