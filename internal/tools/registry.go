// Package tools defines the tools available to the agent and the
// sandbox they execute inside.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                         `json:"name"`
	Description string                                                         `json:"description"`
	Parameters  map[string]any                                                 `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With("component", "tools"),
		tools:  make(map[string]*Tool),
	}
}

// Register adds a tool to the registry. Re-registering a name replaces
// the previous tool.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions returns all tools in the wire format the completion API
// expects, in registration order.
func (r *Registry) Definitions() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []map[string]any
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name. It never returns a Go error: unknown
// tools, bad arguments, and handler failures all come back as
// descriptive strings so the model can read them and recover.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) string {
	tool := r.Get(name)
	if tool == nil {
		return fmt.Sprintf("Error: unknown tool %q. Available tools: %s",
			name, strings.Join(r.Names(), ", "))
	}

	if msg := validateArgs(tool.Parameters, args); msg != "" {
		return fmt.Sprintf("Error executing %s: %s", name, msg)
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		r.logger.Warn("tool execution failed", "tool", name, "error", err)
		return fmt.Sprintf("Error executing %s: %v", name, err)
	}
	return result
}

// validateArgs checks args against a JSON Schema style parameters
// object: required fields present, declared primitive types match.
// Returns "" when valid.
func validateArgs(schema, args map[string]any) string {
	if schema == nil {
		return ""
	}

	if required, ok := schema["required"].([]string); ok {
		for _, field := range required {
			if _, present := args[field]; !present {
				return fmt.Sprintf("missing required parameter %q", field)
			}
		}
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return ""
	}

	var names []string
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		want, _ := prop["type"].(string)
		if want == "" {
			continue
		}
		if msg := checkType(name, want, args[name]); msg != "" {
			return msg
		}
	}
	return ""
}

func checkType(name, want string, value any) string {
	if value == nil {
		return ""
	}
	ok := false
	switch want {
	case "string":
		_, ok = value.(string)
	case "number":
		ok = isNumber(value)
	case "integer":
		if f, isFloat := value.(float64); isFloat {
			ok = f == float64(int64(f))
		} else {
			switch value.(type) {
			case int, int64:
				ok = true
			}
		}
	case "boolean":
		_, ok = value.(bool)
	case "object":
		_, ok = value.(map[string]any)
	case "array":
		_, ok = value.([]any)
	default:
		return ""
	}
	if !ok {
		return fmt.Sprintf("parameter %q must be a %s, got %T", name, want, value)
	}
	return ""
}

func isNumber(value any) bool {
	switch value.(type) {
	case float64, float32, int, int64:
		return true
	}
	return false
}
