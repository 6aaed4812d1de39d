package tools

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes its input",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return "echo: " + text, nil
		},
	}
}

func TestRegister_GetAndNamesOrder(t *testing.T) {
	r := testRegistry()
	r.Register(echoTool("bravo"))
	r.Register(echoTool("alpha"))

	if r.Get("bravo") == nil || r.Get("alpha") == nil {
		t.Fatal("registered tools not retrievable")
	}
	if r.Get("missing") != nil {
		t.Fatal("Get(missing) should be nil")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "bravo" || names[1] != "alpha" {
		t.Fatalf("Names() = %v, want registration order", names)
	}

	// Re-registering replaces without duplicating.
	r.Register(echoTool("bravo"))
	if got := r.Names(); len(got) != 2 {
		t.Fatalf("re-register duplicated name: %v", got)
	}
}

func TestDefinitions_WireFormat(t *testing.T) {
	r := testRegistry()
	r.Register(echoTool("echo"))

	defs := r.Definitions()
	if len(defs) != 1 {
		t.Fatalf("got %d definitions", len(defs))
	}
	if defs[0]["type"] != "function" {
		t.Errorf("type = %v", defs[0]["type"])
	}
	fn, ok := defs[0]["function"].(map[string]any)
	if !ok {
		t.Fatal("function block missing")
	}
	if fn["name"] != "echo" || fn["description"] != "echoes its input" {
		t.Errorf("function = %v", fn)
	}
	if _, ok := fn["parameters"].(map[string]any); !ok {
		t.Error("parameters missing")
	}
}

func TestExecute_Success(t *testing.T) {
	r := testRegistry()
	r.Register(echoTool("echo"))

	got := r.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	if got != "echo: hi" {
		t.Fatalf("Execute = %q", got)
	}
}

func TestExecute_UnknownToolReturnsString(t *testing.T) {
	r := testRegistry()
	r.Register(echoTool("echo"))

	got := r.Execute(context.Background(), "nope", nil)
	if !strings.Contains(got, "unknown tool") || !strings.Contains(got, "echo") {
		t.Fatalf("Execute(unknown) = %q", got)
	}
}

func TestExecute_MissingRequiredReturnsString(t *testing.T) {
	r := testRegistry()
	r.Register(echoTool("echo"))

	got := r.Execute(context.Background(), "echo", map[string]any{})
	if !strings.Contains(got, "Error executing echo") || !strings.Contains(got, `"text"`) {
		t.Fatalf("Execute = %q", got)
	}
}

func TestExecute_HandlerErrorReturnsString(t *testing.T) {
	r := testRegistry()
	r.Register(&Tool{
		Name: "boom",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", fmt.Errorf("connection refused")
		},
	})

	got := r.Execute(context.Background(), "boom", nil)
	if got != "Error executing boom: connection refused" {
		t.Fatalf("Execute = %q", got)
	}
}

func TestValidateArgs_Types(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"s":   map[string]any{"type": "string"},
			"n":   map[string]any{"type": "number"},
			"i":   map[string]any{"type": "integer"},
			"b":   map[string]any{"type": "boolean"},
			"o":   map[string]any{"type": "object"},
			"arr": map[string]any{"type": "array"},
		},
	}

	valid := map[string]any{
		"s":   "x",
		"n":   1.5,
		"i":   float64(3),
		"b":   true,
		"o":   map[string]any{"k": "v"},
		"arr": []any{1, 2},
	}
	if msg := validateArgs(schema, valid); msg != "" {
		t.Fatalf("valid args rejected: %s", msg)
	}

	cases := []struct {
		name  string
		field string
		value any
	}{
		{"string gets number", "s", 1.0},
		{"number gets string", "n", "1"},
		{"integer gets fraction", "i", 1.5},
		{"boolean gets string", "b", "true"},
		{"object gets array", "o", []any{}},
		{"array gets object", "arr", map[string]any{}},
	}
	for _, tc := range cases {
		args := map[string]any{tc.field: tc.value}
		if msg := validateArgs(schema, args); msg == "" {
			t.Errorf("%s: expected validation failure", tc.name)
		}
	}

	// Undeclared args and nil values pass through.
	if msg := validateArgs(schema, map[string]any{"extra": 42, "s": nil}); msg != "" {
		t.Errorf("lenient cases rejected: %s", msg)
	}
}
