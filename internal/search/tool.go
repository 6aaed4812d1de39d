package search

import (
	"context"
	"fmt"
)

// ToolHandler adapts a Manager to the agent tool Handler signature.
// Results come back as numbered plain text, the shape the model deals
// with best.
func ToolHandler(mgr *Manager) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return "", fmt.Errorf("web_search: query is required")
		}

		opts := Options{Count: 5}
		if n, ok := args["count"].(float64); ok && n > 0 {
			opts.Count = int(n)
		}

		results, err := mgr.Search(ctx, query, opts)
		if err != nil {
			return "", err
		}
		return FormatResults(results, opts.Count), nil
	}
}

// ToolDefinition is the web_search parameter schema.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query.",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "How many results to return (1-10, default 5).",
			},
		},
		"required": []string{"query"},
	}
}
