package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/nova-agent/internal/facts"
)

// RegisterMemoryTools adds remember/recall/forget over the fact store.
// Facts belong to the user of the originating conversation, taken from
// the tool call's context.
func RegisterMemoryTools(r *Registry, store *facts.Store) {
	r.Register(&Tool{
		Name:        "remember",
		Description: "Store a fact about the user for later recall. Use for stable preferences, details, and commitments worth keeping.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type":        "string",
					"description": "The fact to remember, as a short self-contained sentence.",
				},
				"type": map[string]any{
					"type":        "string",
					"description": "Fact category: preference, identity, project, or general. Default: general.",
				},
			},
			"required": []string{"content"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			content, _ := args["content"].(string)
			factType, _ := args["type"].(string)
			if factType == "" {
				factType = "general"
			}
			owner := ConversationFromContext(ctx).UserID
			id, err := store.Add(ctx, owner, content, factType, nil, nil)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Remembered (id: %s): %s", id, content), nil
		},
	})

	r.Register(&Tool{
		Name:        "recall",
		Description: "Search stored facts about the user by meaning. Returns the most relevant facts with their similarity scores.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look for.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum facts to return (default 5).",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			limit := intArg(args, "limit")
			if limit <= 0 {
				limit = 5
			}

			owner := ConversationFromContext(ctx).UserID
			matches, err := store.Search(ctx, owner, query, facts.SearchOptions{TopK: limit})
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return "No matching facts found.", nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Found %d fact(s):\n", len(matches))
			for _, m := range matches {
				fmt.Fprintf(&b, "- [%s, %.2f] %s (id: %s)\n", m.Fact.Type, m.Score, m.Fact.Content, m.Fact.ID)
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	})

	r.Register(&Tool{
		Name:        "forget",
		Description: "Remove a stored fact by its ID. Use recall first to find the ID.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{
					"type":        "string",
					"description": "The fact ID to remove.",
				},
			},
			"required": []string{"id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id, _ := args["id"].(string)
			removed, err := store.Remove(ConversationFromContext(ctx).UserID, id)
			if err != nil {
				return "", err
			}
			if !removed {
				return fmt.Sprintf("No fact with id %s.", id), nil
			}
			return fmt.Sprintf("Forgot fact %s.", id), nil
		},
	})
}
