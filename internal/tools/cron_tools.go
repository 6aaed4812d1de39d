package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/nova-agent/internal/cron"
)

// RegisterCronTools adds scheduling tools backed by the cron service.
// Fired jobs deliver their message back to the conversation that
// created them, taken from the tool call's context.
func RegisterCronTools(r *Registry, svc *cron.Service) {
	r.Register(&Tool{
		Name:        "schedule_task",
		Description: "Schedule a future or recurring task. When it fires, the message is handled as if the user had sent it.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Short human-readable name for the task.",
				},
				"message": map[string]any{
					"type":        "string",
					"description": "What to do when the task fires.",
				},
				"schedule_type": map[string]any{
					"type":        "string",
					"description": "One of: once, interval, cron.",
				},
				"at": map[string]any{
					"type":        "string",
					"description": "RFC3339 time for once tasks (e.g., 2025-06-01T09:00:00Z).",
				},
				"every_sec": map[string]any{
					"type":        "integer",
					"description": "Interval in seconds for interval tasks.",
				},
				"expr": map[string]any{
					"type":        "string",
					"description": "Standard 5-field cron expression for cron tasks (e.g., '30 9 * * 1-5').",
				},
				"deliver": map[string]any{
					"type":        "boolean",
					"description": "Send the message to the chat verbatim when the task fires, instead of handling it as a request.",
				},
			},
			"required": []string{"name", "message", "schedule_type"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name, _ := args["name"].(string)
			message, _ := args["message"].(string)
			schedType, _ := args["schedule_type"].(string)
			at, _ := args["at"].(string)
			expr, _ := args["expr"].(string)
			deliver, _ := args["deliver"].(bool)
			conv := ConversationFromContext(ctx)

			id, err := svc.Add(cron.Job{
				Name:         name,
				Message:      message,
				ScheduleType: schedType,
				At:           at,
				EverySec:     int64(intArg(args, "every_sec")),
				Expr:         expr,
				Channel:      conv.Channel,
				ChatID:       conv.ChatID,
				Deliver:      deliver,
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Task %q scheduled (id: %s).", name, id), nil
		},
	})

	r.Register(&Tool{
		Name:        "list_tasks",
		Description: "List all scheduled tasks.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			jobs := svc.List()
			if len(jobs) == 0 {
				return "No scheduled tasks.", nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Found %d task(s):\n", len(jobs))
			for _, j := range jobs {
				fmt.Fprintf(&b, "- %s (id: %s, %s", j.Name, j.ID, j.ScheduleType)
				switch j.ScheduleType {
				case cron.KindOnce:
					fmt.Fprintf(&b, " at %s", j.At)
				case cron.KindInterval:
					fmt.Fprintf(&b, " every %ds", j.EverySec)
				case cron.KindCron:
					fmt.Fprintf(&b, " %q", j.Expr)
				}
				fmt.Fprintf(&b, ", runs: %d)\n", j.RunCount)
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	})

	r.Register(&Tool{
		Name:        "cancel_task",
		Description: "Cancel a scheduled task by its ID.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "string",
					"description": "The task ID to cancel.",
				},
			},
			"required": []string{"task_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			taskID, _ := args["task_id"].(string)
			removed, err := svc.Remove(taskID)
			if err != nil {
				return "", err
			}
			if !removed {
				return "", fmt.Errorf("task not found: %s", taskID)
			}
			return fmt.Sprintf("Task %s cancelled.", taskID), nil
		},
	})
}
